package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	bitrate int
	written []int16
}

func (f *fakeEncoder) Encode(pcm []int16, data []byte) (int, error) {
	f.written = append([]int16(nil), pcm...)
	n := copy(data, []byte{0x01, 0x02, 0x03})
	return n, nil
}

func (f *fakeEncoder) SetBitrate(bitrate int) error {
	f.bitrate = bitrate
	return nil
}

type fakeDecoder struct {
	samplesPerChannel int
}

func (f *fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	for i := range pcm[:f.samplesPerChannel] {
		pcm[i] = int16(i)
	}
	return f.samplesPerChannel, nil
}

func TestEncodeFrameReturnsEncodedBytes(t *testing.T) {
	enc := &fakeEncoder{}
	out, err := EncodeFrame(enc, []int16{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, out)
	assert.Equal(t, []int16{1, 2, 3, 4}, enc.written)
}

func TestDecodeFrameReturnsExactSampleCount(t *testing.T) {
	dec := &fakeDecoder{samplesPerChannel: 5}
	pcm, err := DecodeFrame(dec, []byte{0xAA}, 5, 1)
	require.NoError(t, err)
	assert.Len(t, pcm, 5)
}
