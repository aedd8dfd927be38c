// Package codec adapts Opus encoding/decoding behind small collaborator
// interfaces so tests can inject a fake codec instead of linking libopus.
package codec

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// MaxPacketBytes is the largest possible Opus packet per RFC 6716.
const MaxPacketBytes = 1275

// Encoder abstracts Opus encoding for testing.
type Encoder interface {
	Encode(pcm []int16, data []byte) (int, error)
	SetBitrate(bitrate int) error
}

// Decoder abstracts Opus decoding for testing.
type Decoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// opusEncoder and opusDecoder adapt *opus.Encoder/*opus.Decoder to the
// narrower Encoder/Decoder interfaces above.
type opusEncoder struct{ *opus.Encoder }
type opusDecoder struct{ *opus.Decoder }

// NewEncoder constructs an Opus encoder tuned for voice at the given sample
// rate and channel count, with bitrate in bits/second.
func NewEncoder(sampleRate, channels, bitrate int) (Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("codec: set bitrate: %w", err)
	}
	return opusEncoder{enc}, nil
}

// NewDecoder constructs an Opus decoder for the given sample rate and
// channel count.
func NewDecoder(sampleRate, channels int) (Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: new opus decoder: %w", err)
	}
	return opusDecoder{dec}, nil
}

// EncodeFrame encodes one PCM int16 frame to an Opus packet.
func EncodeFrame(enc Encoder, pcm []int16) ([]byte, error) {
	buf := make([]byte, MaxPacketBytes)
	n, err := enc.Encode(pcm, buf)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf[:n], nil
}

// DecodeFrame decodes one Opus packet into a PCM int16 frame of
// samplesPerChannel*channels capacity.
func DecodeFrame(dec Decoder, data []byte, samplesPerChannel, channels int) ([]int16, error) {
	pcm := make([]int16, samplesPerChannel*channels)
	n, err := dec.Decode(data, pcm)
	if err != nil {
		return nil, fmt.Errorf("codec: decode: %w", err)
	}
	return pcm[:n*channels], nil
}
