package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davdef/airlift-node-sub001/internal/pcmframe"
	"github.com/davdef/airlift-node-sub001/internal/peaks"
	"github.com/davdef/airlift-node-sub001/internal/registry"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

func TestManagerStartAllocatesUniqueSession(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg, peaks.New(0, 0))

	s1, err := m.Start(context.Background())
	require.NoError(t, err)
	s2, err := m.Start(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID)

	_, ok := reg.Lookup(registry.FlowKey(s1.ID))
	assert.True(t, ok)

	m.Stop(s1.ID)
	m.Stop(s2.ID)
}

func TestSessionPushFloatSamplesRoundTripsThroughFlow(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg, peaks.New(0, 0))

	sess, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop(sess.ID)

	sess.PushFloatSamples([]float32{1.0, -1.0, 0.5})

	out := sess.OutputBuffer()
	var got []int16
	for i := 0; i < 100; i++ {
		f, ok := out.Pop()
		if ok {
			got = f.Samples
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, got, 3)
	assert.Equal(t, int16(32767), got[0])
	assert.Equal(t, int16(-32767), got[1])
}

func TestManagerStopUnknownSessionErrors(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg, peaks.New(0, 0))
	err := m.Stop("does-not-exist")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

type fakeOpusDecoder struct{ out []int16 }

func (f *fakeOpusDecoder) Decode(data []byte, pcm []int16) (int, error) {
	n := copy(pcm, f.out)
	return n / Channels, nil
}

func TestSessionPushOpusSamplesDecodesAndPushes(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg, peaks.New(0, 0))
	sess, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop(sess.ID)

	dec := &fakeOpusDecoder{out: []int16{11, 22, 33, 44}}
	require.NoError(t, sess.PushOpusSamples(dec, []byte{0x00}, 2))

	out := sess.OutputBuffer()
	var got []int16
	for i := 0; i < 100; i++ {
		f, ok := out.Pop()
		if ok {
			got = f.Samples
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, []int16{11, 22, 33, 44}, got)
}

func TestEchoReaderRegistersAndUnregisters(t *testing.T) {
	reg := registry.New()
	m := NewManager(reg, peaks.New(0, 0))
	sess, err := m.Start(context.Background())
	require.NoError(t, err)
	defer m.Stop(sess.ID)

	r := NewEchoReader(sess.OutputBuffer(), "echo:test")
	_, ok, err := r.Next()
	assert.NoError(t, err)
	assert.False(t, ok)
	r.Close()
}

// TestEchoReaderSkipsBacklogBeyondTolerance models a client that pauses for
// 500ms while the server keeps pushing 100ms frames into the output buffer.
// On resume, the reader must fast-forward past frames older than
// EchoBacklogTolerance rather than hand back a deep backlog.
func TestEchoReaderSkipsBacklogBeyondTolerance(t *testing.T) {
	buf := ring.New("echo-out", 64)
	r := NewEchoReader(buf, "echo:backlog")

	for i := 0; i < 6; i++ {
		buf.Push(pcmframe.Frame{
			UTCNanos:   int64(i) * int64(100*time.Millisecond),
			Samples:    []int16{int16(i)},
			SampleRate: 48000,
			Channels:   1,
		})
	}

	f, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)

	// Frames at ts=0,100,200ms are each more than EchoBacklogTolerance
	// (200ms) older than the newest frame (ts=500ms) and must be skipped;
	// ts=300ms is exactly at the tolerance boundary and is kept.
	assert.Equal(t, int16(3), f.Samples[0])
	assert.GreaterOrEqual(t, r.Skipped(), uint64(3), "at least 200ms worth of frames must be skipped, not queued")

	next, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int16(4), next.Samples[0])
}
