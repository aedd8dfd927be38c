package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davdef/airlift-node-sub001/internal/pcmframe"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

func frame(samples ...int16) pcmframe.Frame {
	return pcmframe.Frame{
		UTCNanos:   1000,
		Samples:    samples,
		SampleRate: 48000,
		Channels:   2,
	}
}

func TestPassThroughUnchanged(t *testing.T) {
	in := ring.New("in", 4)
	out := ring.New("out", 4)
	in.Push(frame(100, 200, 300, 400))

	p := NewPassThrough("pt", in)
	p.Process(out)

	f, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, []int16{100, 200, 300, 400}, f.Samples)
}

func TestGainIdempotentAtUnity(t *testing.T) {
	in := ring.New("in", 4)
	out := ring.New("out", 4)
	in.Push(frame(100, -200, 32000, -32000))

	g := NewGain("g", in, 1.0)
	g.Process(out)

	f, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, []int16{100, -200, 32000, -32000}, f.Samples)
}

func TestGainSaturatesOnClamp(t *testing.T) {
	in := ring.New("in", 4)
	out := ring.New("out", 4)
	in.Push(frame(20000, -20000))

	g := NewGain("g", in, 2.0)
	g.Process(out)

	f, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, []int16{32767, -32768}, f.Samples)
}

func TestMixerLinearityUnitGains(t *testing.T) {
	a := ring.New("a", 4)
	b := ring.New("b", 4)
	out := ring.New("out", 4)

	mixer := NewMixer("mix", []MixerInput{
		{Name: "a", Ring: a, ReaderID: "mix:a", Gain: 1.0},
		{Name: "b", Ring: b, ReaderID: "mix:b", Gain: 1.0},
	})

	a.Push(frame(100, 100, 100, 100))
	b.Push(frame(50, 50, 50, 50))

	mixer.Process(out)

	f, ok := out.Pop()
	require.True(t, ok)
	for _, s := range f.Samples {
		assert.Equal(t, int16(150), s)
	}
}

func TestMixerSilenceWhenOneInputMissing(t *testing.T) {
	a := ring.New("a", 4)
	b := ring.New("b", 4)
	out := ring.New("out", 4)

	mixer := NewMixer("mix", []MixerInput{
		{Name: "a", Ring: a, ReaderID: "mix:a", Gain: 1.0},
		{Name: "b", Ring: b, ReaderID: "mix:b", Gain: 1.0},
	})

	a.Push(frame(100, 100))
	// b has nothing to contribute this batch.

	mixer.Process(out)

	f, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, []int16{100, 100}, f.Samples)
}

func TestMixerEmptyWhenNoInputsContribute(t *testing.T) {
	a := ring.New("a", 4)
	b := ring.New("b", 4)
	out := ring.New("out", 4)

	mixer := NewMixer("mix", []MixerInput{
		{Name: "a", Ring: a, ReaderID: "mix:a", Gain: 1.0},
		{Name: "b", Ring: b, ReaderID: "mix:b", Gain: 1.0},
	})
	mixer.Process(out)

	_, ok := out.Pop()
	assert.False(t, ok)
}

// frameAt builds a minimal stereo frame with a 100ms nominal duration
// (SampleRate=10, one sample per channel) so tolerance-window math is easy
// to reason about: half a frame is exactly 50ms.
func frameAt(tsNanos int64, v int16) pcmframe.Frame {
	return pcmframe.Frame{
		UTCNanos:   tsNanos,
		Samples:    []int16{v, v},
		SampleRate: 10,
		Channels:   2,
	}
}

func TestMixerMatchesByTimestampNotByPosition(t *testing.T) {
	a := ring.New("a", 4)
	b := ring.New("b", 4)
	out := ring.New("out", 4)

	mixer := NewMixer("mix", []MixerInput{
		{Name: "a", Ring: a, ReaderID: "mix:a", Gain: 1.0},
		{Name: "b", Ring: b, ReaderID: "mix:b", Gain: 1.0},
	})

	// B's frame arrives 70ms after A's, outside the 50ms (half-frame)
	// tolerance, so it must NOT be paired with A's frame purely because
	// it's both inputs' first queued frame.
	a.Push(frameAt(0, 100))
	b.Push(frameAt(70*int64(time.Millisecond), 40))

	mixer.Process(out)

	first, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, []int16{100, 100}, first.Samples, "A's slot must be silence-padded for B, not mixed with B's later frame")

	second, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, []int16{40, 40}, second.Samples)

	_, ok = out.Pop()
	assert.False(t, ok, "exactly two output positions: A-alone then B-alone")
}

func TestMixerMergesFramesWithinToleranceWindow(t *testing.T) {
	a := ring.New("a", 4)
	b := ring.New("b", 4)
	out := ring.New("out", 4)

	mixer := NewMixer("mix", []MixerInput{
		{Name: "a", Ring: a, ReaderID: "mix:a", Gain: 1.0},
		{Name: "b", Ring: b, ReaderID: "mix:b", Gain: 1.0},
	})

	// 30ms apart is within the 50ms half-frame tolerance: these should
	// land in the same output slot and be summed.
	a.Push(frameAt(0, 100))
	b.Push(frameAt(30*int64(time.Millisecond), 50))

	mixer.Process(out)

	f, ok := out.Pop()
	require.True(t, ok)
	assert.Equal(t, []int16{150, 150}, f.Samples)

	_, ok = out.Pop()
	assert.False(t, ok)
}

func TestMixerBatchBounded(t *testing.T) {
	a := ring.New("a", 32)
	out := ring.New("out", 32)
	mixer := NewMixer("mix", []MixerInput{{Name: "a", Ring: a, ReaderID: "mix:a", Gain: 1.0}})
	for i := 0; i < 20; i++ {
		a.Push(frame(int16(i)))
	}

	mixer.Process(out)

	count := 0
	for {
		_, ok := out.Pop()
		if !ok {
			break
		}
		count++
	}
	assert.Equal(t, MaxBatchFrames, count)
}
