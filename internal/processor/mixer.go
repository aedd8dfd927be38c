package processor

import (
	"time"

	"github.com/davdef/airlift-node-sub001/internal/pcmframe"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

// MaxBatchFrames bounds how many frames per input a single Mixer.Process
// call will drain, amortizing lock and wake-up overhead at multi-kHz frame
// rates.
const MaxBatchFrames = 8

// MixerInput binds one of the mixer's inputs to a ring, the reader id it
// registers on that ring, and its linear gain.
type MixerInput struct {
	Name     string
	Ring     *ring.AudioRingBuffer
	ReaderID string
	Gain     float64
}

// Mixer performs a sample-rate-aligned mix of up to N inputs. Inputs are
// matched by timestamp within half a frame; an input with no frame
// available for the current batch position contributes silence. A batch
// position only emits output if at least one input contributed.
type Mixer struct {
	name   string
	inputs []MixerInput
}

// NewMixer registers a reader cursor on every input ring and returns a
// Mixer ready to run. Reader ids must already be chosen uniquely by the
// caller (the owning Flow).
func NewMixer(name string, inputs []MixerInput) *Mixer {
	for _, in := range inputs {
		in.Ring.RegisterReader(in.ReaderID)
	}
	return &Mixer{name: name, inputs: inputs}
}

func (m *Mixer) Name() string { return m.name }

// frameDuration estimates the wall-clock span one frame covers from its
// sample count and rate, falling back to the 100ms nominal tick when either
// is unset (e.g. a zero-value frame).
func frameDuration(f pcmframe.Frame) time.Duration {
	if f.Channels == 0 || f.SampleRate == 0 {
		return 100 * time.Millisecond
	}
	perChannel := len(f.Samples) / int(f.Channels)
	if perChannel == 0 {
		return 100 * time.Millisecond
	}
	return time.Duration(float64(perChannel) / float64(f.SampleRate) * float64(time.Second))
}

// Process drains each input's ring into a per-input batch (bounded at
// MaxBatchFrames), then walks the batches in timestamp order: at each
// position the earliest not-yet-consumed frame across inputs sets the
// reference time, every input whose next frame's UTCNanos falls within
// half that frame's duration is consumed and mixed in, and every other
// input contributes silence for that position. An input whose next frame
// is further out in the future than the tolerance is left for a later
// position rather than forced into alignment with an unrelated frame.
func (m *Mixer) Process(output *ring.AudioRingBuffer) {
	type batch struct {
		frames []pcmframe.Frame
		pos    int
	}
	batches := make([]batch, len(m.inputs))

	for i, in := range m.inputs {
		for len(batches[i].frames) < MaxBatchFrames {
			_, f, ok, err := in.Ring.PopForReader(in.ReaderID)
			if err != nil || !ok {
				break
			}
			batches[i].frames = append(batches[i].frames, f)
		}
	}

	for {
		refIdx := -1
		var refTime int64
		for i := range batches {
			if batches[i].pos >= len(batches[i].frames) {
				continue
			}
			t := batches[i].frames[batches[i].pos].UTCNanos
			if refIdx == -1 || t < refTime {
				refIdx = i
				refTime = t
			}
		}
		if refIdx == -1 {
			return // every input's batch is exhausted
		}

		refFrame := batches[refIdx].frames[batches[refIdx].pos]
		tolerance := frameDuration(refFrame).Nanoseconds() / 2

		var out pcmframe.Frame
		contributed := false

		for i, in := range m.inputs {
			if batches[i].pos >= len(batches[i].frames) {
				continue
			}
			f := batches[i].frames[batches[i].pos]
			diff := f.UTCNanos - refTime
			if diff < 0 {
				diff = -diff
			}
			if diff > tolerance {
				continue // too far from this slot; wait for a later position
			}
			batches[i].pos++

			if !contributed {
				out = pcmframe.Frame{
					UTCNanos:   refTime,
					Samples:    make([]int16, len(f.Samples)),
					SampleRate: f.SampleRate,
					Channels:   f.Channels,
				}
				contributed = true
			}
			for s := range f.Samples {
				if s >= len(out.Samples) {
					break
				}
				v := int32(out.Samples[s]) + int32(float64(f.Samples[s])*in.Gain)
				out.Samples[s] = clampSample(v)
			}
		}

		if contributed {
			output.Push(out)
		}
	}
}
