package processor

import "github.com/davdef/airlift-node-sub001/internal/ring"

// Gain multiplies every sample by a fixed linear factor, saturating-clamping
// to the int16 range. At g=1.0 it is sample-for-sample idempotent.
type Gain struct {
	name  string
	input *ring.AudioRingBuffer
	g     float64
}

// NewGain binds a gain stage to input with linear multiplier g.
func NewGain(name string, input *ring.AudioRingBuffer, g float64) *Gain {
	return &Gain{name: name, input: input, g: g}
}

func (p *Gain) Name() string { return p.name }

// SetGain updates the multiplier; safe to call concurrently with Process
// only if the caller otherwise serializes flow ticks, matching the rest of
// the processor chain's single-worker-owns-state contract.
func (p *Gain) SetGain(g float64) { p.g = g }

func (p *Gain) Process(output *ring.AudioRingBuffer) {
	for {
		f, ok := p.input.Pop()
		if !ok {
			return
		}
		out := make([]int16, len(f.Samples))
		for i, s := range f.Samples {
			out[i] = clampSample(int32(float64(s) * p.g))
		}
		f.Samples = out
		output.Push(f)
	}
}
