// Package processor implements the stateless ring-to-ring transforms a Flow
// chains together: pass-through, gain, and a batching mixer. Each processor
// reads whatever is currently available from its input ring(s) and writes to
// one output ring; none of them ever block on an empty input, draining
// whatever is available once per tick and moving on regardless.
package processor

import "github.com/davdef/airlift-node-sub001/internal/ring"

// Processor is a pure function over ring buffers: it reads whatever input is
// currently available and writes transformed frames to output, then
// returns. Stateful variants (e.g. Mixer's per-input gain) keep that state
// internally; Process itself is never given extra arguments so a Flow can
// treat every stage the same way.
type Processor interface {
	// Process drains available input and writes to output. It must not
	// block waiting for more input to arrive.
	Process(output *ring.AudioRingBuffer)

	// Name identifies the processor instance for diagnostics.
	Name() string
}

// clampSample saturates v to the int16 range.
func clampSample(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
