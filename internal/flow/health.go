package flow

import "sync/atomic"

// circuitThreshold and probeInterval implement a per-consumer circuit
// breaker: after enough consecutive failures a consumer is skipped, with an
// occasional probe attempt so it can recover once the stall clears.
const (
	circuitThreshold uint32 = 50
	probeInterval    uint32 = 25
)

// ConsumerHealth tracks one fan-out consumer's recent send outcomes and
// implements a lightweight circuit breaker so one wedged consumer (a slow
// recorder echo client, a stalled live-stream reader) never adds latency to
// the flow's own tap step.
type ConsumerHealth struct {
	failures atomic.Uint32
	skips    atomic.Uint32
}

// ShouldSkip reports whether the caller should skip this consumer for the
// current tick.
func (h *ConsumerHealth) ShouldSkip() bool {
	if h.failures.Load() < circuitThreshold {
		return false
	}
	s := h.skips.Add(1)
	return s%probeInterval != 0
}

// RecordFailure increments the consecutive-failure counter.
func (h *ConsumerHealth) RecordFailure() {
	h.failures.Add(1)
}

// RecordSuccess resets the breaker. It returns true if the breaker was open
// (i.e. this success came from a recovery probe).
func (h *ConsumerHealth) RecordSuccess() bool {
	wasOpen := h.failures.Swap(0) >= circuitThreshold
	if wasOpen {
		h.skips.Store(0)
	}
	return wasOpen
}
