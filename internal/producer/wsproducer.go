package producer

import (
	"context"
	"fmt"
)

// WS is a WebSocket-fed producer: frames arrive from the transport layer
// and are pushed immediately, timestamped at arrival. It has no self-driven
// source loop; Start/Stop only flip the running flag so Status() and the
// node's lifecycle bookkeeping behave like any other producer.
type WS struct {
	base
}

// NewWS constructs a WebSocket-fed producer, used by recorder sessions.
func NewWS(name string) *WS {
	return &WS{base: newBase(name)}
}

func (w *WS) Start(ctx context.Context) error {
	if w.ring == nil {
		return fmt.Errorf("producer %s: no ring buffer attached", w.name)
	}
	w.running.Store(true)
	w.connected.Store(true)
	return nil
}

func (w *WS) Stop() {
	w.running.Store(false)
	w.connected.Store(false)
}

// PushSamples assembles a frame timestamped at arrival and pushes it to the
// bound ring. Called by the transport layer on each received WS binary
// message.
func (w *WS) PushSamples(samples []int16, sampleRate uint32, channels uint16) {
	if !w.running.Load() {
		return
	}
	w.pushFrame(samples, sampleRate, channels)
}
