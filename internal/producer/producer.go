// Package producer implements the source side of the audio plane: a
// producer writes PcmFrames into one ring buffer at wall-clock cadence.
// Three variants are provided: device/capture, file-loop, and
// WebSocket-fed.
package producer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/davdef/airlift-node-sub001/internal/pcmframe"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

// Status is a snapshot of one producer's health, surfaced through the
// node's aggregate status endpoint.
type Status struct {
	Name             string
	Running          bool
	Connected        bool
	SamplesProcessed uint64
	Errors           uint64
}

// Producer is the contract every source variant implements.
type Producer interface {
	// AttachRingBuffer binds the ring this producer pushes into. Must be
	// called before Start.
	AttachRingBuffer(buf *ring.AudioRingBuffer)

	// Start spawns the producer's source loop in its own goroutine.
	Start(ctx context.Context) error

	// Stop signals the source loop to exit and waits up to a deadline for
	// it to finish.
	Stop()

	Status() Status
}

// StopJoinDeadline bounds how long Stop waits for the source loop to exit
// before logging and detaching.
const StopJoinDeadline = 2 * time.Second

// base holds the fields and helpers common to every producer variant: the
// ring handle, running/connected flags, counters, and the goroutine
// lifecycle. Variants embed base and implement their own source loop.
type base struct {
	name string
	ring *ring.AudioRingBuffer
	log  *slog.Logger

	running   atomic.Bool
	connected atomic.Bool
	samples   atomic.Uint64
	errors    atomic.Uint64

	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup
}

func newBase(name string) base {
	return base{
		name: name,
		log:  slog.With("component", "producer", "name", name),
	}
}

func (b *base) AttachRingBuffer(buf *ring.AudioRingBuffer) { b.ring = buf }

func (b *base) Status() Status {
	return Status{
		Name:             b.name,
		Running:          b.running.Load(),
		Connected:        b.connected.Load(),
		SamplesProcessed: b.samples.Load(),
		Errors:           b.errors.Load(),
	}
}

// stopAndJoin signals the loop to exit and waits up to StopJoinDeadline,
// logging rather than blocking forever on a missed deadline.
func (b *base) stopAndJoin() {
	if !b.running.CompareAndSwap(true, false) {
		return
	}
	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(StopJoinDeadline):
		b.log.Warn("stop: join deadline exceeded, detaching")
	}
}

// newBackOff returns the exponential backoff policy used for recoverable
// producer errors: start at 100ms, cap at 5s, retry indefinitely until Stop
// is called.
func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0 // never give up on its own; Stop is cooperative
	return b
}

func (b *base) pushFrame(samples []int16, sampleRate uint32, channels uint16) {
	f := pcmframe.Frame{
		UTCNanos:   time.Now().UnixNano(),
		Samples:    samples,
		SampleRate: sampleRate,
		Channels:   channels,
	}
	b.ring.Push(f)
	b.samples.Add(uint64(len(samples)))
}
