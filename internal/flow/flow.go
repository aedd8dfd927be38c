// Package flow implements Flow: a processing chain owning its input-merge
// buffer, per-stage intermediate buffers, an output buffer, and one worker.
// The flow is the unit of start/stop and of fan-out to consumers.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davdef/airlift-node-sub001/internal/peaks"
	"github.com/davdef/airlift-node-sub001/internal/pcmframe"
	"github.com/davdef/airlift-node-sub001/internal/processor"
	"github.com/davdef/airlift-node-sub001/internal/registry"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

// State is the flow's lifecycle state.
type State int

const (
	Created State = iota
	Validated
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Validated:
		return "validated"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StageKind discriminates a processor stage's variant.
type StageKind string

const (
	KindPassThrough StageKind = "pass_through"
	KindGain        StageKind = "gain"
	KindMixer       StageKind = "mixer"
)

// MixerInputSpec names one of a mixer stage's inputs and its linear gain.
type MixerInputSpec struct {
	Name string
	Gain float64
}

// StageSpec describes one processor stage before it is bound to concrete
// buffers; Flow resolves these into processor.Processor instances at Start.
type StageSpec struct {
	Name        string
	Kind        StageKind
	Gain        float64          // used when Kind == KindGain
	MixerInputs []MixerInputSpec // used when Kind == KindMixer; producer or flow names
}

// Buffer capacities shared by every flow.
const (
	MergeBufferCapacity  = 1000
	OutputBufferCapacity = 1000
	StageBufferCapacity  = 1000
)

// TickInterval is the worker's fixed schedule.
const TickInterval = 10 * time.Millisecond

// PeakTapInterval bounds peak emission to at most one event per flow per
// ~100ms.
const PeakTapInterval = 100 * time.Millisecond

// StopJoinDeadline bounds how long Stop waits for the worker to exit.
const StopJoinDeadline = 2 * time.Second

// ErrUnresolvedInput is returned by Start when an input ring name doesn't
// resolve in the registry.
var ErrUnresolvedInput = errors.New("flow: unresolved input ring")

// Config describes a flow before it is built: its name, the ring names it
// reads from (resolved via the registry), and its processor chain.
type Config struct {
	Name   string
	Inputs []string
	Stages []StageSpec
}

// Flow is a processing chain from a set of input rings to one output ring,
// run by a dedicated worker goroutine.
type Flow struct {
	cfg Config
	reg *registry.Registry
	log *slog.Logger

	mu    sync.Mutex
	state State

	mergeBuf  *ring.AudioRingBuffer
	stageBufs []*ring.AudioRingBuffer
	outputBuf *ring.AudioRingBuffer
	stages    []processor.Processor

	mixerFirstStage bool

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	history     *peaks.History
	lastPeakTap time.Time
}

// New constructs a flow in the Created state. history receives peak taps;
// it may be nil in tests that don't exercise peak emission.
func New(cfg Config, reg *registry.Registry, history *peaks.History) *Flow {
	if len(cfg.Stages) == 0 {
		cfg.Stages = []StageSpec{{Name: "default", Kind: KindPassThrough}}
	}
	return &Flow{
		cfg:     cfg,
		reg:     reg,
		history: history,
		state:   Created,
		log:     slog.With("component", "flow", "name", cfg.Name),
	}
}

// Name returns the flow's configured name.
func (f *Flow) Name() string { return f.cfg.Name }

// State returns the current lifecycle state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// OutputBuffer returns the flow's current output ring, or nil if the flow
// has never been started. Consumers register their own reader cursor on it.
func (f *Flow) OutputBuffer() *ring.AudioRingBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputBuf
}

// Validate checks every input name resolves in the registry. It does not
// mutate flow state beyond the lifecycle field.
func (f *Flow) Validate() error {
	for _, in := range f.cfg.Inputs {
		if _, err := f.reg.MustLookup(registry.ProducerKey(in)); err != nil {
			if _, err2 := f.reg.MustLookup(registry.FlowKey(in)); err2 != nil {
				return fmt.Errorf("%w: %s", ErrUnresolvedInput, in)
			}
		}
	}
	for _, st := range f.cfg.Stages {
		if st.Kind == KindMixer {
			for _, mi := range st.MixerInputs {
				if _, err := f.resolveNamed(mi.Name); err != nil {
					return err
				}
			}
		}
	}
	f.mu.Lock()
	f.state = Validated
	f.mu.Unlock()
	return nil
}

func (f *Flow) resolveNamed(name string) (*ring.AudioRingBuffer, error) {
	if buf, ok := f.reg.Lookup(registry.ProducerKey(name)); ok {
		return buf, nil
	}
	if buf, ok := f.reg.Lookup(registry.FlowKey(name)); ok {
		return buf, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnresolvedInput, name)
}

// Start validates the flow, builds a fresh set of buffers
// and processor instances, publishes the output buffer in the registry
// under flow:<name>, and spawns the worker. Re-starting a Stopped flow is
// idempotent and yields a brand new output buffer instance, so stale reader
// cursors from a previous run are dropped.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.state == Running {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	if err := f.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	f.mergeBuf = ring.New(f.cfg.Name+":merge", MergeBufferCapacity)
	f.outputBuf = ring.New(f.cfg.Name+":output", OutputBufferCapacity)

	n := len(f.cfg.Stages)
	f.stageBufs = make([]*ring.AudioRingBuffer, n-1)
	for i := range f.stageBufs {
		f.stageBufs[i] = ring.New(fmt.Sprintf("%s:stage%d", f.cfg.Name, i), StageBufferCapacity)
	}

	f.stages = make([]processor.Processor, n)
	f.mixerFirstStage = f.cfg.Stages[0].Kind == KindMixer

	for i, spec := range f.cfg.Stages {
		var input *ring.AudioRingBuffer
		if i > 0 {
			input = f.stageBufs[i-1]
		} else if !f.mixerFirstStage {
			input = f.mergeBuf
		}

		switch spec.Kind {
		case KindPassThrough:
			f.stages[i] = processor.NewPassThrough(spec.Name, input)
		case KindGain:
			f.stages[i] = processor.NewGain(spec.Name, input, spec.Gain)
		case KindMixer:
			mixerInputs := make([]processor.MixerInput, 0, len(spec.MixerInputs))
			for _, mi := range spec.MixerInputs {
				buf, _ := f.resolveNamed(mi.Name)
				mixerInputs = append(mixerInputs, processor.MixerInput{
					Name:     mi.Name,
					Ring:     buf,
					ReaderID: f.cfg.Name + ":mixer:" + mi.Name,
					Gain:     mi.Gain,
				})
			}
			f.stages[i] = processor.NewMixer(spec.Name, mixerInputs)
		}
	}

	// Register merge reader cursors now rather than at the first tick, so
	// frames pushed between Start returning and the worker's first merge
	// pass are observed instead of skipped by a cursor initialized later.
	if !f.mixerFirstStage {
		for _, name := range f.cfg.Inputs {
			if buf, err := f.resolveNamed(name); err == nil {
				buf.RegisterReader(f.cfg.Name + ":merge:" + name)
			}
		}
	}

	f.reg.Register(registry.FlowKey(f.cfg.Name), f.outputBuf)
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.state = Running
	f.mu.Unlock()

	f.running.Store(true)
	go f.run(ctx)
	return nil
}

// run is the worker loop: merge, process each stage, tap for peaks, sleep.
func (f *Flow) run(ctx context.Context) {
	defer close(f.doneCh)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stopCh:
			return
		case <-ticker.C:
		}
		if !f.running.Load() {
			return
		}

		f.mergeStep()

		outputs := f.stageOutputs()
		for i, st := range f.stages {
			st.Process(outputs[i])
		}

		f.tapStep()
	}
}

func (f *Flow) stageOutputs() []*ring.AudioRingBuffer {
	n := len(f.stages)
	outs := make([]*ring.AudioRingBuffer, n)
	for i := 0; i < n; i++ {
		if i < n-1 {
			outs[i] = f.stageBufs[i]
		} else {
			outs[i] = f.outputBuf
		}
	}
	return outs
}

// mergeStep drains every configured flow input into the merge buffer,
// preserving per-input order. Skipped entirely when the first processor
// stage is a mixer, since a mixer reads its named inputs directly to
// preserve per-input identity for timestamp-aligned mixing.
func (f *Flow) mergeStep() {
	if f.mixerFirstStage {
		return
	}
	for _, name := range f.cfg.Inputs {
		buf, err := f.resolveNamed(name)
		if err != nil {
			continue
		}
		readerID := f.cfg.Name + ":merge:" + name
		buf.RegisterReader(readerID)
		for {
			_, fr, ok, err := buf.PopForReader(readerID)
			if err != nil || !ok {
				break
			}
			f.mergeBuf.Push(fr)
		}
	}
}

func (f *Flow) tapStep() {
	if f.history == nil {
		return
	}
	if time.Since(f.lastPeakTap) < PeakTapInterval {
		return
	}
	_, fr, ok := f.outputBuf.Latest()
	if !ok {
		return
	}
	f.lastPeakTap = time.Now()

	peakL, peakR := channelPeaks(fr)
	silence := math.Max(float64(peakL), float64(peakR)) < 1e-3

	f.history.Append(peaks.Sample{
		TSMillis: fr.UTCNanos / int64(time.Millisecond),
		PeakL:    peakL,
		PeakR:    peakR,
		Silence:  silence,
		Flow:     f.cfg.Name,
	})
}

// channelPeaks computes the absolute-max normalized amplitude per channel
// across frame. Channel 0 is treated as left;
// channel 1 (if present) as right; mono frames report the same value on
// both channels.
func channelPeaks(fr pcmframe.Frame) (l, r float32) {
	if fr.Channels == 0 || len(fr.Samples) == 0 {
		return 0, 0
	}
	var maxL, maxR int32
	for i := 0; i < len(fr.Samples); i += int(fr.Channels) {
		if v := abs32(int32(fr.Samples[i])); v > maxL {
			maxL = v
		}
		if fr.Channels > 1 && i+1 < len(fr.Samples) {
			if v := abs32(int32(fr.Samples[i+1])); v > maxR {
				maxR = v
			}
		}
	}
	if fr.Channels == 1 {
		maxR = maxL
	}
	return float32(maxL) / 32768.0, float32(maxR) / 32768.0
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// Stop signals the worker to exit at the next tick boundary and joins
// within StopJoinDeadline; on a missed deadline it logs and detaches. Any
// readers the merge/mixer step registered on input rings are unregistered
// so a subsequent Start doesn't resume stale cursors.
func (f *Flow) Stop() {
	f.mu.Lock()
	if f.state != Running {
		f.mu.Unlock()
		return
	}
	f.state = Stopping
	stopCh := f.stopCh
	doneCh := f.doneCh
	f.mu.Unlock()

	f.running.Store(false)
	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(StopJoinDeadline):
		f.log.Warn("stop: join deadline exceeded, detaching")
	}

	f.unregisterInputReaders()
	f.reg.Unregister(registry.FlowKey(f.cfg.Name))

	f.mu.Lock()
	f.state = Stopped
	f.mu.Unlock()
}

func (f *Flow) unregisterInputReaders() {
	for _, name := range f.cfg.Inputs {
		if buf, err := f.resolveNamed(name); err == nil {
			buf.UnregisterReader(f.cfg.Name + ":merge:" + name)
		}
	}
	for _, spec := range f.cfg.Stages {
		if spec.Kind != KindMixer {
			continue
		}
		for _, mi := range spec.MixerInputs {
			if buf, err := f.resolveNamed(mi.Name); err == nil {
				buf.UnregisterReader(f.cfg.Name + ":mixer:" + mi.Name)
			}
		}
	}
}
