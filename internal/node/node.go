// Package node implements AirliftNode: build-up/tear-down orchestration and
// status aggregation over a registry of producers and flows, plus the
// control-plane operations the HTTP layer dispatches into.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/davdef/airlift-node-sub001/internal/flow"
	"github.com/davdef/airlift-node-sub001/internal/peaks"
	"github.com/davdef/airlift-node-sub001/internal/producer"
	"github.com/davdef/airlift-node-sub001/internal/registry"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

// StopJoinDeadline bounds how long a whole-node stop waits for every
// producer and flow to finish tearing down.
const StopJoinDeadline = 10 * time.Second

// ErrUnknownFlow is returned by the name-addressed flow control operations.
// ErrUnknownProducer and ErrNotRunning are declared but not returned by any
// Node method.
var (
	ErrUnknownFlow     = errors.New("node: unknown flow")
	ErrUnknownProducer = errors.New("node: unknown producer")
	ErrAlreadyRunning  = errors.New("node: already running")
	ErrNotRunning      = errors.New("node: not running")
)

// ConfigurationIssue is a pass-through diagnostic surfaced by an external
// config loader and carried in status without interpretation by the node.
type ConfigurationIssue struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ProducerStatus and FlowStatus are the per-component entries in Status.
type ProducerStatus struct {
	Name             string `json:"name"`
	Running          bool   `json:"running"`
	Connected        bool   `json:"connected"`
	SamplesProcessed uint64 `json:"samples_processed"`
	Errors           uint64 `json:"errors"`
}

type FlowStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

type RingBufferStatus struct {
	Capacity            int    `json:"capacity"`
	Fill                int    `json:"fill"`
	DroppedFrames       uint64 `json:"dropped_frames"`
	ReaderSkippedFrames uint64 `json:"reader_skipped_frames"`
}

// Status is the aggregate snapshot exposed via the control surface.
type Status struct {
	Running             bool                 `json:"running"`
	UptimeSeconds       float64              `json:"uptime_seconds"`
	Producers           []ProducerStatus     `json:"producers"`
	Flows               []FlowStatus         `json:"flows"`
	RingBuffer          RingBufferStatus     `json:"ringbuffer"`
	TimestampMillis     int64                `json:"timestamp_ms"`
	Modules             []string             `json:"modules,omitempty"`
	InactiveModules     []string             `json:"inactive_modules,omitempty"`
	ConfigurationIssues []ConfigurationIssue `json:"configuration_issues,omitempty"`
}

// namedProducer pairs a producer with the registry name it was registered
// under, since producer.Producer itself has no notion of its own name.
type namedProducer struct {
	name string
	p    producer.Producer
	buf  *ring.AudioRingBuffer
}

// Node owns a registry, a set of producers, and a set of flows, and
// coordinates their lifecycle as one unit.
type Node struct {
	reg     *registry.Registry
	history *peaks.History
	log     *slog.Logger

	mu        sync.Mutex
	running   bool
	startedAt time.Time

	producers []namedProducer
	flows     []*flow.Flow

	// configurationIssues is populated by the external config loader and
	// surfaced verbatim in Status; the node never interprets it.
	configurationIssues []ConfigurationIssue
}

// New constructs an empty node bound to reg and history.
func New(reg *registry.Registry, history *peaks.History) *Node {
	return &Node{
		reg:     reg,
		history: history,
		log:     slog.With("component", "node"),
	}
}

// AddProducer registers p's ring buffer under producer:<name> and queues p
// for start on the next Start call.
func (n *Node) AddProducer(name string, p producer.Producer, buf *ring.AudioRingBuffer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p.AttachRingBuffer(buf)
	n.reg.Register(registry.ProducerKey(name), buf)
	n.producers = append(n.producers, namedProducer{name: name, p: p, buf: buf})
}

// AddFlow queues f for start on the next Start call.
func (n *Node) AddFlow(f *flow.Flow) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.flows = append(n.flows, f)
}

// Start brings the node up: all producers first, then all flows, so every
// flow's input rings already have a live writer when it begins reading.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}
	producers := append([]namedProducer(nil), n.producers...)
	flows := append([]*flow.Flow(nil), n.flows...)
	n.mu.Unlock()

	for _, np := range producers {
		if err := np.p.Start(ctx); err != nil {
			n.log.Error("producer start failed", "producer", np.name, "err", err)
		}
	}
	for _, f := range flows {
		if err := f.Start(ctx); err != nil {
			n.log.Error("flow start failed", "err", err)
		}
	}

	n.mu.Lock()
	n.running = true
	n.startedAt = time.Now()
	n.mu.Unlock()
	return nil
}

// Stop tears the node down: flows in reverse start order, then producers,
// then the registry is cleared.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	flows := append([]*flow.Flow(nil), n.flows...)
	producers := append([]namedProducer(nil), n.producers...)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for i := len(flows) - 1; i >= 0; i-- {
			flows[i].Stop()
		}
		for _, np := range producers {
			np.p.Stop()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(StopJoinDeadline):
		n.log.Warn("stop: join deadline exceeded, detaching")
	}

	n.reg.Clear()

	n.mu.Lock()
	n.running = false
	n.mu.Unlock()
}

// Restart stops then starts the node.
func (n *Node) Restart(ctx context.Context) error {
	n.Stop()
	return n.Start(ctx)
}

// Reset discards every queued producer and flow so the node can be rebuilt
// from a freshly loaded config via AddProducer/AddFlow, as cmd/airliftd's
// config-reload path and the config.reload/config.import control actions
// do. Must be called while the node is stopped; it does not itself stop a
// running node.
func (n *Node) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.producers = nil
	n.flows = nil
}

func (n *Node) flowByName(name string) (*flow.Flow, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, f := range n.flows {
		if f.Name() == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, name)
}

// StartFlow, StopFlow, RestartFlow address a single flow by name for the
// flow.start|flow.stop|flow.restart control actions.
func (n *Node) StartFlow(ctx context.Context, name string) error {
	f, err := n.flowByName(name)
	if err != nil {
		return err
	}
	return f.Start(ctx)
}

func (n *Node) StopFlow(name string) error {
	f, err := n.flowByName(name)
	if err != nil {
		return err
	}
	f.Stop()
	return nil
}

func (n *Node) RestartFlow(ctx context.Context, name string) error {
	f, err := n.flowByName(name)
	if err != nil {
		return err
	}
	f.Stop()
	return f.Start(ctx)
}

// Status snapshots the node's current health.
func (n *Node) Status() Status {
	n.mu.Lock()
	running := n.running
	startedAt := n.startedAt
	producers := append([]namedProducer(nil), n.producers...)
	flows := append([]*flow.Flow(nil), n.flows...)
	issues := append([]ConfigurationIssue(nil), n.configurationIssues...)
	n.mu.Unlock()

	var uptime float64
	if running {
		uptime = time.Since(startedAt).Seconds()
	}

	pStatuses := lo.Map(producers, func(np namedProducer, _ int) ProducerStatus {
		s := np.p.Status()
		return ProducerStatus{
			Name:             np.name,
			Running:          s.Running,
			Connected:        s.Connected,
			SamplesProcessed: s.SamplesProcessed,
			Errors:           s.Errors,
		}
	})

	fStatuses := lo.Map(flows, func(f *flow.Flow, _ int) FlowStatus {
		return FlowStatus{Name: f.Name(), Running: f.State() == flow.Running}
	})

	ringStats := lo.Map(producers, func(np namedProducer, _ int) ring.Stats { return np.buf.Stats() })
	ringStats = append(ringStats, lo.FilterMap(flows, func(f *flow.Flow, _ int) (ring.Stats, bool) {
		out := f.OutputBuffer()
		if out == nil {
			return ring.Stats{}, false
		}
		return out.Stats(), true
	})...)

	capacity := lo.SumBy(ringStats, func(s ring.Stats) int { return s.Capacity })
	fill := lo.SumBy(ringStats, func(s ring.Stats) int { return s.Occupancy })
	dropped := lo.SumBy(ringStats, func(s ring.Stats) uint64 { return s.DroppedFrames })
	skipped := lo.SumBy(ringStats, func(s ring.Stats) uint64 {
		var total uint64
		for _, v := range s.ReaderSkips {
			total += v
		}
		return total
	})

	return Status{
		Running:       running,
		UptimeSeconds: uptime,
		Producers:     pStatuses,
		Flows:         fStatuses,
		RingBuffer: RingBufferStatus{
			Capacity:            capacity,
			Fill:                fill,
			DroppedFrames:       dropped,
			ReaderSkippedFrames: skipped,
		},
		TimestampMillis:     time.Now().UnixMilli(),
		ConfigurationIssues: issues,
	}
}

// SetConfigurationIssues replaces the pass-through diagnostics surfaced in
// Status, called by the HTTP layer after a config.reload or config.import.
func (n *Node) SetConfigurationIssues(issues []ConfigurationIssue) {
	n.mu.Lock()
	n.configurationIssues = issues
	n.mu.Unlock()
}

// History exposes the node's shared peak history, used by the HTTP and
// WebSocket layers to serve range queries and live subscriptions.
func (n *Node) History() *peaks.History { return n.history }

// Registry exposes the node's ring buffer registry.
func (n *Node) Registry() *registry.Registry { return n.reg }
