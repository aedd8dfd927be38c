// Package recorder implements recorder sessions: a client-fed WebSocket
// producer paired with a pass-through flow, created on demand and torn down
// on request or disconnect.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davdef/airlift-node-sub001/internal/codec"
	"github.com/davdef/airlift-node-sub001/internal/flow"
	"github.com/davdef/airlift-node-sub001/internal/peaks"
	"github.com/davdef/airlift-node-sub001/internal/pcmframe"
	"github.com/davdef/airlift-node-sub001/internal/producer"
	"github.com/davdef/airlift-node-sub001/internal/registry"
	"github.com/davdef/airlift-node-sub001/internal/ring"
)

// SampleRate and Channels are fixed for every recorder session.
const (
	SampleRate = 48000
	Channels   = 2
)

// EchoBacklogTolerance bounds how far an echo reader may fall behind before
// frames are dropped rather than queued, so a client that pauses for a
// while resumes on fresh audio instead of replaying a backlog.
const EchoBacklogTolerance = 200 * time.Millisecond

// ErrUnknownSession is returned when a session id doesn't resolve.
var ErrUnknownSession = errors.New("recorder: unknown session")

// Session is one recorder session: a WS-fed producer, its ring, and a
// pass-through flow publishing to flow:<ID>.
type Session struct {
	ID string

	producer *producer.WS
	flow     *flow.Flow
}

// Manager creates and tears down recorder sessions against a shared
// registry and peak history.
type Manager struct {
	reg     *registry.Registry
	history *peaks.History
	log     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a session manager bound to reg and history.
func NewManager(reg *registry.Registry, history *peaks.History) *Manager {
	return &Manager{
		reg:      reg,
		history:  history,
		log:      slog.With("component", "recorder"),
		sessions: make(map[string]*Session),
	}
}

// Start allocates a new session: a unique producer_id, a WS-fed producer, a
// ring, and a pass-through flow, then starts both.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	id := uuid.New().String()

	buf := ring.New("producer:"+id, 256)
	p := producer.NewWS(id)
	p.AttachRingBuffer(buf)
	m.reg.Register(registry.ProducerKey(id), buf)

	if err := p.Start(ctx); err != nil {
		m.reg.Unregister(registry.ProducerKey(id))
		return nil, fmt.Errorf("recorder: start producer: %w", err)
	}

	f := flow.New(flow.Config{
		Name:   id,
		Inputs: []string{id},
		Stages: []flow.StageSpec{{Name: "passthrough", Kind: flow.KindPassThrough}},
	}, m.reg, m.history)
	if err := f.Start(ctx); err != nil {
		p.Stop()
		m.reg.Unregister(registry.ProducerKey(id))
		return nil, fmt.Errorf("recorder: start flow: %w", err)
	}

	sess := &Session{ID: id, producer: p, flow: f}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	m.log.Info("recorder session started", "id", id)
	return sess, nil
}

// Lookup resolves an active session by id.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Stop tears a session down: flow, then producer, then registry entries.
// Returns ErrUnknownSession if id is not (or no longer) active.
func (m *Manager) Stop(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	sess.flow.Stop()
	sess.producer.Stop()
	m.reg.Unregister(registry.ProducerKey(id))
	m.log.Info("recorder session stopped", "id", id)
	return nil
}

// PushFloatSamples parses interleaved f32 samples (already decoded from the
// wire by the transport layer), clamps to [-1,1], converts to i16, and
// pushes a timestamped frame into the session's producer.
func (s *Session) PushFloatSamples(samples []float32) {
	out := make([]int16, len(samples))
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(math.Round(float64(v) * 32767))
	}
	s.producer.PushSamples(out, SampleRate, Channels)
}

// PushOpusSamples decodes one Opus packet into PCM via dec and pushes it
// into the session's producer, for clients that send compressed frames over
// /ws/recorder/<id> instead of raw f32 PCM.
func (s *Session) PushOpusSamples(dec codec.Decoder, data []byte, samplesPerChannel int) error {
	pcm, err := codec.DecodeFrame(dec, data, samplesPerChannel, Channels)
	if err != nil {
		return fmt.Errorf("recorder: decode opus frame: %w", err)
	}
	s.producer.PushSamples(pcm, SampleRate, Channels)
	return nil
}

// OutputBuffer returns the session's flow output, for an echo reader to
// register a cursor on.
func (s *Session) OutputBuffer() *ring.AudioRingBuffer {
	return s.flow.OutputBuffer()
}

// EchoReader reads the session's output at bounded latency, dropping
// backlog beyond EchoBacklogTolerance instead of queuing it, so a paused
// client resumes on fresh audio instead of replaying a growing backlog.
type EchoReader struct {
	buf      *ring.AudioRingBuffer
	readerID string
	skipped  uint64
}

// NewEchoReader registers a reader cursor on buf under a unique id.
func NewEchoReader(buf *ring.AudioRingBuffer, readerID string) *EchoReader {
	buf.RegisterReader(readerID)
	return &EchoReader{buf: buf, readerID: readerID}
}

// Close unregisters the reader's cursor.
func (r *EchoReader) Close() {
	r.buf.UnregisterReader(r.readerID)
}

// Skipped returns how many frames this reader has fast-forwarded past
// because they were older than EchoBacklogTolerance relative to the
// newest frame at the time they were read.
func (r *EchoReader) Skipped() uint64 { return r.skipped }

// Next returns the next frame for this reader, or ok=false if none is
// available yet. A frame whose age relative to the output buffer's newest
// available frame exceeds EchoBacklogTolerance is dropped and the next one
// tried instead, so a client that paused and resumed observes a bounded
// backlog-drop rather than a deep queue of stale audio. The flow's generic
// OutputBufferCapacity is sized for normal operation, not for this
// tolerance, so the check is explicit here rather than left to ring
// eviction.
func (r *EchoReader) Next() (pcmframe.Frame, bool, error) {
	_, latest, haveLatest := r.buf.Latest()
	for {
		_, f, ok, err := r.buf.PopForReader(r.readerID)
		if err != nil || !ok {
			return pcmframe.Frame{}, false, err
		}
		if haveLatest {
			age := time.Duration(latest.UTCNanos - f.UTCNanos)
			if age > EchoBacklogTolerance {
				r.skipped++
				continue
			}
		}
		return f, true, nil
	}
}
