// Package peaks implements PeakHistory: the bridge between the audio plane
// and the HTTP/WebSocket control plane. It is a per-flow, time-indexed,
// bounded ring of peak samples that supports live subscription and
// historical range queries for the browser waveform timeline.
package peaks

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Sample is one peak observation: the absolute-max normalized amplitude per
// channel across one frame, tagged with the flow it came from.
type Sample struct {
	TSMillis int64
	PeakL    float32
	PeakR    float32
	Silence  bool
	Flow     string
}

// DefaultRetention bounds history by age: 7 days.
const DefaultRetention = 7 * 24 * time.Hour

// DefaultMaxSamples bounds history by count, whichever limit is hit first.
// At one sample per ~100ms that's roughly 7 days' worth per flow, matching
// DefaultRetention in the common case while capping memory if a flow emits
// faster than expected.
const DefaultMaxSamples = 7 * 24 * 60 * 60 * 10

// subscriber is a bounded, drop-oldest fan-out channel for one live
// listener.
type subscriber struct {
	ch chan Sample
}

const subscriberBuffer = 64

// perFlow holds one flow's bounded ring of samples plus its subscribers.
type perFlow struct {
	mu      sync.Mutex
	samples []Sample // ascending by TSMillis; oldest evicted from the front
	subs    map[int]*subscriber
	nextSub int
}

// History is a per-flow PeakHistory store. The zero value is not usable;
// construct with New.
type History struct {
	retention  time.Duration
	maxSamples int

	mu    sync.RWMutex
	flows map[string]*perFlow
}

// New constructs a History bounded by retention age and maxSamples count,
// whichever is hit first. A zero retention or maxSamples uses the default.
func New(retention time.Duration, maxSamples int) *History {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &History{retention: retention, maxSamples: maxSamples, flows: make(map[string]*perFlow)}
}

func (h *History) flowFor(name string) *perFlow {
	h.mu.RLock()
	pf, ok := h.flows[name]
	h.mu.RUnlock()
	if ok {
		return pf
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if pf, ok := h.flows[name]; ok {
		return pf
	}
	pf = &perFlow{subs: make(map[int]*subscriber)}
	h.flows[name] = pf
	return pf
}

// Append records a sample, evicting the oldest entry once retention or
// maxSamples is exceeded, and immediately fans it out to live subscribers
// on the same flow. Reads copy out of the ring so a slow transport never
// holds the lock.
func (h *History) Append(s Sample) {
	pf := h.flowFor(s.Flow)

	pf.mu.Lock()
	pf.samples = append(pf.samples, s)
	cutoff := s.TSMillis - h.retention.Milliseconds()
	start := 0
	for start < len(pf.samples) && pf.samples[start].TSMillis < cutoff {
		start++
	}
	if start > 0 {
		pf.samples = append([]Sample(nil), pf.samples[start:]...)
	}
	if over := len(pf.samples) - h.maxSamples; over > 0 {
		pf.samples = append([]Sample(nil), pf.samples[over:]...)
	}
	subs := make([]*subscriber, 0, len(pf.subs))
	for _, sub := range pf.subs {
		subs = append(subs, sub)
	}
	pf.mu.Unlock()

	// Subscribers registered under the empty flow name receive every flow's
	// samples, backing the unfiltered /ws live stream.
	if s.Flow != "" {
		h.mu.RLock()
		all, ok := h.flows[""]
		h.mu.RUnlock()
		if ok {
			all.mu.Lock()
			for _, sub := range all.subs {
				subs = append(subs, sub)
			}
			all.mu.Unlock()
		}
	}

	for _, sub := range subs {
		select {
		case sub.ch <- s:
		default:
			// Drop-oldest: make room for the newest sample rather than block.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- s:
			default:
			}
		}
	}
}

// Subscribe returns a bounded, drop-oldest channel of live samples for flow
// and an unsubscribe function the caller must invoke when done. An empty
// flow name subscribes to every flow's samples.
func (h *History) Subscribe(flow string) (<-chan Sample, func()) {
	pf := h.flowFor(flow)
	sub := &subscriber{ch: make(chan Sample, subscriberBuffer)}

	pf.mu.Lock()
	id := pf.nextSub
	pf.nextSub++
	pf.subs[id] = sub
	pf.mu.Unlock()

	unsub := func() {
		pf.mu.Lock()
		delete(pf.subs, id)
		pf.mu.Unlock()
	}
	return sub.ch, unsub
}

// Range returns samples in [from, to] milliseconds, sorted ascending by
// ts. flow == "" merges every flow's history, sorted by time.
func (h *History) Range(flow string, from, to int64) []Sample {
	h.mu.RLock()
	var names []string
	if flow != "" {
		names = []string{flow}
	} else {
		for name := range h.flows {
			names = append(names, name)
		}
	}
	h.mu.RUnlock()

	var out []Sample
	for _, name := range names {
		pf := h.flowFor(name)
		pf.mu.Lock()
		matched := lo.Filter(pf.samples, func(s Sample, _ int) bool {
			return s.TSMillis >= from && s.TSMillis <= to
		})
		pf.mu.Unlock()
		out = append(out, matched...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TSMillis < out[j].TSMillis })
	return out
}

// Bounds returns the oldest and newest recorded ts for flow, or for every
// flow merged when flow == "". ok is false if there is no history yet.
func (h *History) Bounds(flow string) (start, end int64, ok bool) {
	h.mu.RLock()
	var names []string
	if flow != "" {
		names = []string{flow}
	} else {
		for name := range h.flows {
			names = append(names, name)
		}
	}
	h.mu.RUnlock()

	first := true
	for _, name := range names {
		pf := h.flowFor(name)
		pf.mu.Lock()
		if len(pf.samples) > 0 {
			s, e := pf.samples[0].TSMillis, pf.samples[len(pf.samples)-1].TSMillis
			if first || s < start {
				start = s
			}
			if first || e > end {
				end = e
			}
			first = false
		}
		pf.mu.Unlock()
	}
	return start, end, !first
}
