// Package registry is the audio plane's rendezvous layer: a process-wide,
// read-mostly map from string id to ring buffer handle. Producers, flows,
// and consumers look each other up by name here instead of holding direct
// references to one another.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/davdef/airlift-node-sub001/internal/ring"
)

// Canonical key prefixes used to namespace the registry.
const (
	ProducerPrefix = "producer:"
	FlowPrefix     = "flow:"
)

// ProducerKey returns the canonical registry key for a producer's ring.
func ProducerKey(name string) string { return ProducerPrefix + name }

// FlowKey returns the canonical registry key for a flow's output ring.
func FlowKey(name string) string { return FlowPrefix + name }

// Registry is a read-mostly id -> ring buffer map, safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rings map[string]*ring.AudioRingBuffer
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{rings: make(map[string]*ring.AudioRingBuffer)}
}

// Register publishes buf under id. Replacing an existing id is allowed (used
// by flow restart, which publishes a fresh output buffer instance).
func (r *Registry) Register(id string, buf *ring.AudioRingBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings[id] = buf
}

// Unregister removes id from the registry. A no-op if id is absent.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rings, id)
}

// Lookup resolves id to its ring buffer.
func (r *Registry) Lookup(id string) (*ring.AudioRingBuffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf, ok := r.rings[id]
	return buf, ok
}

// MustLookup resolves id or returns an error naming it, used at flow
// validation time (every input name must resolve before a flow may start).
func (r *Registry) MustLookup(id string) (*ring.AudioRingBuffer, error) {
	buf, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("registry: unresolved ring id %q", id)
	}
	return buf, nil
}

// IDs returns a sorted snapshot of all registered ids, for diagnostics.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rings))
	for id := range r.rings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes every entry, used during node tear-down.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings = make(map[string]*ring.AudioRingBuffer)
}
