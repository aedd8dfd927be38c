package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davdef/airlift-node-sub001/internal/ring"
)

func TestRegisterLookupUnregister(t *testing.T) {
	r := New()
	buf := ring.New("mic", 8)

	_, ok := r.Lookup(ProducerKey("mic"))
	assert.False(t, ok)

	r.Register(ProducerKey("mic"), buf)
	got, ok := r.Lookup(ProducerKey("mic"))
	require.True(t, ok)
	assert.Same(t, buf, got)

	r.Unregister(ProducerKey("mic"))
	_, ok = r.Lookup(ProducerKey("mic"))
	assert.False(t, ok)
}

func TestMustLookupError(t *testing.T) {
	r := New()
	_, err := r.MustLookup(ProducerKey("missing"))
	assert.Error(t, err)
}

func TestRegisterReplacesExisting(t *testing.T) {
	r := New()
	first := ring.New("out", 4)
	second := ring.New("out", 4)

	r.Register(FlowKey("mix"), first)
	r.Register(FlowKey("mix"), second)

	got, ok := r.Lookup(FlowKey("mix"))
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestIDsSorted(t *testing.T) {
	r := New()
	r.Register(FlowKey("b"), ring.New("b", 1))
	r.Register(FlowKey("a"), ring.New("a", 1))
	assert.Equal(t, []string{FlowKey("a"), FlowKey("b")}, r.IDs())
}

func TestClear(t *testing.T) {
	r := New()
	r.Register(ProducerKey("mic"), ring.New("mic", 1))
	r.Clear()
	assert.Empty(t, r.IDs())
}
