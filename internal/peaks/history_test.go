package peaks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(ts int64, flow string) Sample {
	return Sample{TSMillis: ts, PeakL: 0.1, PeakR: 0.1, Flow: flow}
}

func TestHistoryRange(t *testing.T) {
	h := New(0, 0)
	for _, ts := range []int64{1000, 2000, 3000, 4000} {
		h.Append(sample(ts, "f"))
	}

	got := h.Range("f", 1500, 3500)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2000), got[0].TSMillis)
	assert.Equal(t, int64(3000), got[1].TSMillis)
}

func TestHistoryRangeEmptyIffNoIntersection(t *testing.T) {
	h := New(0, 0)
	h.Append(sample(1000, "f"))
	h.Append(sample(2000, "f"))

	start, end, ok := h.Bounds("f")
	require.True(t, ok)
	assert.Equal(t, int64(1000), start)
	assert.Equal(t, int64(2000), end)

	assert.Empty(t, h.Range("f", 3000, 4000))
	assert.NotEmpty(t, h.Range("f", 500, 1500))
}

func TestHistoryBoundsEmptyWhenNoSamples(t *testing.T) {
	h := New(0, 0)
	_, _, ok := h.Bounds("missing")
	assert.False(t, ok)
}

func TestHistoryMergesFlowsWhenUnspecified(t *testing.T) {
	h := New(0, 0)
	h.Append(sample(1000, "a"))
	h.Append(sample(500, "b"))

	got := h.Range("", 0, 10000)
	require.Len(t, got, 2)
	assert.Equal(t, int64(500), got[0].TSMillis)
	assert.Equal(t, int64(1000), got[1].TSMillis)
}

func TestHistoryTSNonDecreasingWithinFlow(t *testing.T) {
	h := New(0, 0)
	for i := int64(0); i < 10; i++ {
		h.Append(sample(i*100, "f"))
	}
	got := h.Range("f", 0, 10000)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].TSMillis, got[i-1].TSMillis)
	}
}

func TestSubscribeReceivesLiveAppends(t *testing.T) {
	h := New(0, 0)
	ch, unsub := h.Subscribe("f")
	defer unsub()

	h.Append(sample(1000, "f"))

	select {
	case s := <-ch:
		assert.Equal(t, int64(1000), s.TSMillis)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live peak")
	}
}

func TestSubscribeEmptyFlowReceivesAllFlows(t *testing.T) {
	h := New(0, 0)
	ch, unsub := h.Subscribe("")
	defer unsub()

	h.Append(sample(1000, "a"))
	h.Append(sample(2000, "b"))

	for _, want := range []int64{1000, 2000} {
		select {
		case s := <-ch:
			assert.Equal(t, want, s.TSMillis)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for wildcard live peak")
		}
	}
}

func TestHistoryEvictsOldByCount(t *testing.T) {
	h := New(time.Hour, 3)
	for i := int64(0); i < 5; i++ {
		h.Append(sample(i, "f"))
	}
	got := h.Range("f", 0, 100)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[0].TSMillis)
}
