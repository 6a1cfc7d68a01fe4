package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerDeliversInOrder(t *testing.T) {
	tr := NewTracker()
	tr.Report(StageUpload, 20)
	tr.Report(StageExif, 50)
	tr.Close()

	var events []Event
	for ev := range tr.Events() {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, Event{Stage: StageUpload, Percent: 20}, events[0])
	assert.Equal(t, Event{Stage: StageExif, Percent: 50}, events[1])
}

func TestTrackerDropsWhenFull(t *testing.T) {
	tr := NewTracker()

	// No consumer: the bounded buffer fills and further reports are dropped
	// without blocking.
	for i := 0; i < bufferSize*2; i++ {
		tr.Report(StageProcessing, i)
	}
	tr.Close()

	count := 0
	for range tr.Events() {
		count++
	}
	assert.Equal(t, bufferSize, count)
}

func TestNilTrackerReportIsSafe(t *testing.T) {
	var tr *Tracker
	assert.NotPanics(t, func() { tr.Report(StageUpload, 20) })
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard.Report(StageComplete, 100) })
}

func TestHub(t *testing.T) {
	h := NewHub()
	assert.Nil(t, h.Get("missing"))

	tr := h.Register("up1")
	require.NotNil(t, tr)
	assert.Same(t, tr, h.Get("up1"))

	h.Remove("up1")
	assert.Nil(t, h.Get("up1"))
}
