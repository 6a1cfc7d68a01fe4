package progress

import "sync"

// Hub hands out per-upload trackers so the progress endpoint can find the
// stream for an in-flight upload by its client-chosen ID.
type Hub struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewHub() *Hub {
	return &Hub{trackers: map[string]*Tracker{}}
}

// Register creates and stores a tracker for the upload ID, replacing any
// stale one left behind by an aborted upload.
func (h *Hub) Register(id string) *Tracker {
	t := NewTracker()
	h.mu.Lock()
	h.trackers[id] = t
	h.mu.Unlock()
	return t
}

// Get returns the tracker for id, nil when unknown.
func (h *Hub) Get(id string) *Tracker {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.trackers[id]
}

// Remove drops the tracker for id. The caller closes the tracker.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	delete(h.trackers, id)
	h.mu.Unlock()
}
