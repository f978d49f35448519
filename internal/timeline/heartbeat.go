package timeline

import (
	"sync"
	"time"
)

// DefaultHeartbeatInterval is the heartbeat tick cadence.
const DefaultHeartbeatInterval = time.Second

// Heartbeat tracks seconds elapsed since the newest merged event.
// It reads only the last event timestamp and never waits on a fetch, so a
// slow or failing poll still shows a climbing value.
type Heartbeat struct {
	mu      sync.Mutex
	now     func() time.Time
	last    time.Time
	hasLast bool
	value   *float64
	stopped bool
}

// NewHeartbeat creates a heartbeat using now as its clock.
func NewHeartbeat(now func() time.Time) *Heartbeat {
	if now == nil {
		now = time.Now
	}
	return &Heartbeat{now: now}
}

// Observe records the buffer's newest event timestamp and recomputes
// immediately.
func (h *Heartbeat) Observe(last time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.last = last
	h.hasLast = true
	h.computeLocked()
}

// Tick recomputes the value. Returns the new value (nil if no event yet or
// stopped).
func (h *Heartbeat) Tick() *float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.computeLocked()
	}
	return copyFloat(h.value)
}

// Value returns the last computed value without recomputing.
func (h *Heartbeat) Value() *float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return copyFloat(h.value)
}

// LastEventAt returns the tracked timestamp, if any.
func (h *Heartbeat) LastEventAt() (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// Stop freezes the heartbeat at nil for good.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	h.stopped = true
	h.value = nil
	h.mu.Unlock()
}

// Reset clears all state, including a previous Stop.
func (h *Heartbeat) Reset() {
	h.mu.Lock()
	h.last = time.Time{}
	h.hasLast = false
	h.value = nil
	h.stopped = false
	h.mu.Unlock()
}

func (h *Heartbeat) computeLocked() {
	if !h.hasLast {
		h.value = nil
		return
	}
	secs := h.now().Sub(h.last).Seconds()
	if secs < 0 {
		secs = 0
	}
	h.value = &secs
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
