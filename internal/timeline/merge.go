package timeline

import (
	"fmt"
	"slices"
)

// Mode selects between a full-window refresh and a cursor-bounded poll.
type Mode int

const (
	ModeInitial Mode = iota
	ModeDelta
)

func (m Mode) String() string {
	switch m {
	case ModeInitial:
		return "initial"
	case ModeDelta:
		return "delta"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Merge folds incoming into existing and returns the new buffer.
//
// ModeInitial replaces the buffer with incoming. ModeDelta appends events whose
// ID is not already present. Either way the result is unique by ID, sorted by
// CreatedAt (ties by ID), and holds at most capacity entries, keeping the
// newest. Neither input is modified.
func Merge(existing, incoming []Event, mode Mode, capacity int) []Event {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}

	var base []Event
	if mode == ModeDelta {
		base = existing
	}

	seen := make(map[string]struct{}, len(base)+len(incoming))
	out := make([]Event, 0, len(base)+len(incoming))
	for _, batch := range [][]Event{base, incoming} {
		for _, ev := range batch {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}

	slices.SortStableFunc(out, compareEvents)

	if len(out) > capacity {
		out = slices.Clone(out[len(out)-capacity:])
	}
	return out
}

func compareEvents(a, b Event) int {
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// Added returns the events in after whose IDs were not in before.
func Added(before, after []Event) []Event {
	known := make(map[string]struct{}, len(before))
	for _, ev := range before {
		known[ev.ID] = struct{}{}
	}
	var added []Event
	for _, ev := range after {
		if _, ok := known[ev.ID]; !ok {
			added = append(added, ev)
		}
	}
	return added
}
