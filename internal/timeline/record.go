// Package timeline turns periodic fetches of an append-only mission event log
// into one deduplicated, time-ordered, bounded stream of classified events.
//
// The Engine owns the poll and heartbeat tasks for a single subscription key,
// classifies raw records through a stage Registry, merges them into a capped
// buffer, and latches the first exit record it observes, after which polling
// stops for good.
package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ExitSentinel is the event name that marks mission termination.
const ExitSentinel = "copilotkit_exit"

// DefaultBufferCapacity is the merge window size and the fetch page limit.
const DefaultBufferCapacity = 120

// Status is the coarse progress state of a classified event.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusWarning    Status = "warning"
)

// Record is one raw row of the remote event log. Immutable once fetched.
type Record struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	Stage     string         `json:"stage,omitempty"` // empty means null
	Role      string         `json:"role"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Content   string         `json:"content"`
}

// UnmarshalJSON decodes leniently: a field with the wrong type decodes to its
// zero value instead of failing, so one malformed record never sinks a batch.
// Only a payload that is not a JSON object is an error.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("record is not an object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("record is null")
	}

	// Scalars keep their literal text so large numeric ids stay distinct.
	raw := make(map[string]any, len(fields))
	for k, v := range fields {
		if k != "metadata" {
			raw[k] = decodeNumber(v)
		}
	}

	*r = Record{
		ID:        looseString(raw["id"]),
		CreatedAt: parseTime(firstOf(raw, "createdAt", "created_at")),
		Stage:     looseString(raw["stage"]),
		Role:      looseString(raw["role"]),
		Content:   looseString(raw["content"]),
	}
	var meta map[string]any
	if err := json.Unmarshal(fields["metadata"], &meta); err == nil {
		r.Metadata = meta
	}
	return nil
}

// decodeNumber decodes v with numbers as json.Number. Invalid input is nil.
func decodeNumber(v json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func firstOf(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// looseString renders scalars as strings; ids arrive as numbers from some producers.
func looseString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// parseTime accepts RFC 3339 strings, a few Postgres-style variants and
// unix epoch milliseconds. Anything else yields the zero time.
func parseTime(v any) time.Time {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
	case json.Number:
		if ms, err := val.Int64(); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		if f, err := val.Float64(); err == nil {
			return time.UnixMilli(int64(f)).UTC()
		}
	case float64:
		return time.UnixMilli(int64(val)).UTC()
	}
	return time.Time{}
}

// Event is the classified, display-ready projection of a Record.
// Events are facts: once created they are never edited.
type Event struct {
	ID          string         `json:"id"`
	CreatedAt   time.Time      `json:"createdAt"`
	Stage       string         `json:"stage,omitempty"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Status      Status         `json:"status"`
	Role        string         `json:"role"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RawContent  string         `json:"rawContent"`
	EventName   string         `json:"eventName,omitempty"`
}

// IsExit reports whether the event is the termination sentinel.
func (e Event) IsExit() bool {
	return e.EventName == ExitSentinel
}

// ExitInfo describes the latched termination record.
type ExitInfo struct {
	Reason        string    `json:"reason"`
	Stage         string    `json:"stage"`
	MissionStatus string    `json:"missionStatus"`
	At            time.Time `json:"at"`
}
