package timeline

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// fallbackLabel is used when a record has neither content nor an event name.
const fallbackLabel = "Agent update"

// DescribeFunc renders the human sentence for a stage. It must be pure and
// must not panic on missing or mistyped metadata.
type DescribeFunc func(meta Metadata, content string) string

// StageDescriptor is the registry entry for one stage name.
type StageDescriptor struct {
	Label    string
	Status   Status
	Describe DescribeFunc
}

// Registry maps stage names to descriptors. The zero value is usable and
// classifies everything through the fallback branch.
type Registry struct {
	stages map[string]StageDescriptor
}

// NewRegistry returns a registry preloaded with the built-in mission stages.
func NewRegistry() *Registry {
	r := &Registry{stages: make(map[string]StageDescriptor, len(builtinStages))}
	for name, d := range builtinStages {
		r.stages[name] = d
	}
	return r
}

// Register adds or replaces a stage descriptor.
func (r *Registry) Register(stage string, d StageDescriptor) {
	if r.stages == nil {
		r.stages = make(map[string]StageDescriptor)
	}
	r.stages[stage] = d
}

// Lookup returns the descriptor for stage.
func (r *Registry) Lookup(stage string) (StageDescriptor, bool) {
	if r == nil || r.stages == nil {
		return StageDescriptor{}, false
	}
	d, ok := r.stages[stage]
	return d, ok
}

// Stages returns the registered stage names in sorted order.
func (r *Registry) Stages() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Classify maps a raw record to an Event. Total: every record yields exactly
// one event.
func (r *Registry) Classify(rec Record) Event {
	meta := Metadata(rec.Metadata)
	eventName := meta.String("event")
	stage := resolveStage(rec, meta, eventName)

	ev := Event{
		ID:         rec.ID,
		CreatedAt:  rec.CreatedAt,
		Stage:      stage,
		Role:       rec.Role,
		Metadata:   rec.Metadata,
		RawContent: rec.Content,
		EventName:  eventName,
	}

	d, ok := r.Lookup(stage)
	if !ok {
		ev.Status = StatusPending
		ev.Label = firstNonEmpty(rec.Content, eventName, fallbackLabel)
		ev.Description = rec.Content
		return ev
	}

	ev.Label = d.Label
	ev.Status = d.Status
	ev.Description = safeDescribe(d.Describe, meta, rec.Content)
	return ev
}

// ClassifyAll classifies a batch in order.
func (r *Registry) ClassifyAll(recs []Record) []Event {
	out := make([]Event, 0, len(recs))
	for _, rec := range recs {
		out = append(out, r.Classify(rec))
	}
	return out
}

func resolveStage(rec Record, meta Metadata, eventName string) string {
	if eventName == ExitSentinel {
		return ExitSentinel
	}
	if s := meta.String("stage"); s != "" {
		return s
	}
	return rec.Stage
}

// safeDescribe shields the batch from a descriptor that panics anyway.
func safeDescribe(fn DescribeFunc, meta Metadata, content string) (desc string) {
	if fn == nil {
		return content
	}
	defer func() {
		if recover() != nil {
			desc = content
		}
	}()
	return fn(meta, content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Metadata is a typed view over a record's free-form metadata.
// Accessors report ok=false for missing keys and wrong types.
type Metadata map[string]any

// String returns a non-empty string value.
func (m Metadata) String(key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Int returns an integral value. JSON numbers arrive as float64; numeric
// strings are accepted too.
func (m Metadata) Int(key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

// Float returns a numeric value.
func (m Metadata) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Bool returns a boolean value.
func (m Metadata) Bool(key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// List returns an array value.
func (m Metadata) List(key string) ([]any, bool) {
	l, ok := m[key].([]any)
	return l, ok
}

// Map returns a nested object.
func (m Metadata) Map(key string) Metadata {
	if nested, ok := m[key].(map[string]any); ok {
		return Metadata(nested)
	}
	return nil
}

// Count returns an integer field, or the length of a list field under the
// same key, whichever is present.
func (m Metadata) Count(key string) (int, bool) {
	if n, ok := m.Int(key); ok {
		return n, true
	}
	if l, ok := m.List(key); ok {
		return len(l), true
	}
	return 0, false
}

func score(f float64) string {
	return fmt.Sprintf("%.2f", f)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
