// Package server exposes the mission event log over HTTP.
// It serves the paged GET /events contract the feed client consumes, accepts
// appended records, and reports health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/missionfeed/internal/eventstore"
	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
	"github.com/zjrosen/missionfeed/internal/tracing"
)

// maxBodyBytes caps POST /events payloads.
const maxBodyBytes = 1 << 20

// DefaultLoadWait bounds how long GET /timeline waits for a new engine's
// first fetch.
const DefaultLoadWait = 2 * time.Second

// EventLog is the storage the handler serves.
type EventLog interface {
	Append(ctx context.Context, key string, r timeline.Record) (timeline.Record, error)
	List(ctx context.Context, q eventstore.Query) ([]timeline.Record, error)
	Stats(ctx context.Context) (eventstore.Stats, error)
}

// EngineSource hands out shared timeline engines. hub.Hub implements it.
type EngineSource interface {
	Acquire(key string) (*timeline.Engine, func())
}

// Handler provides HTTP endpoints for the event log.
type Handler struct {
	log      EventLog
	engines  EngineSource
	tracer   trace.Tracer
	now      func() time.Time
	loadWait time.Duration
}

// HandlerConfig configures the handler.
type HandlerConfig struct {
	// EventLog stores and lists records (required).
	EventLog EventLog
	// Engines backs GET /timeline; the route is not registered when nil.
	Engines EngineSource
	// LoadWait overrides DefaultLoadWait (optional).
	LoadWait time.Duration
	// Tracer wraps each request in a span (optional).
	Tracer trace.Tracer
	// Now overrides the clock used for fetchedAt (optional).
	Now func() time.Time
}

// NewHandler creates a handler over the given event log.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		log:      cfg.EventLog,
		engines:  cfg.Engines,
		tracer:   cfg.Tracer,
		now:      cfg.Now,
		loadWait: cfg.LoadWait,
	}
	if h.tracer == nil {
		h.tracer = tracing.NoopTracer()
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.loadWait <= 0 {
		h.loadWait = DefaultLoadWait
	}
	return h
}

// Routes returns an http.Handler with all routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /events", h.ListEvents)
	mux.HandleFunc("POST /events", h.AppendEvent)
	mux.HandleFunc("GET /health", h.Health)
	if h.engines != nil {
		mux.HandleFunc("GET /timeline", h.Timeline)
	}

	return mux
}

// === Request/Response Types ===

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Records    []timeline.Record `json:"records"`
	Count      int               `json:"count"`
	NextCursor *time.Time        `json:"nextCursor"`
	FetchedAt  time.Time         `json:"fetchedAt"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TimelineResponse is the body of GET /timeline: the classified view of a
// subscription as the shared engine sees it.
type TimelineResponse struct {
	SubscriptionKey  string             `json:"subscriptionKey"`
	State            string             `json:"state"`
	Events           []timeline.Event   `json:"events"`
	IsLoading        bool               `json:"isLoading"`
	Error            string             `json:"error,omitempty"`
	LastUpdated      *time.Time         `json:"lastUpdated"`
	ExitInfo         *timeline.ExitInfo `json:"exitInfo"`
	HeartbeatSeconds *float64           `json:"heartbeatSeconds"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Stats  *eventstore.Stats `json:"stats,omitempty"`
}

// === Handlers ===

// ListEvents returns one page of a subscription's log.
// GET /events?subscriptionKey=&order=asc&limit=&since=
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), tracing.SpanHTTPEvents, trace.WithAttributes(
		attribute.String(tracing.AttrHTTPRoute, "GET /events"),
	))
	defer span.End()

	q, desc, err := parseListQuery(r)
	if err != nil {
		h.fail(w, span, http.StatusBadRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String(tracing.AttrSubscriptionKey, q.SubscriptionKey))

	records, err := h.log.List(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.ErrorErr(log.CatServer, "Failed to list events", err, "key", q.SubscriptionKey)
		h.fail(w, span, http.StatusInternalServerError, "failed to list events")
		return
	}
	if records == nil {
		records = []timeline.Record{}
	}

	resp := EventsResponse{
		Records:   records,
		Count:     len(records),
		FetchedAt: h.now().UTC(),
	}
	if n := len(records); n > 0 {
		next := records[n-1].CreatedAt
		resp.NextCursor = &next
	}
	if desc {
		slices.Reverse(resp.Records)
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrRecords, len(records)),
		attribute.Int(tracing.AttrHTTPStatus, http.StatusOK),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// AppendEvent stores one record.
// POST /events?subscriptionKey=
func (h *Handler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), tracing.SpanHTTPEvents, trace.WithAttributes(
		attribute.String(tracing.AttrHTTPRoute, "POST /events"),
	))
	defer span.End()

	key := strings.TrimSpace(r.URL.Query().Get("subscriptionKey"))
	if key == "" {
		h.fail(w, span, http.StatusBadRequest, "subscriptionKey is required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, span, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var rec timeline.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		h.fail(w, span, http.StatusBadRequest, "invalid JSON body")
		return
	}

	stored, err := h.log.Append(ctx, key, rec)
	if err != nil {
		if errors.Is(err, eventstore.ErrInvalidRecord) {
			h.fail(w, span, http.StatusBadRequest, err.Error())
			return
		}
		log.ErrorErr(log.CatServer, "Failed to append event", err, "key", key)
		h.fail(w, span, http.StatusInternalServerError, "failed to append event")
		return
	}

	span.SetAttributes(attribute.Int(tracing.AttrHTTPStatus, http.StatusCreated))
	h.writeJSON(w, http.StatusCreated, stored)
}

// Timeline returns the shared engine's snapshot for a subscription. The
// first request for a key opens the engine and waits up to LoadWait for its
// initial fetch; later requests within the hub's grace period reuse it.
// GET /timeline?subscriptionKey=
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), tracing.SpanHTTPTimeline, trace.WithAttributes(
		attribute.String(tracing.AttrHTTPRoute, "GET /timeline"),
	))
	defer span.End()

	key := strings.TrimSpace(r.URL.Query().Get("subscriptionKey"))
	if key == "" {
		h.fail(w, span, http.StatusBadRequest, "subscriptionKey is required")
		return
	}
	span.SetAttributes(attribute.String(tracing.AttrSubscriptionKey, key))

	engine, release := h.engines.Acquire(key)
	defer release()

	snap := h.awaitLoaded(r.Context(), engine)
	events := snap.Events
	if events == nil {
		events = []timeline.Event{}
	}
	span.SetAttributes(attribute.Int(tracing.AttrBufferSize, len(events)))

	h.writeJSON(w, http.StatusOK, TimelineResponse{
		SubscriptionKey:  snap.SubscriptionKey,
		State:            snap.State.String(),
		Events:           events,
		IsLoading:        snap.IsLoading,
		Error:            snap.Error,
		LastUpdated:      snap.LastUpdated,
		ExitInfo:         snap.ExitInfo,
		HeartbeatSeconds: snap.HeartbeatSeconds,
	})
}

// awaitLoaded returns the first snapshot that is not loading, or the current
// one once LoadWait passes or the request goes away.
func (h *Handler) awaitLoaded(ctx context.Context, engine *timeline.Engine) timeline.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, h.loadWait)
	defer cancel()

	sub := engine.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return engine.Snapshot()
		case ev, ok := <-sub:
			if !ok {
				return engine.Snapshot()
			}
			if !ev.Payload.IsLoading {
				return ev.Payload
			}
		}
	}
}

// Health reports whether the store answers queries.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.log.Stats(r.Context())
	if err != nil {
		log.ErrorErr(log.CatServer, "Health check failed", err)
		h.writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})
		return
	}
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Stats: &stats})
}

// === Helpers ===

type queryError string

func (e queryError) Error() string { return string(e) }

func parseListQuery(r *http.Request) (eventstore.Query, bool, error) {
	v := r.URL.Query()

	q := eventstore.Query{SubscriptionKey: strings.TrimSpace(v.Get("subscriptionKey"))}
	if q.SubscriptionKey == "" {
		return q, false, queryError("subscriptionKey is required")
	}

	desc := false
	switch strings.ToLower(v.Get("order")) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return q, false, queryError("order must be asc or desc")
	}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > eventstore.MaxLimit {
			return q, false, queryError("limit must be an integer between 1 and " + strconv.Itoa(eventstore.MaxLimit))
		}
		q.Limit = n
	}

	if raw := v.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return q, false, queryError("since must be an RFC 3339 timestamp")
		}
		q.Since = &t
	}
	return q, desc, nil
}

func (h *Handler) fail(w http.ResponseWriter, span trace.Span, status int, message string) {
	span.SetAttributes(
		attribute.Int(tracing.AttrHTTPStatus, status),
		attribute.String(tracing.AttrErrorMessage, message),
	)
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatServer, "Failed to encode JSON response", "error", err)
	}
}
