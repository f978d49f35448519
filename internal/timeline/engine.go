package timeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/pubsub"
	"github.com/zjrosen/missionfeed/internal/tracing"
)

// Defaults for Options.
const (
	DefaultPollInterval   = 5 * time.Second
	DefaultRequestTimeout = 4 * time.Second
)

// Options configures an Engine. Zero values take defaults.
type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	// RequestTimeout bounds each fetch. Clamped below PollInterval so a slow
	// request cannot back up behind the next tick.
	RequestTimeout time.Duration
	BufferCapacity int
	// StartPaused opens subscriptions without polling until SetEnabled(true).
	StartPaused bool

	Registry *Registry
	Tracer   trace.Tracer
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.RequestTimeout >= o.PollInterval {
		o.RequestTimeout = o.PollInterval * 4 / 5
	}
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = DefaultBufferCapacity
	}
	if o.Registry == nil {
		o.Registry = NewRegistry()
	}
	if o.Tracer == nil {
		o.Tracer = tracing.NoopTracer()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Engine synchronizes one subscription's event log into a merged buffer.
//
// Lifecycle: New builds an idle engine with no goroutines. Open(key) starts
// polling that key; Open with another key resets everything; Close stops all
// work and closes subscriber channels. All methods are safe for concurrent
// use; consumers that want the same key should share one Engine.
type Engine struct {
	fetcher   Fetcher
	opts      Options
	broker    *pubsub.Broker[Snapshot]
	heartbeat *Heartbeat
	exit      exitLatch

	mu          sync.Mutex
	key         string
	state       State
	enabled     bool
	closed      bool
	events      []Event
	cursor      *time.Time
	lastUpdated *time.Time
	errMsg      string
	loading     bool

	// gen identifies the newest fetch; results from older generations are
	// dropped.
	gen         uint64
	cancelFetch context.CancelFunc
	stopTasks   context.CancelFunc

	tasks   sync.WaitGroup
	fetches sync.WaitGroup
}

// New creates an idle engine. It starts nothing until Open.
func New(fetcher Fetcher, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		fetcher:   fetcher,
		opts:      opts,
		broker:    pubsub.NewBroker[Snapshot](),
		heartbeat: NewHeartbeat(opts.Now),
		enabled:   !opts.StartPaused,
	}
}

// Open subscribes to key. Opening the current key again is a no-op; any
// other key resets buffer, cursor, exit info and heartbeat first. An empty
// key leaves the engine idle.
func (e *Engine) Open(key string) {
	key = strings.TrimSpace(key)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if key == e.key && e.state != StateIdle {
		return
	}

	e.resetLocked()
	e.key = key
	if key != "" && e.enabled {
		e.activateLocked()
	}
	e.publishLocked(pubsub.SnapshotEvent)
}

// Close stops both periodic tasks, cancels any in-flight fetch, and closes
// subscriber channels. The engine cannot be reopened.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.resetLocked()
	e.key = ""
	e.closed = true
	e.mu.Unlock()

	e.tasks.Wait()
	e.fetches.Wait()
	e.broker.Close()
}

// SetEnabled pauses or resumes polling. Pausing keeps buffer and cursor;
// resuming issues a delta fetch from the retained cursor right away.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.enabled == enabled {
		return
	}
	e.enabled = enabled

	switch {
	case !enabled && e.state == StatePolling:
		e.stopTasksLocked()
		e.cancelFetchLocked()
		e.state = StatePaused
		log.Debug(log.CatFeed, "polling paused", "key", e.key)
	case enabled && e.state == StatePaused:
		e.state = StatePolling
		e.startFetchLocked(ModeDelta)
		e.startTasksLocked()
		log.Debug(log.CatFeed, "polling resumed", "key", e.key, "cursor", formatCursor(e.cursor))
	case enabled && e.state == StateIdle && e.key != "":
		e.activateLocked()
	}
	e.publishLocked(pubsub.SnapshotEvent)
}

// Refresh drops the cursor and performs a fresh initial fetch. In
// Terminated it fetches once without re-arming timers; the exit latch stays.
// No-op when idle.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.state == StateIdle {
		return
	}
	e.cursor = nil
	e.startFetchLocked(ModeInitial)
	e.publishLocked(pubsub.SnapshotEvent)
}

// Snapshot returns the current read-only view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// State returns the scheduler state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe streams snapshots until ctx is done or the engine closes. The
// current snapshot is delivered first.
func (e *Engine) Subscribe(ctx context.Context) <-chan pubsub.Event[Snapshot] {
	return e.broker.Subscribe(ctx)
}

// activateLocked moves Idle to Polling: one initial fetch now, then timers.
func (e *Engine) activateLocked() {
	e.state = StatePolling
	e.startFetchLocked(ModeInitial)
	e.startTasksLocked()
	log.Info(log.CatFeed, "subscription opened", "key", e.key, "interval", e.opts.PollInterval)
}

// resetLocked returns to Idle and forgets everything about the subscription.
func (e *Engine) resetLocked() {
	e.stopTasksLocked()
	e.cancelFetchLocked()
	e.gen++
	e.state = StateIdle
	e.events = nil
	e.cursor = nil
	e.lastUpdated = nil
	e.errMsg = ""
	e.exit.Reset()
	e.heartbeat.Reset()
}

func (e *Engine) startTasksLocked() {
	e.stopTasksLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.stopTasks = cancel

	e.tasks.Add(2)
	go e.pollLoop(ctx)
	go e.heartbeatLoop(ctx)
}

func (e *Engine) stopTasksLocked() {
	if e.stopTasks != nil {
		e.stopTasks()
		e.stopTasks = nil
	}
}

func (e *Engine) cancelFetchLocked() {
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.loading = false
}

func (e *Engine) pollLoop(ctx context.Context) {
	defer e.tasks.Done()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if ctx.Err() == nil && e.state == StatePolling {
				e.startFetchLocked(ModeDelta)
				e.publishLocked(pubsub.SnapshotEvent)
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.tasks.Done()
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			if ctx.Err() == nil && e.state == StatePolling {
				e.heartbeat.Tick()
				e.publishLocked(pubsub.HeartbeatEvent)
			}
			e.mu.Unlock()
		}
	}
}

// startFetchLocked cancels any in-flight fetch and issues a new one. A delta
// with no cursor yet is issued as initial.
func (e *Engine) startFetchLocked(mode Mode) {
	e.cancelFetchLocked()

	if mode == ModeDelta && e.cursor == nil {
		mode = ModeInitial
	}
	req := FetchRequest{
		SubscriptionKey: e.key,
		Mode:            mode,
		Limit:           e.opts.BufferCapacity,
	}
	if mode == ModeInitial {
		e.cursor = nil
	} else {
		since := *e.cursor
		req.Since = &since
	}

	e.gen++
	gen := e.gen
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.RequestTimeout)
	e.cancelFetch = cancel
	e.loading = true

	e.fetches.Add(1)
	go e.runFetch(ctx, cancel, gen, req)
}

func (e *Engine) runFetch(ctx context.Context, cancel context.CancelFunc, gen uint64, req FetchRequest) {
	defer e.fetches.Done()
	defer cancel()

	attrs := []attribute.KeyValue{
		attribute.String(tracing.AttrSubscriptionKey, req.SubscriptionKey),
		attribute.String(tracing.AttrFetchMode, req.Mode.String()),
	}
	if req.Since != nil {
		attrs = append(attrs, attribute.String(tracing.AttrFetchSince, req.Since.Format(time.RFC3339Nano)))
	}
	ctx, span := e.opts.Tracer.Start(ctx, tracing.SpanFetch, trace.WithAttributes(attrs...))
	defer span.End()

	res, err := e.fetcher.Fetch(ctx, req)
	e.apply(gen, req, res, err, span)
}

// apply folds a finished fetch into state. Superseded and cancelled fetches
// are dropped without touching the buffer or the error field.
func (e *Engine) apply(gen uint64, req FetchRequest, res FetchResult, err error, span trace.Span) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || gen != e.gen || e.key != req.SubscriptionKey || e.state == StateIdle {
		span.AddEvent(tracing.EventDiscarded)
		log.Debug(log.CatFeed, "discarding superseded fetch", "key", req.SubscriptionKey, "mode", req.Mode)
		return
	}
	if errors.Is(err, context.Canceled) {
		span.AddEvent(tracing.EventDiscarded)
		return
	}

	e.cancelFetch = nil
	e.loading = false

	if err != nil {
		e.errMsg = fetchErrorMessage(err, e.opts.RequestTimeout)
		tracing.Fail(span, err)
		log.ErrorErr(log.CatFeed, "fetch failed", err, "key", req.SubscriptionKey, "mode", req.Mode)
		e.publishLocked(pubsub.SnapshotEvent)
		return
	}

	batch := e.opts.Registry.ClassifyAll(res.Records)
	before := e.events
	e.events = Merge(before, batch, req.Mode, e.opts.BufferCapacity)
	merged := len(Added(before, e.events))

	e.errMsg = ""
	fetchedAt := res.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = e.opts.Now()
	}
	e.lastUpdated = &fetchedAt

	if n := len(e.events); n > 0 {
		last := e.events[n-1].CreatedAt
		e.cursor = &last
		e.heartbeat.Observe(last)
	}

	span.SetAttributes(
		attribute.Int(tracing.AttrRecords, len(res.Records)),
		attribute.Int(tracing.AttrMerged, merged),
		attribute.Int(tracing.AttrBufferSize, len(e.events)),
	)
	log.Debug(log.CatFeed, "merged batch", "key", req.SubscriptionKey, "mode", req.Mode,
		"records", len(res.Records), "merged", merged, "buffer", len(e.events))

	if e.state != StateTerminated && e.exit.Observe(batch) {
		e.terminateLocked(span)
		return
	}
	e.publishLocked(pubsub.SnapshotEvent)
}

// terminateLocked latches Terminated: timers off, fetch aborted, heartbeat nil.
func (e *Engine) terminateLocked(span trace.Span) {
	e.state = StateTerminated
	e.stopTasksLocked()
	e.cancelFetchLocked()
	e.heartbeat.Stop()

	info := e.exit.Info()
	span.AddEvent(tracing.EventExit, trace.WithAttributes(attribute.String(tracing.AttrExitReason, info.Reason)))
	log.Info(log.CatFeed, "exit record latched, polling stopped",
		"key", e.key, "reason", info.Reason, "mission_status", info.MissionStatus)

	e.publishLocked(pubsub.TerminatedEvent)
}

func (e *Engine) publishLocked(t pubsub.EventType) {
	e.broker.Publish(t, e.snapshotLocked())
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		SubscriptionKey:  e.key,
		State:            e.state,
		Enabled:          e.enabled,
		Events:           slices.Clone(e.events),
		IsLoading:        e.loading,
		Error:            e.errMsg,
		ExitInfo:         e.exit.Info(),
		HeartbeatSeconds: e.heartbeat.Value(),
	}
	if e.lastUpdated != nil {
		t := *e.lastUpdated
		snap.LastUpdated = &t
	}
	if last, ok := e.heartbeat.LastEventAt(); ok {
		snap.LastEventAt = &last
	}
	return snap
}

func fetchErrorMessage(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("request timed out after %s", timeout)
	}
	return err.Error()
}

func formatCursor(c *time.Time) string {
	if c == nil {
		return "<nil>"
	}
	return c.Format(time.RFC3339Nano)
}
