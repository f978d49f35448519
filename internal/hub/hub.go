// Package hub shares one timeline.Engine per subscription key among any
// number of consumers.
//
// Acquire returns the key's engine, creating and opening it on first use.
// When the last consumer releases it, the engine is parked for a grace
// period so a consumer that reconnects quickly gets the same buffer back
// without a refetch. Engines still parked when the grace period expires are
// closed.
package hub

import (
	"strings"
	"sync"
	"time"

	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

// DefaultGrace is how long a released engine stays parked.
const DefaultGrace = 30 * time.Second

// Config configures a Hub.
type Config struct {
	Fetcher timeline.Fetcher
	Options timeline.Options
	// Grace is how long an unreferenced engine is kept alive.
	Grace time.Duration
}

type entry struct {
	engine *timeline.Engine
	refs   int
}

// Hub hands out shared engines.
type Hub struct {
	cfg    Config
	parked *lot

	mu     sync.Mutex
	live   map[string]*entry
	closed bool
}

// New creates a hub. Close it to stop every engine.
func New(cfg Config) *Hub {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	h := &Hub{
		cfg:  cfg,
		live: make(map[string]*entry),
	}
	h.parked = newLot(cfg.Grace, h.evicted)
	return h
}

// Acquire returns the shared engine for key and a release func. The release
// func is idempotent. An empty key yields an idle engine that is not shared.
func (h *Hub) Acquire(key string) (*timeline.Engine, func()) {
	key = strings.TrimSpace(key)

	h.mu.Lock()
	if h.closed || key == "" {
		h.mu.Unlock()
		e := timeline.New(h.cfg.Fetcher, h.cfg.Options)
		return e, sync.OnceFunc(e.Close)
	}

	if ent, ok := h.live[key]; ok {
		ent.refs++
		h.mu.Unlock()
		log.Debug(log.CatHub, "engine shared", "key", key, "refs", ent.refs)
		return ent.engine, h.releaser(key, ent.engine)
	}

	e, revived := h.parked.Get(key)
	if !revived {
		e = timeline.New(h.cfg.Fetcher, h.cfg.Options)
		e.Open(key)
	}
	h.live[key] = &entry{engine: e, refs: 1}
	h.mu.Unlock()

	// The eviction callback skips the engine now live and closes an expired
	// one the janitor has not reached yet.
	h.parked.Remove(key)
	if revived {
		log.Debug(log.CatHub, "engine revived", "key", key)
	} else {
		log.Info(log.CatHub, "engine created", "key", key)
	}
	return e, h.releaser(key, e)
}

func (h *Hub) releaser(key string, e *timeline.Engine) func() {
	return sync.OnceFunc(func() { h.release(key, e) })
}

func (h *Hub) release(key string, e *timeline.Engine) {
	h.mu.Lock()
	ent, ok := h.live[key]
	if !ok || ent.engine != e {
		h.mu.Unlock()
		return
	}
	ent.refs--
	if ent.refs > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.live, key)
	if h.closed {
		h.mu.Unlock()
		e.Close()
		return
	}
	h.parked.Park(key, e)
	h.mu.Unlock()

	log.Debug(log.CatHub, "engine parked", "key", key, "grace", h.cfg.Grace)
}

// evicted closes engines whose grace period ran out. Engines that were
// revived before eviction are live again and left running.
func (h *Hub) evicted(key string, e *timeline.Engine) {
	h.mu.Lock()
	ent, live := h.live[key]
	h.mu.Unlock()
	if live && ent.engine == e {
		return
	}
	log.Info(log.CatHub, "engine disposed", "key", key)
	e.Close()
}

// Refs reports the consumer count for key; 0 when parked or unknown.
func (h *Hub) Refs(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ent, ok := h.live[strings.TrimSpace(key)]; ok {
		return ent.refs
	}
	return 0
}

// Parked reports whether key's engine is waiting out its grace period.
func (h *Hub) Parked(key string) bool {
	_, ok := h.parked.Get(strings.TrimSpace(key))
	return ok
}

// Close stops every engine, live or parked. Later Acquires return private
// engines.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	engines := make([]*timeline.Engine, 0, len(h.live))
	for key, ent := range h.live {
		engines = append(engines, ent.engine)
		delete(h.live, key)
	}
	h.mu.Unlock()

	// Expired engines are closed by the eviction callback.
	engines = append(engines, h.parked.Drain()...)

	for _, e := range engines {
		e.Close()
	}
}
