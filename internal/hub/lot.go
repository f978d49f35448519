package hub

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

// lot holds released engines for their grace period. go-cache's janitor
// expires them and reports each expiry to the callback given to newLot.
// Remove reports through the same callback, synchronously, so it must not
// be called while holding a lock the callback takes.
type lot struct {
	cache *gocache.Cache
	grace time.Duration
}

func newLot(grace time.Duration, onExpire func(key string, e *timeline.Engine)) *lot {
	janitor := grace / 2
	if janitor < 10*time.Millisecond {
		janitor = 10 * time.Millisecond
	}
	c := gocache.New(grace, janitor)
	c.OnEvicted(func(key string, obj any) {
		e, ok := obj.(*timeline.Engine)
		if !ok {
			log.Error(log.CatHub, "parked value is not an engine", "key", key)
			return
		}
		onExpire(key, e)
	})
	return &lot{cache: c, grace: grace}
}

// Park stores e under key until the grace period ends.
func (l *lot) Park(key string, e *timeline.Engine) {
	l.cache.Set(key, e, l.grace)
}

// Get returns the unexpired engine parked under key.
func (l *lot) Get(key string) (*timeline.Engine, bool) {
	obj, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	e, ok := obj.(*timeline.Engine)
	return e, ok
}

// Remove clears key's slot, expired or not.
func (l *lot) Remove(key string) {
	l.cache.Delete(key)
}

// Len counts parked engines, including expired ones the janitor has not
// removed yet.
func (l *lot) Len() int {
	return l.cache.ItemCount()
}

// Drain expires overdue engines through the callback, then empties the lot
// and returns the engines that were still within their grace period.
func (l *lot) Drain() []*timeline.Engine {
	l.cache.DeleteExpired()
	items := l.cache.Items()
	out := make([]*timeline.Engine, 0, len(items))
	for _, item := range items {
		if e, ok := item.Object.(*timeline.Engine); ok {
			out = append(out, e)
		}
	}
	l.cache.Flush()
	return out
}
