// Package watcher reports debounced changes to one file, such as a JSONL
// log that another process appends to or rotates.
package watcher

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/missionfeed/internal/log"
)

// DefaultDebounce is the quiet period that ends a burst of changes.
const DefaultDebounce = 200 * time.Millisecond

// Change summarizes one burst of file events.
type Change struct {
	// Replaced is set when the file was created, renamed or removed during
	// the burst, meaning earlier read offsets no longer apply.
	Replaced bool
}

// Config holds watcher configuration options.
type Config struct {
	Path     string
	Debounce time.Duration
}

// Watcher delivers at most one pending Change at a time; bursts that arrive
// while a Change is still unread are merged into it.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	name     string
	debounce time.Duration

	changes chan Change
	done    chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
}

// New creates a watcher for cfg.Path. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fs:       fsw,
		path:     cfg.Path,
		name:     filepath.Base(cfg.Path),
		debounce: debounce,
		changes:  make(chan Change, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory, so the file may appear or be replaced
// after Start.
func (w *Watcher) Start() (<-chan Change, error) {
	dir := filepath.Dir(w.path)
	if err := w.fs.Add(dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}
	w.wg.Add(1)
	go w.loop()
	return w.changes, nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stop.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	var (
		pending bool
		burst   Change
	)
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			op, relevant := w.classify(event)
			if !relevant {
				continue
			}
			burst.Replaced = burst.Replaced || op
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case <-timer.C:
			if !pending {
				continue
			}
			w.deliver(burst)
			pending, burst = false, Change{}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warn(log.CatIngest, "File watcher error", "path", w.path, "error", err)
		}
	}
}

// deliver queues c, merging it into an unread Change if one is waiting.
func (w *Watcher) deliver(c Change) {
	select {
	case w.changes <- c:
		return
	default:
	}
	select {
	case prev := <-w.changes:
		c.Replaced = c.Replaced || prev.Replaced
	default:
	}
	select {
	case w.changes <- c:
	default:
	}
}

// classify reports whether event concerns the watched file and whether it
// replaced the file rather than extending it.
func (w *Watcher) classify(event fsnotify.Event) (replaced, relevant bool) {
	if filepath.Base(event.Name) != w.name {
		return false, false
	}
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0:
		return true, true
	case event.Op&fsnotify.Write != 0:
		return false, true
	default:
		return false, false
	}
}
