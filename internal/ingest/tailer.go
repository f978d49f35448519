// Package ingest tails a JSONL file of mission records into the event log.
//
// Each line is one JSON object: a record ({id, createdAt, stage, role,
// metadata, content}) plus a "subscriptionKey" naming the log it belongs to.
// Only complete, newline-terminated lines are consumed; a partially written
// last line is picked up on the next change.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
	"github.com/zjrosen/missionfeed/internal/watcher"
)

// Appender stores records. eventstore.Store implements it.
type Appender interface {
	Append(ctx context.Context, key string, r timeline.Record) (timeline.Record, error)
}

// Config configures a Tailer.
type Config struct {
	Path string
	// DefaultKey is used for lines without a subscriptionKey.
	DefaultKey string
	Debounce   time.Duration
}

// Tailer appends new JSONL lines from a file to an Appender.
type Tailer struct {
	cfg   Config
	store Appender

	mu     sync.Mutex
	offset int64
}

// New creates a tailer. Nothing is read until Run or Scan.
func New(cfg Config, store Appender) *Tailer {
	return &Tailer{cfg: cfg, store: store}
}

// Offset returns the byte offset of the next unread line.
func (t *Tailer) Offset() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Run scans existing content, then follows the file until ctx is done.
func (t *Tailer) Run(ctx context.Context) error {
	w, err := watcher.New(watcher.Config{Path: t.cfg.Path, Debounce: t.cfg.Debounce})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	changes, err := w.Start()
	if err != nil {
		return err
	}
	log.Info(log.CatIngest, "Tailing file", "path", t.cfg.Path)

	if _, err := t.Scan(ctx); err != nil {
		log.ErrorErr(log.CatIngest, "Initial scan failed", err, "path", t.cfg.Path)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-changes:
			if c.Replaced {
				t.Rewind()
			}
			if _, err := t.Scan(ctx); err != nil {
				log.ErrorErr(log.CatIngest, "Scan failed", err, "path", t.cfg.Path)
			}
		}
	}
}

// Rewind makes the next Scan start from the beginning of the file. Records
// already stored are deduplicated by ID; lines without one get an ID derived
// from their path, offset and content.
func (t *Tailer) Rewind() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = 0
}

// Scan reads every complete line after the current offset and appends the
// records it decodes. It returns how many records were appended. A file that
// shrank is treated as truncated and re-read from the start; a missing file
// is not an error.
func (t *Tailer) Scan(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.cfg.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening %s: %w", t.cfg.Path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", t.cfg.Path, err)
	}
	if info.Size() < t.offset {
		log.Warn(log.CatIngest, "File truncated, rereading", "path", t.cfg.Path, "size", info.Size(), "offset", t.offset)
		t.offset = 0
	}
	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seeking %s: %w", t.cfg.Path, err)
	}

	r := bufio.NewReader(f)
	appended := 0
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// Partial line: leave it for the next scan.
			return appended, nil
		}
		if err != nil {
			return appended, fmt.Errorf("reading %s: %w", t.cfg.Path, err)
		}
		lineStart := t.offset
		t.offset += int64(len(line))

		key, rec, ok := t.decodeLine(line, lineStart)
		if !ok {
			continue
		}
		if _, err := t.store.Append(ctx, key, rec); err != nil {
			// Rewind so the line is retried on the next change.
			t.offset = lineStart
			return appended, fmt.Errorf("appending line at offset %d: %w", lineStart, err)
		}
		appended++
	}
}

func (t *Tailer) decodeLine(line []byte, offset int64) (string, timeline.Record, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", timeline.Record{}, false
	}

	var envelope struct {
		SubscriptionKey string `json:"subscriptionKey"`
	}
	var rec timeline.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		log.Warn(log.CatIngest, "Skipping malformed line", "path", t.cfg.Path, "offset", offset, "error", err)
		return "", timeline.Record{}, false
	}
	// The record decoded, so the line is an object; a mistyped key falls
	// back to the default.
	_ = json.Unmarshal(line, &envelope)

	key := strings.TrimSpace(envelope.SubscriptionKey)
	if key == "" {
		key = t.cfg.DefaultKey
	}
	if key == "" {
		log.Warn(log.CatIngest, "Skipping line without subscription key", "path", t.cfg.Path, "offset", offset)
		return "", timeline.Record{}, false
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = lineID(t.cfg.Path, offset, line)
	}
	return key, rec, true
}

// lineID derives a stable ID for a record that carries none, so rereading
// the same line after a rewind stores nothing new. The offset keeps
// identical lines at different positions distinct.
func lineID(path string, offset int64, line []byte) string {
	name := fmt.Sprintf("%s:%d:%s", path, offset, line)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
