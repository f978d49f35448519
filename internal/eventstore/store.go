// Package eventstore is the SQLite-backed append-only mission event log
// served by the missionfeed server.
package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
	"github.com/zjrosen/missionfeed/internal/tracing"
)

const (
	// DefaultLimit is used when a query does not set one.
	DefaultLimit = timeline.DefaultBufferCapacity
	// MaxLimit caps a single page.
	MaxLimit = 1000
)

// ErrInvalidRecord is returned by Append for records that cannot be stored.
var ErrInvalidRecord = errors.New("invalid record")

// Query selects one page of a subscription's log.
type Query struct {
	SubscriptionKey string
	// Since is an inclusive lower bound on CreatedAt. Records at exactly
	// Since are always returned; Limit applies to the newer ones. When nil,
	// the newest Limit records are returned.
	Since *time.Time
	Limit int
}

// Stats summarizes the log for health reporting.
type Stats struct {
	Subscriptions  int        `json:"subscriptions"`
	Records        int        `json:"records"`
	LastIngestedAt *time.Time `json:"lastIngestedAt,omitempty"`
}

// Store is an append-only event log keyed by subscription.
type Store struct {
	db     *sql.DB
	path   string
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTracer wraps queries in spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Store) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source used to stamp appended records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens or creates the database at path and migrates it. Use ":memory:"
// for a private in-memory log.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating event store directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	}

	log.Debug(log.CatStore, "Opening database", "path", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening event store: %w", err)
	}
	// One connection: SQLite serializes writers, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to event store %s: %w", path, err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating event store: %w", err)
	}

	s := &Store{
		db:     db,
		path:   path,
		tracer: tracing.NoopTracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Info(log.CatStore, "Event store ready", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores one record under key. An empty ID gets a UUID and a zero
// CreatedAt gets the current time. Appending an ID that already exists for
// the key is a no-op that returns the stored record unchanged.
func (s *Store) Append(ctx context.Context, key string, r timeline.Record) (timeline.Record, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return timeline.Record{}, fmt.Errorf("%w: subscription key is required", ErrInvalidRecord)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.CreatedAt = r.CreatedAt.UTC()

	var meta sql.NullString
	if len(r.Metadata) > 0 {
		b, err := json.Marshal(r.Metadata)
		if err != nil {
			return timeline.Record{}, fmt.Errorf("%w: metadata: %v", ErrInvalidRecord, err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	ctx, span := s.tracer.Start(ctx, tracing.SpanStoreWrite, trace.WithAttributes(
		attribute.String(tracing.AttrSubscriptionKey, key),
	))
	defer span.End()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (subscription_key, id, created_at, stage, role, metadata, content, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subscription_key, id) DO NOTHING`,
		key, r.ID, r.CreatedAt.UnixNano(), nullString(r.Stage), r.Role, meta, r.Content, now.UnixNano())
	if err != nil {
		tracing.Fail(span, err)
		return timeline.Record{}, fmt.Errorf("appending record: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug(log.CatStore, "Duplicate record ignored", "key", key, "id", r.ID)
		return s.get(ctx, key, r.ID)
	}
	log.Debug(log.CatStore, "Appended record", "key", key, "id", r.ID, "stage", r.Stage)
	return r, nil
}

func (s *Store) get(ctx context.Context, key, id string) (timeline.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, stage, role, metadata, content
		FROM events WHERE subscription_key = ? AND id = ?`, key, id)
	if err != nil {
		return timeline.Record{}, fmt.Errorf("loading record: %w", err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return timeline.Record{}, err
	}
	if len(recs) == 0 {
		return timeline.Record{}, sql.ErrNoRows
	}
	return recs[0], nil
}

// List returns one page of records for q.SubscriptionKey, ascending by
// CreatedAt then ID.
func (s *Store) List(ctx context.Context, q Query) ([]timeline.Record, error) {
	key := strings.TrimSpace(q.SubscriptionKey)
	if key == "" {
		return nil, fmt.Errorf("%w: subscription key is required", ErrInvalidRecord)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	attrs := []attribute.KeyValue{attribute.String(tracing.AttrSubscriptionKey, key)}
	if q.Since != nil {
		attrs = append(attrs, attribute.String(tracing.AttrFetchSince, q.Since.UTC().Format(time.RFC3339Nano)))
	}
	ctx, span := s.tracer.Start(ctx, tracing.SpanStoreList, trace.WithAttributes(attrs...))
	defer span.End()

	var (
		rows *sql.Rows
		err  error
	)
	if q.Since != nil {
		// Rows at exactly Since are returned in full and only newer rows
		// count against the limit, so a cursor shared by more than a page of
		// records still advances.
		since := q.Since.UnixNano()
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, created_at, stage, role, metadata, content
			FROM events
			WHERE subscription_key = ? AND created_at = ?
			UNION ALL
			SELECT id, created_at, stage, role, metadata, content FROM (
				SELECT id, created_at, stage, role, metadata, content
				FROM events
				WHERE subscription_key = ? AND created_at > ?
				ORDER BY created_at, id
				LIMIT ?
			)
			ORDER BY created_at, id`, key, since, key, since, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, created_at, stage, role, metadata, content FROM (
				SELECT id, created_at, stage, role, metadata, content
				FROM events
				WHERE subscription_key = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			) ORDER BY created_at, id`, key, limit)
	}
	if err != nil {
		tracing.Fail(span, err)
		return nil, fmt.Errorf("listing records: %w", err)
	}

	recs, err := scanRecords(rows)
	if err != nil {
		tracing.Fail(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrRecords, len(recs)))
	return recs, nil
}

// Stats counts subscriptions and records.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		st   Stats
		last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT subscription_key), COUNT(*), MAX(ingested_at) FROM events`,
	).Scan(&st.Subscriptions, &st.Records, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	if last.Valid && last.Int64 > 0 {
		t := time.Unix(0, last.Int64).UTC()
		st.LastIngestedAt = &t
	}
	return st, nil
}

func scanRecords(rows *sql.Rows) ([]timeline.Record, error) {
	defer func() { _ = rows.Close() }()

	var out []timeline.Record
	for rows.Next() {
		var (
			r       timeline.Record
			created int64
			stage   sql.NullString
			meta    sql.NullString
		)
		if err := rows.Scan(&r.ID, &created, &stage, &r.Role, &meta, &r.Content); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		r.Stage = stage.String
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				log.Warn(log.CatStore, "Dropping unreadable metadata", "id", r.ID, "error", err)
				r.Metadata = nil
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Fetch implements timeline.Fetcher against the local log, for watching a
// database file without running the server.
func (s *Store) Fetch(ctx context.Context, req timeline.FetchRequest) (timeline.FetchResult, error) {
	q := Query{SubscriptionKey: req.SubscriptionKey, Limit: req.Limit}
	if req.Mode == timeline.ModeDelta {
		q.Since = req.Since
	}
	recs, err := s.List(ctx, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return timeline.FetchResult{}, ctxErr
		}
		return timeline.FetchResult{}, err
	}
	res := timeline.FetchResult{Records: recs, FetchedAt: s.now().UTC()}
	if n := len(recs); n > 0 {
		next := recs[n-1].CreatedAt
		res.NextCursor = &next
	}
	return res, nil
}
