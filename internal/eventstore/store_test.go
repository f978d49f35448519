package eventstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/missionfeed/internal/timeline"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendN(t *testing.T, s *Store, key string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Append(context.Background(), key, timeline.Record{
			ID:        fmt.Sprintf("r%03d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Stage:     "executor_step_complete",
		})
		require.NoError(t, err)
	}
}

func recordIDs(recs []timeline.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestOpen_Migrates(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestOpen_FileReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.Append(ctx, "k", timeline.Record{ID: "a", CreatedAt: base})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	recs, err := s.List(ctx, Query{SubscriptionKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, recordIDs(recs))
}

func TestAppend_AssignsIDAndTime(t *testing.T) {
	now := base.Add(time.Hour)
	s := newTestStore(t, WithClock(func() time.Time { return now }))

	got, err := s.Append(context.Background(), "k", timeline.Record{
		Stage:    "intake_received",
		Metadata: map[string]any{"mission_id": "m-1", "count": 3},
		Content:  "hello",
	})
	require.NoError(t, err)

	_, err = uuid.Parse(got.ID)
	require.NoError(t, err, "generated ids are uuids")
	assert.Equal(t, now, got.CreatedAt)

	recs, err := s.List(context.Background(), Query{SubscriptionKey: "k"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, got.ID, recs[0].ID)
	assert.Equal(t, "intake_received", recs[0].Stage)
	assert.Equal(t, "m-1", recs[0].Metadata["mission_id"])
	assert.Equal(t, float64(3), recs[0].Metadata["count"])
	assert.Equal(t, "hello", recs[0].Content)
}

func TestAppend_DuplicateIgnored(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Append(ctx, "k", timeline.Record{ID: "a", CreatedAt: base, Content: "first"})
	require.NoError(t, err)
	got, err := s.Append(ctx, "k", timeline.Record{ID: "a", CreatedAt: base.Add(time.Hour), Content: "second"})
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)

	recs, err := s.List(ctx, Query{SubscriptionKey: "k"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "first", recs[0].Content)

	// The same id under another key is a different record.
	_, err = s.Append(ctx, "other", timeline.Record{ID: "a", CreatedAt: base})
	require.NoError(t, err)
}

func TestAppend_RequiresKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(context.Background(), " ", timeline.Record{})
	require.ErrorIs(t, err, ErrInvalidRecord)

	_, err = s.List(context.Background(), Query{})
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestAppend_EmptyStageIsNull(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(context.Background(), "k", timeline.Record{ID: "a", CreatedAt: base})
	require.NoError(t, err)

	var isNull bool
	require.NoError(t, s.db.QueryRow(`SELECT stage IS NULL FROM events WHERE id = 'a'`).Scan(&isNull))
	assert.True(t, isNull)
}

func TestList_InitialReturnsNewestWindowAscending(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "k", 10)

	recs, err := s.List(context.Background(), Query{SubscriptionKey: "k", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"r007", "r008", "r009"}, recordIDs(recs))
}

func TestList_SinceIsInclusive(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "k", 10)

	since := base.Add(7 * time.Second)
	recs, err := s.List(context.Background(), Query{SubscriptionKey: "k", Since: &since})
	require.NoError(t, err)
	assert.Equal(t, []string{"r007", "r008", "r009"}, recordIDs(recs))

	later := base.Add(time.Hour)
	recs, err = s.List(context.Background(), Query{SubscriptionKey: "k", Since: &later})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestList_SinceRespectsLimitFromOldest(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "k", 10)

	since := base.Add(500 * time.Millisecond)
	recs, err := s.List(context.Background(), Query{SubscriptionKey: "k", Since: &since, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"r001", "r002"}, recordIDs(recs))

	// The record at the cursor does not use up the page.
	since = base.Add(time.Second)
	recs, err = s.List(context.Background(), Query{SubscriptionKey: "k", Since: &since, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"r001", "r002", "r003"}, recordIDs(recs))
}

func TestList_SinceAdvancesPastCrowdedTimestamp(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Append(context.Background(), "k", timeline.Record{ID: fmt.Sprintf("r%d", i), CreatedAt: base})
		require.NoError(t, err)
	}
	_, err := s.Append(context.Background(), "k", timeline.Record{ID: "next", CreatedAt: base.Add(time.Second)})
	require.NoError(t, err)

	since := base
	recs, err := s.List(context.Background(), Query{SubscriptionKey: "k", Since: &since, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1", "r2", "r3", "r4", "next"}, recordIDs(recs))

	// A cursor taken from that page moves forward.
	since = recs[len(recs)-1].CreatedAt
	recs, err = s.List(context.Background(), Query{SubscriptionKey: "k", Since: &since, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"next"}, recordIDs(recs))
}

func TestList_TiesOrderedByID(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"c", "a", "b"} {
		_, err := s.Append(context.Background(), "k", timeline.Record{ID: id, CreatedAt: base})
		require.NoError(t, err)
	}
	recs, err := s.List(context.Background(), Query{SubscriptionKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, recordIDs(recs))
}

func TestList_IsolatesKeys(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "a", 3)
	appendN(t, s, "b", 5)

	recs, err := s.List(context.Background(), Query{SubscriptionKey: "a"})
	require.NoError(t, err)
	assert.Len(t, recs, 3)

	st, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Subscriptions)
	assert.Equal(t, 8, st.Records)
	assert.NotNil(t, st.LastIngestedAt)
}

func TestStats_Empty(t *testing.T) {
	st, err := newTestStore(t).Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Records)
	assert.Nil(t, st.LastIngestedAt)
}

func TestAppend_Concurrent(t *testing.T) {
	s := newTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(context.Background(), "k", timeline.Record{ID: fmt.Sprintf("c%02d", i), CreatedAt: base})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	recs, err := s.List(context.Background(), Query{SubscriptionKey: "k", Limit: MaxLimit + 5})
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestStore_DrivesEngine(t *testing.T) {
	s := newTestStore(t)
	appendN(t, s, "k", 3)

	e := timeline.New(s, timeline.Options{PollInterval: 20 * time.Millisecond, HeartbeatInterval: time.Hour})
	t.Cleanup(e.Close)
	e.Open("k")

	require.Eventually(t, func() bool {
		return len(e.Snapshot().Events) == 3
	}, 2*time.Second, 5*time.Millisecond)

	_, err := s.Append(context.Background(), "k", timeline.Record{
		ID:        "exit",
		CreatedAt: base.Add(time.Minute),
		Metadata:  map[string]any{"event": timeline.ExitSentinel, "reason": "done"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return e.State() == timeline.StateTerminated
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, e.Snapshot().Events, 4)
}
