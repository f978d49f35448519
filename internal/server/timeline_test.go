package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/missionfeed/internal/eventstore"
	"github.com/zjrosen/missionfeed/internal/hub"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

func newTimelineHandler(t *testing.T, fetcher timeline.Fetcher, store *eventstore.Store, loadWait time.Duration) (*Handler, *hub.Hub) {
	t.Helper()
	engines := hub.New(hub.Config{
		Fetcher: fetcher,
		Options: timeline.Options{PollInterval: time.Hour, HeartbeatInterval: time.Hour},
		Grace:   time.Minute,
	})
	t.Cleanup(engines.Close)
	return NewHandler(HandlerConfig{EventLog: store, Engines: engines, LoadWait: loadWait}), engines
}

func decodeTimeline(t *testing.T, w *httptest.ResponseRecorder) TimelineResponse {
	t.Helper()
	var resp TimelineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandler_Timeline_ClassifiesThroughSharedEngine(t *testing.T) {
	store, err := eventstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store, "k", 3)

	h, engines := newTimelineHandler(t, store, store, 0)

	w := serve(h, http.MethodGet, "/timeline?subscriptionKey=k", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeTimeline(t, w)
	assert.Equal(t, "k", resp.SubscriptionKey)
	assert.Equal(t, "polling", resp.State)
	assert.False(t, resp.IsLoading)
	require.Len(t, resp.Events, 3)
	assert.Equal(t, "r00", resp.Events[0].ID)
	assert.Equal(t, timeline.StatusInProgress, resp.Events[0].Status)
	assert.Nil(t, resp.ExitInfo)
	require.NotNil(t, resp.HeartbeatSeconds)

	assert.True(t, engines.Parked("k"), "released engine waits out its grace period")
	assert.Zero(t, engines.Refs("k"))

	// A second request revives the parked engine instead of refetching.
	w = serve(h, http.MethodGet, "/timeline?subscriptionKey=k", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeTimeline(t, w).Events, 3)
}

func TestHandler_Timeline_ReportsExit(t *testing.T) {
	store, err := eventstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	seed(t, store, "k", 1)
	_, err = store.Append(context.Background(), "k", timeline.Record{
		ID:        "exit",
		CreatedAt: base.Add(time.Minute),
		Metadata:  map[string]any{"event": timeline.ExitSentinel, "reason": "Mission complete", "missionStatus": "completed"},
	})
	require.NoError(t, err)

	h, _ := newTimelineHandler(t, store, store, 0)

	w := serve(h, http.MethodGet, "/timeline?subscriptionKey=k", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeTimeline(t, w)
	assert.Equal(t, "terminated", resp.State)
	require.NotNil(t, resp.ExitInfo)
	assert.Equal(t, "Mission complete", resp.ExitInfo.Reason)
	assert.Nil(t, resp.HeartbeatSeconds)
}

func TestHandler_Timeline_LoadWaitExpires(t *testing.T) {
	blocked := timeline.FetcherFunc(func(ctx context.Context, _ timeline.FetchRequest) (timeline.FetchResult, error) {
		<-ctx.Done()
		return timeline.FetchResult{}, ctx.Err()
	})
	store, err := eventstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h, _ := newTimelineHandler(t, blocked, store, 30*time.Millisecond)

	start := time.Now()
	w := serve(h, http.MethodGet, "/timeline?subscriptionKey=slow", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Less(t, time.Since(start), 2*time.Second)

	resp := decodeTimeline(t, w)
	assert.True(t, resp.IsLoading)
	assert.NotNil(t, resp.Events, "empty events render as []")
	assert.Contains(t, w.Body.String(), `"events":[]`)
}

func TestHandler_Timeline_Errors(t *testing.T) {
	store, err := eventstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h, _ := newTimelineHandler(t, store, store, 0)
	w := serve(h, http.MethodGet, "/timeline", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "subscriptionKey is required")

	plain := NewHandler(HandlerConfig{EventLog: store})
	w = serve(plain, http.MethodGet, "/timeline?subscriptionKey=k", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "route is absent without an engine source")
}
