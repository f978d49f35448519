package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/missionfeed/internal/eventstore"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mockEventLog struct {
	mock.Mock
}

func (m *mockEventLog) Append(ctx context.Context, key string, r timeline.Record) (timeline.Record, error) {
	args := m.Called(ctx, key, r)
	return args.Get(0).(timeline.Record), args.Error(1)
}

func (m *mockEventLog) List(ctx context.Context, q eventstore.Query) ([]timeline.Record, error) {
	args := m.Called(ctx, q)
	recs, _ := args.Get(0).([]timeline.Record)
	return recs, args.Error(1)
}

func (m *mockEventLog) Stats(ctx context.Context) (eventstore.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(eventstore.Stats), args.Error(1)
}

func newStoreHandler(t *testing.T) (*Handler, *eventstore.Store) {
	t.Helper()
	store, err := eventstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewHandler(HandlerConfig{EventLog: store, Now: func() time.Time { return base.Add(time.Hour) }}), store
}

func seed(t *testing.T, store *eventstore.Store, key string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.Append(context.Background(), key, timeline.Record{
			ID:        fmt.Sprintf("r%02d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Stage:     "executor_step_complete",
		})
		require.NoError(t, err)
	}
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

func decodeEvents(t *testing.T, w *httptest.ResponseRecorder) EventsResponse {
	t.Helper()
	var resp EventsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandler_ListEvents_Initial(t *testing.T) {
	h, store := newStoreHandler(t)
	seed(t, store, "k", 5)

	w := serve(h, http.MethodGet, "/events?subscriptionKey=k&order=asc&limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decodeEvents(t, w)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "r02", resp.Records[0].ID)
	assert.Equal(t, "r04", resp.Records[2].ID)
	require.NotNil(t, resp.NextCursor)
	assert.True(t, base.Add(4*time.Second).Equal(*resp.NextCursor))
	assert.True(t, base.Add(time.Hour).Equal(resp.FetchedAt))
}

func TestHandler_ListEvents_Since(t *testing.T) {
	h, store := newStoreHandler(t)
	seed(t, store, "k", 5)

	since := base.Add(3 * time.Second).Format(time.RFC3339Nano)
	w := serve(h, http.MethodGet, "/events?subscriptionKey=k&since="+since, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeEvents(t, w)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "r03", resp.Records[0].ID, "since is inclusive")
}

func TestHandler_ListEvents_Desc(t *testing.T) {
	h, store := newStoreHandler(t)
	seed(t, store, "k", 3)

	resp := decodeEvents(t, serve(h, http.MethodGet, "/events?subscriptionKey=k&order=desc", ""))
	assert.Equal(t, "r02", resp.Records[0].ID)
	assert.True(t, base.Add(2*time.Second).Equal(*resp.NextCursor))
}

func TestHandler_ListEvents_EmptyIsArray(t *testing.T) {
	h, _ := newStoreHandler(t)

	w := serve(h, http.MethodGet, "/events?subscriptionKey=nobody", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"records":[]`)
	assert.Contains(t, w.Body.String(), `"nextCursor":null`)
}

func TestHandler_ListEvents_BadRequests(t *testing.T) {
	h, _ := newStoreHandler(t)

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"missing key", "/events", "subscriptionKey is required"},
		{"blank key", "/events?subscriptionKey=%20", "subscriptionKey is required"},
		{"bad limit", "/events?subscriptionKey=k&limit=abc", "limit must be"},
		{"zero limit", "/events?subscriptionKey=k&limit=0", "limit must be"},
		{"huge limit", "/events?subscriptionKey=k&limit=5000", "limit must be"},
		{"bad since", "/events?subscriptionKey=k&since=yesterday", "since must be"},
		{"bad order", "/events?subscriptionKey=k&order=sideways", "order must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, http.MethodGet, tt.target, "")
			require.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error, tt.want)
		})
	}
}

func TestHandler_ListEvents_StoreFailure(t *testing.T) {
	m := &mockEventLog{}
	m.On("List", mock.Anything, mock.MatchedBy(func(q eventstore.Query) bool {
		return q.SubscriptionKey == "k" && q.Limit == 120
	})).Return(nil, errors.New("disk on fire")).Once()

	w := serve(NewHandler(HandlerConfig{EventLog: m}), http.MethodGet, "/events?subscriptionKey=k&limit=120", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
	m.AssertExpectations(t)
}

func TestHandler_AppendEvent(t *testing.T) {
	h, store := newStoreHandler(t)

	w := serve(h, http.MethodPost, "/events?subscriptionKey=k",
		`{"id": "a1", "createdAt": "2025-06-01T12:00:00Z", "stage": "intake_received", "metadata": {"mission_id": "m-1"}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var stored timeline.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stored))
	assert.Equal(t, "a1", stored.ID)

	recs, err := store.List(context.Background(), eventstore.Query{SubscriptionKey: "k"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m-1", recs[0].Metadata["mission_id"])
}

func TestHandler_AppendEvent_Errors(t *testing.T) {
	h, _ := newStoreHandler(t)

	w := serve(h, http.MethodPost, "/events", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/events?subscriptionKey=k", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/events?subscriptionKey=k", `["array"]`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/events?subscriptionKey=k", `{"content": "`+string(bytes.Repeat([]byte("x"), maxBodyBytes))+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestHandler_AppendEvent_StoreFailure(t *testing.T) {
	m := &mockEventLog{}
	m.On("Append", mock.Anything, "k", mock.Anything).Return(timeline.Record{}, errors.New("locked")).Once()

	w := serve(NewHandler(HandlerConfig{EventLog: m}), http.MethodPost, "/events?subscriptionKey=k", `{"id": "x"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	m.AssertExpectations(t)
}

func TestHandler_Health(t *testing.T) {
	h, store := newStoreHandler(t)
	seed(t, store, "k", 2)

	w := serve(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Stats)
	assert.Equal(t, 2, resp.Stats.Records)
}

func TestHandler_Health_Unhealthy(t *testing.T) {
	m := &mockEventLog{}
	m.On("Stats", mock.Anything).Return(eventstore.Stats{}, errors.New("closed")).Once()

	w := serve(NewHandler(HandlerConfig{EventLog: m}), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newStoreHandler(t)
	w := serve(h, http.MethodDelete, "/events", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
