// Package feedclient fetches mission event records from the event log HTTP
// API. Client implements timeline.Fetcher.
package feedclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

// EventsPath is the collection endpoint queried by Fetch.
const EventsPath = "/events"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4096

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("event log returned %d: %s", e.StatusCode, e.Message)
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Records    []json.RawMessage `json:"records"`
	Count      int               `json:"count"`
	NextCursor *time.Time        `json:"nextCursor"`
	FetchedAt  time.Time         `json:"fetchedAt"`
}

// Client queries the event log over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	order      string
}

// Option configures Client behavior.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets a client-wide timeout. The engine already bounds each
// request through its context, so this is a backstop for direct callers.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a Client for the event log rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		order:      "asc",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch issues one GET /events request. A cancelled ctx yields an error
// matching context.Canceled.
func (c *Client) Fetch(ctx context.Context, req timeline.FetchRequest) (timeline.FetchResult, error) {
	if strings.TrimSpace(req.SubscriptionKey) == "" {
		return timeline.FetchResult{}, errors.New("subscription key is required")
	}

	fullURL := c.baseURL + EventsPath + "?" + buildQuery(req, c.order).Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return timeline.FetchResult{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Surface ctx errors unwrapped from url.Error so callers can
		// errors.Is them against context.Canceled / DeadlineExceeded.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return timeline.FetchResult{}, ctxErr
		}
		return timeline.FetchResult{}, fmt.Errorf("requesting events: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return timeline.FetchResult{}, readHTTPError(resp)
	}

	var body EventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return timeline.FetchResult{}, ctxErr
		}
		return timeline.FetchResult{}, fmt.Errorf("decoding events response: %w", err)
	}

	records := decodeRecords(body.Records)
	log.Debug(log.CatFetch, "fetched records",
		"key", req.SubscriptionKey, "mode", req.Mode, "count", len(records), "status", resp.StatusCode)

	fetchedAt := body.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}
	return timeline.FetchResult{
		Records:    records,
		FetchedAt:  fetchedAt,
		NextCursor: body.NextCursor,
	}, nil
}

func buildQuery(req timeline.FetchRequest, order string) url.Values {
	q := url.Values{}
	q.Set("subscriptionKey", req.SubscriptionKey)
	q.Set("order", order)
	limit := req.Limit
	if limit <= 0 {
		limit = timeline.DefaultBufferCapacity
	}
	q.Set("limit", strconv.Itoa(limit))
	if req.Mode == timeline.ModeDelta && req.Since != nil {
		q.Set("since", req.Since.UTC().Format(time.RFC3339Nano))
	}
	return q
}

// decodeRecords decodes each record independently so one malformed entry
// does not fail the batch.
func decodeRecords(raw []json.RawMessage) []timeline.Record {
	out := make([]timeline.Record, 0, len(raw))
	for i, msg := range raw {
		var r timeline.Record
		if err := json.Unmarshal(msg, &r); err != nil {
			log.Warn(log.CatFetch, "skipping malformed record", "index", i, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out
}

func readHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &payload) == nil {
		msg = strings.TrimSpace(payload.Error)
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: msg}
}
