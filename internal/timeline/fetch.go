package timeline

import (
	"context"
	"time"
)

// FetchRequest is one page request against the event log.
type FetchRequest struct {
	SubscriptionKey string
	Mode            Mode
	// Since is the cursor lower bound. Always nil for ModeInitial.
	Since *time.Time
	Limit int
}

// FetchResult is a decoded page of records, ascending by CreatedAt.
type FetchResult struct {
	Records    []Record
	FetchedAt  time.Time
	NextCursor *time.Time
}

// Fetcher retrieves records from the event log. Implementations must honor
// ctx cancellation and return an error satisfying
// errors.Is(err, context.Canceled) when the request was cancelled.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (FetchResult, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req FetchRequest) (FetchResult, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	return f(ctx, req)
}
