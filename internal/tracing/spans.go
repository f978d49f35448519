package tracing

// Span attribute keys.
const (
	AttrSubscriptionKey = "feed.subscription_key"
	AttrFetchMode       = "feed.mode"
	AttrFetchSince      = "feed.since"
	AttrRecords         = "feed.records"
	AttrMerged          = "feed.merged"
	AttrBufferSize      = "feed.buffer_size"
	AttrExitReason      = "feed.exit_reason"

	AttrHTTPStatus = "http.status_code"
	AttrHTTPRoute  = "http.route"

	AttrErrorMessage = "error.message"
)

// Span names.
const (
	SpanFetch        = "feed.fetch"
	SpanStoreList    = "store.list"
	SpanStoreWrite   = "store.append"
	SpanHTTPEvents   = "http.events"
	SpanHTTPTimeline = "http.timeline"
)

// Span event names.
const (
	EventDiscarded = "fetch.discarded"
	EventExit      = "feed.exit_latched"
)
