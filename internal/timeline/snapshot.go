package timeline

import "time"

// State is the scheduler state for the current subscription.
type State int

const (
	// StateIdle has no active subscription.
	StateIdle State = iota
	// StatePolling has both periodic tasks armed.
	StatePolling
	// StatePaused retains buffer and cursor with timers disarmed.
	StatePaused
	// StateTerminated saw the exit record; timers are gone for this key.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Snapshot is the read-only view handed to presentation layers.
type Snapshot struct {
	SubscriptionKey string
	State           State
	Enabled         bool

	Events    []Event
	IsLoading bool
	// Error is the last transient fetch error; empty when the last fetch
	// succeeded.
	Error       string
	LastUpdated *time.Time
	ExitInfo    *ExitInfo
	// HeartbeatSeconds is nil before the first event and after exit.
	HeartbeatSeconds *float64
	LastEventAt      *time.Time
}

// Terminated reports whether the exit record has been latched.
func (s Snapshot) Terminated() bool {
	return s.ExitInfo != nil
}
