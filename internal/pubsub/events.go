// Package pubsub fans one feed engine's snapshots out to every consumer
// watching the same subscription.
package pubsub

import (
	"context"
	"time"
)

// EventType tags why a snapshot was published.
type EventType string

const (
	// SnapshotEvent carries a full state snapshot.
	SnapshotEvent EventType = "snapshot"
	// HeartbeatEvent carries a snapshot whose only change is the heartbeat.
	HeartbeatEvent EventType = "heartbeat"
	// TerminatedEvent is published once when the exit record is latched.
	TerminatedEvent EventType = "terminated"
)

// Event is one published value. Seq increases by one per Publish on the
// same broker, so a gap tells a consumer it missed intermediate states.
type Event[T any] struct {
	Type      EventType
	Seq       uint64
	Payload   T
	Timestamp time.Time
}

// Subscriber is implemented by anything that hands out event channels.
// The channel closes when ctx is done or the source shuts down.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}
