package pubsub

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// Listener holds one subscription open for a Bubble Tea model. Call Next from
// Init and again from Update after handling each event.
type Listener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewListener subscribes to sub for the lifetime of ctx.
func NewListener[T any](ctx context.Context, sub Subscriber[T]) *Listener[T] {
	return &Listener[T]{ctx: ctx, ch: sub.Subscribe(ctx)}
}

// Next returns a command that waits for the next event. Events already queued
// behind it are folded in, so the model redraws once per burst and receives
// the newest state. The command yields nil once ctx is done or the channel
// closes.
func (l *Listener[T]) Next() tea.Cmd {
	ctx, ch := l.ctx, l.ch
	return func() tea.Msg {
		var event Event[T]
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			event = ev
		}
		return coalesce(ch, event)
	}
}

// coalesce drains whatever is already queued on ch and returns the newest
// event. A terminated event anywhere in the run keeps its type.
func coalesce[T any](ch <-chan Event[T], event Event[T]) Event[T] {
	terminated := event.Type == TerminatedEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return finish(event, terminated)
			}
			terminated = terminated || ev.Type == TerminatedEvent
			event = ev
		default:
			return finish(event, terminated)
		}
	}
}

func finish[T any](event Event[T], terminated bool) Event[T] {
	if terminated {
		event.Type = TerminatedEvent
	}
	return event
}
