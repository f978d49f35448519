package feed

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/missionfeed/internal/pubsub"
)

func TestProgram_LiveUpdatesAndKeys(t *testing.T) {
	eng := newFakeEngine(liveSnapshot())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tm := teatest.NewTestModel(t, New(ctx, eng, Config{}), teatest.WithInitialTermSize(100, 30))

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Research started"))
	}, teatest.WithDuration(3*time.Second))

	next := liveSnapshot()
	next.Events = append(next.Events, next.Events[1])
	next.Events[2].ID = "3"
	next.Events[2].Label = "Draft ready"
	next.Events[2].CreatedAt = t0.Add(9 * time.Second)
	eng.publish(pubsub.SnapshotEvent, next)

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Draft ready"))
	}, teatest.WithDuration(3*time.Second))

	tm.Send(runes("p"))
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Paused"))
	}, teatest.WithDuration(3*time.Second))

	tm.Send(runes("q"))
	tm.WaitFinished(t, teatest.WithFinalTimeout(3*time.Second))

	final := tm.FinalModel(t).(Model)
	require.Len(t, final.Snapshot().Events, 3)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	require.Equal(t, []bool{false}, eng.enabled)
}
