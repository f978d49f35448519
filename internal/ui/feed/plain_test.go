package feed

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/missionfeed/internal/pubsub"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

func TestPrinter_PrintsEachEventOnce(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, Config{})

	snap := liveSnapshot()
	snap.Events = snap.Events[:1]
	require.NoError(t, p.Print(snap))
	require.NoError(t, p.Print(snap))

	snap = liveSnapshot()
	require.NoError(t, p.Print(snap))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "12:00:00 complete    Intake received          Mission request accepted", lines[0])
	require.Equal(t, "12:00:02 in_progress Research started         Searching 3 sources", lines[1])
}

func TestPrinter_RoleAndMultilineDescription(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, Config{ShowRole: true, TimeFormat: time.RFC3339})

	snap := timeline.Snapshot{Events: []timeline.Event{{
		ID:          "1",
		CreatedAt:   t0,
		Label:       "Agent update",
		Description: "line one\n  line two",
		Status:      timeline.StatusPending,
		Role:        "assistant",
	}}}
	require.NoError(t, p.Print(snap))
	require.Equal(t,
		"2025-06-01T12:00:00Z pending     Agent update             [assistant] line one line two\n",
		buf.String())
}

func TestPrinter_ErrorsAndExit(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, Config{})

	snap := timeline.Snapshot{SubscriptionKey: "k", Error: "HTTP 503"}
	require.NoError(t, p.Print(snap))
	require.NoError(t, p.Print(snap))
	snap.Error = ""
	require.NoError(t, p.Print(snap))
	snap.Error = "HTTP 503"
	require.NoError(t, p.Print(snap))

	snap.Error = ""
	snap.ExitInfo = &timeline.ExitInfo{Reason: "Mission complete", MissionStatus: "completed"}
	require.NoError(t, p.Print(snap))
	require.NoError(t, p.Print(snap))

	require.Equal(t,
		"error: HTTP 503\nerror: HTTP 503\nmission ended: Mission complete (completed)\n",
		buf.String())
}

func TestRunPlain_StopsAtExit(t *testing.T) {
	eng := newFakeEngine(timeline.Snapshot{})
	var buf bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- RunPlain(ctx, eng, &buf, Config{}) }()

	require.Eventually(t, func() bool { return eng.broker.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	eng.publish(pubsub.SnapshotEvent, liveSnapshot())

	final := liveSnapshot()
	final.ExitInfo = &timeline.ExitInfo{Reason: "done"}
	eng.publish(pubsub.TerminatedEvent, final)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("RunPlain did not return after exit")
	}
	require.Contains(t, buf.String(), "Intake received")
	require.True(t, strings.HasSuffix(buf.String(), "mission ended: done\n"))
}

func TestRunPlain_ReturnsOnCancel(t *testing.T) {
	eng := newFakeEngine(timeline.Snapshot{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, RunPlain(ctx, eng, &bytes.Buffer{}, Config{}))
}
