package feed

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/missionfeed/internal/pubsub"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	time.Local = time.UTC
	os.Exit(m.Run())
}

type fakeEngine struct {
	broker *pubsub.Broker[timeline.Snapshot]

	mu        sync.Mutex
	snap      timeline.Snapshot
	enabled   []bool
	refreshes int
}

func newFakeEngine(snap timeline.Snapshot) *fakeEngine {
	return &fakeEngine{broker: pubsub.NewBroker[timeline.Snapshot](), snap: snap}
}

func (f *fakeEngine) Subscribe(ctx context.Context) <-chan pubsub.Event[timeline.Snapshot] {
	return f.broker.Subscribe(ctx)
}

func (f *fakeEngine) Snapshot() timeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = append(f.enabled, enabled)
}

func (f *fakeEngine) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeEngine) publish(t pubsub.EventType, snap timeline.Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
	f.broker.Publish(t, snap)
}

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sampleEvents() []timeline.Event {
	return []timeline.Event{
		{
			ID:          "1",
			CreatedAt:   t0,
			Stage:       "intake_received",
			Label:       "Intake received",
			Description: "Mission request accepted",
			Status:      timeline.StatusComplete,
			Role:        "system",
		},
		{
			ID:          "2",
			CreatedAt:   t0.Add(2 * time.Second),
			Stage:       "research_started",
			Label:       "Research started",
			Description: "Searching 3 sources",
			Status:      timeline.StatusInProgress,
			Role:        "assistant",
		},
	}
}

func liveSnapshot() timeline.Snapshot {
	hb := 7.5
	updated := t0.Add(3 * time.Second)
	return timeline.Snapshot{
		SubscriptionKey:  "thread-1",
		State:            timeline.StatePolling,
		Enabled:          true,
		Events:           sampleEvents(),
		HeartbeatSeconds: &hb,
		LastUpdated:      &updated,
	}
}

func newModel(t *testing.T, eng *fakeEngine, cfg Config) Model {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := New(ctx, eng, cfg)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func apply(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	updated, cmd := m.Update(msg)
	return updated.(Model), cmd
}

func TestView_NoSubscription(t *testing.T) {
	m := newModel(t, newFakeEngine(timeline.Snapshot{}), Config{})

	view := m.View()
	require.Contains(t, view, "(no subscription)")
	require.Contains(t, view, "No subscription key")
	require.Contains(t, view, "○ idle")
	require.Contains(t, view, "♥ --")
}

func TestView_RendersEventsOldestFirst(t *testing.T) {
	m := newModel(t, newFakeEngine(liveSnapshot()), Config{})

	view := m.View()
	require.Contains(t, view, "Mission feed thread-1")
	require.Contains(t, view, "● live")
	require.Contains(t, view, "♥ 7.5s")
	require.Contains(t, view, "updated 12:00:03")
	require.Contains(t, view, "12:00:00 ● Intake received")
	require.Contains(t, view, "12:00:02 ◐ Research started")
	require.Contains(t, view, "    Searching 3 sources")
	require.Less(t, strings.Index(view, "Intake received"), strings.Index(view, "Research started"))
	require.NotContains(t, view, "[assistant]", "roles hidden by default")
}

func TestView_ShowRole(t *testing.T) {
	m := newModel(t, newFakeEngine(liveSnapshot()), Config{ShowRole: true})
	require.Contains(t, m.View(), "Research started [assistant]")
}

func TestView_LoadingAndError(t *testing.T) {
	snap := timeline.Snapshot{
		SubscriptionKey: "thread-1",
		State:           timeline.StatePolling,
		Enabled:         true,
		IsLoading:       true,
		Error:           "request timed out after 4s",
	}
	m := newModel(t, newFakeEngine(snap), Config{})

	view := m.View()
	require.Contains(t, view, "loading")
	require.Contains(t, view, "Loading mission events…")
	require.Contains(t, view, "⚠ request timed out after 4s")
}

func TestView_WaitingForEvents(t *testing.T) {
	snap := timeline.Snapshot{SubscriptionKey: "k", State: timeline.StatePolling, Enabled: true}
	m := newModel(t, newFakeEngine(snap), Config{})
	require.Contains(t, m.View(), "Waiting for mission events…")
}

func TestView_PausedWhileIdle(t *testing.T) {
	snap := timeline.Snapshot{SubscriptionKey: "k", State: timeline.StateIdle, Enabled: false}
	m := newModel(t, newFakeEngine(snap), Config{})
	require.Contains(t, m.View(), "❚❚ paused")
}

func TestView_MaxRendered(t *testing.T) {
	snap := liveSnapshot()
	snap.Events = append(snap.Events, timeline.Event{
		ID: "3", CreatedAt: t0.Add(5 * time.Second), Label: "Draft ready", Status: timeline.StatusComplete,
	})
	m := newModel(t, newFakeEngine(snap), Config{MaxRendered: 1})

	view := m.View()
	require.Contains(t, view, "… 2 earlier events")
	require.Contains(t, view, "Draft ready")
	require.NotContains(t, view, "Intake received")
}

func TestHeartbeatView_Thresholds(t *testing.T) {
	m := newModel(t, newFakeEngine(liveSnapshot()), Config{StaleAfter: 5 * time.Second, DeadAfter: 10 * time.Second})

	for _, secs := range []float64{1, 6, 61} {
		hb := secs
		m.snap.HeartbeatSeconds = &hb
		require.Contains(t, m.heartbeatView(), "♥")
	}
	hb := 61.0
	m.snap.HeartbeatSeconds = &hb
	require.Equal(t, "♥ 1m01s", m.heartbeatView())
}

func TestUpdate_SnapshotEventReplacesView(t *testing.T) {
	eng := newFakeEngine(timeline.Snapshot{SubscriptionKey: "thread-1", State: timeline.StatePolling, Enabled: true})
	m := newModel(t, eng, Config{})
	require.NotContains(t, m.View(), "Intake received")

	m, cmd := apply(t, m, pubsub.Event[timeline.Snapshot]{Type: pubsub.SnapshotEvent, Payload: liveSnapshot()})
	require.NotNil(t, cmd, "keeps listening")
	require.Contains(t, m.View(), "Intake received")
	require.Len(t, m.Snapshot().Events, 2)
}

func TestUpdate_ListensToEngine(t *testing.T) {
	eng := newFakeEngine(timeline.Snapshot{})
	m := newModel(t, eng, Config{})

	eng.publish(pubsub.SnapshotEvent, liveSnapshot())
	msg := m.listener.Next()()
	ev, ok := msg.(pubsub.Event[timeline.Snapshot])
	require.True(t, ok)
	require.Equal(t, "thread-1", ev.Payload.SubscriptionKey)
}

func TestUpdate_ExitShowsBannerAndToastOnce(t *testing.T) {
	m := newModel(t, newFakeEngine(liveSnapshot()), Config{})

	snap := liveSnapshot()
	snap.State = timeline.StateTerminated
	snap.HeartbeatSeconds = nil
	snap.ExitInfo = &timeline.ExitInfo{
		Reason:        "Mission complete",
		Stage:         "draft_ready",
		MissionStatus: "completed",
		At:            t0.Add(10 * time.Second),
	}

	m, _ = apply(t, m, pubsub.Event[timeline.Snapshot]{Type: pubsub.TerminatedEvent, Payload: snap})
	view := m.View()
	require.Contains(t, view, "Mission ended: Mission complete")
	require.Contains(t, view, "stage draft_ready · status completed · at 12:00:10")
	require.Contains(t, view, "■ ended")
	require.Contains(t, view, "▲ Mission ended")
	require.True(t, m.announced)

	// A later snapshot of the same terminated feed does not toast again.
	m.toast = m.toast.Hide()
	m, _ = apply(t, m, pubsub.Event[timeline.Snapshot]{Type: pubsub.SnapshotEvent, Payload: snap})
	require.False(t, m.toast.Visible())
}

func TestKeys_PauseResume(t *testing.T) {
	eng := newFakeEngine(liveSnapshot())
	m := newModel(t, eng, Config{})

	m, cmd := apply(t, m, runes("p"))
	require.NotNil(t, cmd, "toast dismiss is scheduled")
	require.Equal(t, []bool{false}, eng.enabled)
	require.Contains(t, m.View(), "Paused")

	paused := liveSnapshot()
	paused.State = timeline.StatePaused
	paused.Enabled = false
	m, _ = apply(t, m, pubsub.Event[timeline.Snapshot]{Type: pubsub.SnapshotEvent, Payload: paused})

	m, _ = apply(t, m, runes("p"))
	require.Equal(t, []bool{false, true}, eng.enabled)
	require.Contains(t, m.View(), "Resumed")
}

func TestKeys_PauseIgnoredWhenTerminatedOrUnkeyed(t *testing.T) {
	snap := liveSnapshot()
	snap.ExitInfo = &timeline.ExitInfo{Reason: "done"}
	eng := newFakeEngine(snap)
	m := newModel(t, eng, Config{})
	_, cmd := apply(t, m, runes("p"))
	require.Nil(t, cmd)
	require.Empty(t, eng.enabled)

	eng2 := newFakeEngine(timeline.Snapshot{})
	m2 := newModel(t, eng2, Config{})
	_, _ = apply(t, m2, runes("p"))
	_, _ = apply(t, m2, runes("r"))
	require.Empty(t, eng2.enabled)
	require.Zero(t, eng2.refreshes)
}

func TestKeys_Refresh(t *testing.T) {
	eng := newFakeEngine(liveSnapshot())
	m := newModel(t, eng, Config{})

	m, _ = apply(t, m, runes("r"))
	require.Equal(t, 1, eng.refreshes)
	require.Contains(t, m.View(), "Refreshing")
}

func TestKeys_Quit(t *testing.T) {
	m := newModel(t, newFakeEngine(liveSnapshot()), Config{})

	_, cmd := apply(t, m, runes("q"))
	require.NotNil(t, cmd)
	require.Equal(t, tea.QuitMsg{}, cmd())

	_, cmd = apply(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.Equal(t, tea.QuitMsg{}, cmd())
}

func TestKeys_HelpToggle(t *testing.T) {
	m := newModel(t, newFakeEngine(liveSnapshot()), Config{})
	require.NotContains(t, m.View(), "page up")

	m, _ = apply(t, m, runes("?"))
	require.Contains(t, m.View(), "page up")
}

func TestLayout_FollowsNewestEvent(t *testing.T) {
	snap := liveSnapshot()
	for i := 3; i < 40; i++ {
		snap.Events = append(snap.Events, timeline.Event{
			ID:        "e" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			CreatedAt: t0.Add(time.Duration(i) * time.Second),
			Label:     "Step",
			Status:    timeline.StatusPending,
		})
	}
	last := timeline.Event{ID: "zz", CreatedAt: t0.Add(time.Hour), Label: "Newest step", Status: timeline.StatusComplete}
	snap.Events = append(snap.Events, last)

	m := newModel(t, newFakeEngine(snap), Config{})
	view := m.View()
	require.Contains(t, view, "Newest step")
	require.NotContains(t, view, "Intake received", "oldest events scrolled off")

	m, _ = apply(t, m, runes("g"))
	require.Contains(t, m.View(), "Intake received")
	require.Equal(t, 30, lipgloss.Height(m.View()))
}
