package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"

	"github.com/zjrosen/missionfeed/internal/timeline"
	"github.com/zjrosen/missionfeed/internal/ui/styles"
)

const descIndent = 4

// StatusGlyph returns the marker drawn before an event label.
func StatusGlyph(s timeline.Status) string {
	switch s {
	case timeline.StatusComplete:
		return styles.StatusCompleteStyle.Render("●")
	case timeline.StatusInProgress:
		return styles.StatusInProgressStyle.Render("◐")
	case timeline.StatusWarning:
		return styles.StatusWarningStyle.Render("▲")
	default:
		return styles.StatusPendingStyle.Render("○")
	}
}

func (m Model) headerView() string {
	key := m.snap.SubscriptionKey
	if key == "" {
		key = "(no subscription)"
	}
	title := styles.TitleStyle.Render("Mission feed") + " " + styles.HintStyle.Render(key)

	parts := []string{m.stateView(), m.heartbeatView()}
	if m.snap.IsLoading {
		parts = append(parts, m.spinner.View()+" loading")
	}
	if m.snap.LastUpdated != nil {
		parts = append(parts, styles.HintStyle.Render("updated "+m.snap.LastUpdated.Local().Format(m.cfg.TimeFormat)))
	}
	status := styles.StatusBarStyle.Render(strings.Join(parts, "  "))

	lines := []string{
		styles.TruncateString(title, m.width),
		styles.TruncateString(status, m.width),
	}
	if m.snap.Error != "" {
		lines = append(lines, styles.TruncateString(styles.ErrorStyle.Render("⚠ "+m.snap.Error), m.width))
	}
	if info := m.snap.ExitInfo; info != nil {
		lines = append(lines, m.exitView(*info))
	}
	return strings.Join(lines, "\n")
}

func (m Model) stateView() string {
	switch m.snap.State {
	case timeline.StatePolling:
		return styles.StatusCompleteStyle.Render("● live")
	case timeline.StatePaused:
		return styles.StatusWarningStyle.Render("❚❚ paused")
	case timeline.StateTerminated:
		return styles.StatusPendingStyle.Render("■ ended")
	default:
		if m.snap.SubscriptionKey != "" && !m.snap.Enabled {
			return styles.StatusWarningStyle.Render("❚❚ paused")
		}
		return styles.StatusPendingStyle.Render("○ idle")
	}
}

func (m Model) heartbeatView() string {
	hb := m.snap.HeartbeatSeconds
	if hb == nil {
		return styles.HintStyle.Render("♥ --")
	}
	age := time.Duration(*hb * float64(time.Second))
	text := "♥ " + styles.FormatAge(*hb)
	switch {
	case age >= m.cfg.DeadAfter:
		return styles.ErrorStyle.Render(text)
	case age >= m.cfg.StaleAfter:
		return styles.StatusWarningStyle.Render(text)
	default:
		return styles.StatusCompleteStyle.Render(text)
	}
}

func (m Model) exitView(info timeline.ExitInfo) string {
	var details []string
	if info.Stage != "" {
		details = append(details, "stage "+info.Stage)
	}
	if info.MissionStatus != "" {
		details = append(details, "status "+info.MissionStatus)
	}
	if !info.At.IsZero() {
		details = append(details, "at "+info.At.Local().Format(m.cfg.TimeFormat))
	}
	text := "Mission ended"
	if info.Reason != "" {
		text += ": " + info.Reason
	}
	if len(details) > 0 {
		text += "\n" + styles.HintStyle.Render(strings.Join(details, " · "))
	}
	width := m.width - 4
	if width < 10 {
		width = 10
	}
	return styles.BannerStyle.Render(wordwrap.String(text, width))
}

func (m Model) footerView() string {
	helpView := styles.HintStyle.Render(m.help.View(m.keys))
	if m.toast.Visible() {
		return lipgloss.JoinVertical(lipgloss.Left, m.toast.View(m.width), helpView)
	}
	return helpView
}

func (m Model) eventsView(width int) string {
	events := m.snap.Events
	if len(events) == 0 {
		switch {
		case m.snap.SubscriptionKey == "":
			return styles.HintStyle.Render("No subscription key. Pass --key or set feed.subscription_key.")
		case m.snap.IsLoading:
			return styles.HintStyle.Render("Loading mission events…")
		default:
			return styles.HintStyle.Render("Waiting for mission events…")
		}
	}

	var b strings.Builder
	if limit := m.cfg.MaxRendered; limit > 0 && len(events) > limit {
		hidden := len(events) - limit
		events = events[hidden:]
		b.WriteString(styles.HintStyle.Render(fmt.Sprintf("… %d earlier %s", hidden, pluralEvents(hidden))))
		b.WriteString("\n")
	}
	for i, ev := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.eventView(ev, width))
	}
	return b.String()
}

func (m Model) eventView(ev timeline.Event, width int) string {
	head := styles.TimestampStyle.Render(ev.CreatedAt.Local().Format(m.cfg.TimeFormat)) +
		" " + StatusGlyph(ev.Status) +
		" " + styles.LabelStyle.Render(ev.Label)
	if m.cfg.ShowRole && ev.Role != "" {
		head += " " + styles.HintStyle.Render("["+ev.Role+"]")
	}
	head = styles.TruncateString(head, width)

	if ev.Description == "" {
		return head
	}
	wrap := width - descIndent
	if wrap < 20 {
		wrap = 20
	}
	desc := indent.String(wordwrap.String(ev.Description, wrap), descIndent)
	return head + "\n" + styles.DescriptionStyle.Render(desc)
}

func pluralEvents(n int) string {
	if n == 1 {
		return "event"
	}
	return "events"
}
