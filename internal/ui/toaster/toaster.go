// Package toaster shows a short-lived one-line notice above the feed's
// key help, such as "Paused" or "Mission ended".
package toaster

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/missionfeed/internal/ui/styles"
)

// Style selects the toast's badge.
type Style int

const (
	// StyleInfo acknowledges a user action.
	StyleInfo Style = iota
	// StyleWarn flags a change in the mission itself.
	StyleWarn
)

// DefaultDuration is how long a toast stays up.
const DefaultDuration = 3 * time.Second

// Model holds the toaster state. The zero value shows nothing.
type Model struct {
	message string
	style   Style
	// seq identifies the current toast so an older dismiss tick cannot hide
	// a newer one.
	seq int
}

// New creates a new toaster model.
func New() Model {
	return Model{}
}

// Show replaces any current toast and returns the command that dismisses it
// after d.
func (m Model) Show(message string, style Style, d time.Duration) (Model, tea.Cmd) {
	m.message = message
	m.style = style
	m.seq++
	return m, ScheduleDismiss(m.seq, d)
}

// Hide dismisses the toast.
func (m Model) Hide() Model {
	m.message = ""
	return m
}

// Visible returns whether a toast is showing.
func (m Model) Visible() bool {
	return m.message != ""
}

// Message returns the text of the current toast.
func (m Model) Message() string {
	return m.message
}

// Update hides the toast when its own DismissMsg arrives.
func (m Model) Update(msg tea.Msg) Model {
	if dm, ok := msg.(DismissMsg); ok && dm.Seq == m.seq {
		return m.Hide()
	}
	return m
}

// View renders the toast as a single line no wider than width. Width 0 means
// unbounded.
func (m Model) View(width int) string {
	if !m.Visible() {
		return ""
	}

	badge := lipgloss.NewStyle().Bold(true)
	switch m.style {
	case StyleWarn:
		badge = badge.Foreground(styles.ToastWarnColor).SetString("▲")
	default:
		badge = badge.Foreground(styles.ToastInfoColor).SetString("›")
	}

	text := m.message
	if width > 0 {
		text = styles.TruncateString(text, width-2)
	}
	return badge.String() + " " + text
}

// DismissMsg signals that toast Seq should be dismissed.
type DismissMsg struct {
	Seq int
}

// ScheduleDismiss returns a command that dismisses toast seq after d.
func ScheduleDismiss(seq int, d time.Duration) tea.Cmd {
	return tea.Tick(d, func(_ time.Time) tea.Msg {
		return DismissMsg{Seq: seq}
	})
}
