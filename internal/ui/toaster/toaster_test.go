package toaster

import (
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func TestNew(t *testing.T) {
	m := New()

	assert.False(t, m.Visible())
	assert.Empty(t, m.View(80))
}

func TestShow(t *testing.T) {
	m, cmd := New().Show("Paused", StyleInfo, time.Second)

	assert.True(t, m.Visible())
	assert.Equal(t, "Paused", m.Message())
	assert.Equal(t, "› Paused", m.View(80))
	assert.NotNil(t, cmd)
}

func TestView_Warn(t *testing.T) {
	m, _ := New().Show("Mission ended", StyleWarn, time.Second)

	assert.Equal(t, "▲ Mission ended", m.View(0))
}

func TestView_TruncatesToWidth(t *testing.T) {
	m, _ := New().Show("Refreshing the whole feed", StyleInfo, time.Second)

	view := m.View(12)
	assert.Equal(t, "› Refreshin…", view)
	assert.Equal(t, 12, lipgloss.Width(view))
}

func TestHide(t *testing.T) {
	m, _ := New().Show("Hello", StyleInfo, time.Second)
	m = m.Hide()

	assert.False(t, m.Visible())
	assert.Empty(t, m.View(80))
}

func TestShow_ReplacesExisting(t *testing.T) {
	m, _ := New().Show("First", StyleInfo, time.Second)
	m, _ = m.Show("Second", StyleWarn, time.Second)

	assert.True(t, m.Visible())
	assert.Contains(t, m.View(80), "Second")
	assert.NotContains(t, m.View(80), "First")
}

func TestUpdate_DismissesCurrentToastOnly(t *testing.T) {
	m, first := New().Show("First", StyleInfo, time.Millisecond)
	m, _ = m.Show("Second", StyleInfo, time.Hour)

	// The first toast's tick arrives after it was replaced.
	m = m.Update(first())
	require.True(t, m.Visible())
	require.Contains(t, m.View(80), "Second")

	m = m.Update(DismissMsg{Seq: 2})
	require.False(t, m.Visible())
}

func TestScheduleDismiss(t *testing.T) {
	cmd := ScheduleDismiss(7, time.Millisecond)
	require.NotNil(t, cmd)
	require.Equal(t, DismissMsg{Seq: 7}, cmd())
}

func TestShow_LeavesReceiverUnchanged(t *testing.T) {
	m1 := New()
	m2, _ := m1.Show("Hello", StyleInfo, time.Second)

	assert.False(t, m1.Visible())
	assert.True(t, m2.Visible())
}
