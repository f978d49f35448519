package keys

import (
	"testing"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestFeed_KeyAssignment(t *testing.T) {
	require.Equal(t, []string{"p", " "}, Feed.Pause.Keys())
	require.Equal(t, []string{"r"}, Feed.Refresh.Keys())
	require.Equal(t, []string{"q", "ctrl+c"}, Feed.Quit.Keys())
}

func TestFeed_Matches(t *testing.T) {
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")}, Feed.Pause))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyCtrlC}, Feed.Quit))
	require.True(t, key.Matches(tea.KeyMsg{Type: tea.KeyUp}, Feed.Up))
	require.False(t, key.Matches(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}, Feed.Refresh))
}

func TestFeed_HelpText(t *testing.T) {
	for _, b := range Feed.ShortHelp() {
		require.NotEmpty(t, b.Help().Key)
		require.NotEmpty(t, b.Help().Desc)
	}
	require.Len(t, Feed.FullHelp(), 4)
}
