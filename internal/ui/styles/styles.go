// Package styles contains Lip Gloss style definitions.
package styles

import "github.com/charmbracelet/lipgloss"

var (
	// Semantic color names - Text hierarchy
	TextPrimaryColor     = lipgloss.AdaptiveColor{Light: "#1F1F1F", Dark: "#CCCCCC"} // Labels, header
	TextSecondaryColor   = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BBBBBB"} // Timestamps, roles
	TextMutedColor       = lipgloss.AdaptiveColor{Light: "#888888", Dark: "#696969"} // Hints, help text, footers
	TextDescriptionColor = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"} // Event descriptions

	// Semantic color names - Border
	BorderDefaultColor = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#696969"}

	// Semantic color names - Status
	StatusSuccessColor = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"} // Complete, fresh heartbeat
	StatusWarningColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"} // Warnings, stale heartbeat
	StatusErrorColor   = lipgloss.AdaptiveColor{Light: "#FF6B6B", Dark: "#FF8787"} // Fetch errors, silent feed
	StatusActiveColor  = lipgloss.AdaptiveColor{Light: "#54A0FF", Dark: "#54A0FF"} // In-progress stages
	StatusPendingColor = lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#BBBBBB"}

	// Toast badges
	ToastInfoColor = lipgloss.AdaptiveColor{Light: "#54A0FF", Dark: "#54A0FF"}
	ToastWarnColor = lipgloss.AdaptiveColor{Light: "#FECA57", Dark: "#FECA57"}

	// Loading spinner color
	SpinnerColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#FFF"}

	TitleStyle       = lipgloss.NewStyle().Foreground(TextPrimaryColor).Bold(true)
	TimestampStyle   = lipgloss.NewStyle().Foreground(TextSecondaryColor)
	LabelStyle       = lipgloss.NewStyle().Foreground(TextPrimaryColor)
	DescriptionStyle = lipgloss.NewStyle().Foreground(TextDescriptionColor)
	HintStyle        = lipgloss.NewStyle().Foreground(TextMutedColor)

	StatusCompleteStyle   = lipgloss.NewStyle().Foreground(StatusSuccessColor)
	StatusInProgressStyle = lipgloss.NewStyle().Foreground(StatusActiveColor)
	StatusWarningStyle    = lipgloss.NewStyle().Foreground(StatusWarningColor)
	StatusPendingStyle    = lipgloss.NewStyle().Foreground(StatusPendingColor)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Foreground(TextSecondaryColor).
			Padding(0, 1)

	// Error display
	ErrorStyle = lipgloss.NewStyle().
			Foreground(StatusErrorColor).
			Bold(true)

	// Exit banner
	BannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDefaultColor).
			Padding(0, 1)
)
