package styles

import (
	"fmt"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// TruncateString truncates s to maxWidth display cells, ending in "…" when
// cut. ANSI sequences are preserved and do not count toward the width.
func TruncateString(s string, maxWidth int) string {
	if maxWidth < 1 {
		return ""
	}
	return ansi.Truncate(s, maxWidth, "…")
}

// FitColumn pads or truncates plain text to exactly width cells.
func FitColumn(s string, width int) string {
	if width < 1 {
		return ""
	}
	return runewidth.FillRight(runewidth.Truncate(s, width, "…"), width)
}

// FormatAge renders a duration in seconds the way the heartbeat shows it:
// one decimal under a minute, then whole minutes and seconds.
func FormatAge(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	d := time.Duration(seconds * float64(time.Second)).Truncate(time.Second)
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}
