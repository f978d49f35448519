// Package log writes leveled, categorized debug logs for missionfeed.
//
// A line looks like
//
//	2025-06-01T12:00:00 [INFO] [fetch] Fetched records key=thread-42 count=3 mode=delta
//
// Values containing spaces, quotes or '=' are quoted so lines stay
// splittable. Logging is off until Init, InitWithTeaLog or InitWriter is
// called; the CLI does that for --debug or MISSIONFEED_DEBUG.
package log

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config string to a Level. Unknown values map to LevelDebug.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelDebug
	}
}

// Category groups related log messages.
type Category string

const (
	CatFeed   Category = "feed"   // Engine state machine, merge, exit latch
	CatFetch  Category = "fetch"  // HTTP record fetcher
	CatStore  Category = "store"  // SQLite event log
	CatServer Category = "server" // Event log HTTP server
	CatIngest Category = "ingest" // JSONL file tailing
	CatConfig Category = "config" // Configuration loading/saving
	CatUI     Category = "ui"     // Terminal UI
	CatHub    Category = "hub"    // Shared engine registry
)

type logger struct {
	mu       sync.Mutex
	closer   io.Closer
	writer   io.Writer
	enabled  bool
	minLevel Level
	now      func() time.Time
}

var (
	globalMu sync.Mutex
	current  *logger
)

func install(w io.Writer, c io.Closer) func() {
	l := &logger{writer: w, closer: c, enabled: true, minLevel: LevelDebug, now: time.Now}

	globalMu.Lock()
	prev := current
	current = l
	globalMu.Unlock()

	if prev != nil && prev.closer != nil {
		_ = prev.closer.Close()
	}
	return func() {
		globalMu.Lock()
		if current == l {
			current = nil
		}
		globalMu.Unlock()
		if c != nil {
			_ = c.Close()
		}
	}
}

func active() *logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	return current
}

// Init appends log lines to the file at path. The returned cleanup closes
// the file and turns logging off. A second Init replaces the first.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // G304: path is user-controlled debug log path
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return install(f, f), nil
}

// InitWithTeaLog logs through tea.LogToFile, which also routes Bubble Tea's
// own log output to the file. The terminal UI owns stdout, so commands that
// may run it log through this.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	return install(f, f), nil
}

// InitWriter points logging at w. The returned cleanup turns logging off
// without closing w.
func InitWriter(w io.Writer) func() {
	return install(w, nil)
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := active(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel drops messages below level.
func SetMinLevel(level Level) {
	if l := active(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs at error level with err appended as the "error" field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

func write(level Level, cat Category, msg string, fields ...any) {
	l := active()
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || level < l.minLevel || l.writer == nil {
		return
	}

	var b strings.Builder
	b.WriteString(l.now().Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)
	for i := 0; i < len(fields); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(fields[i]))
		b.WriteByte('=')
		if i+1 == len(fields) {
			b.WriteString("<missing>")
			break
		}
		b.WriteString(formatValue(fields[i+1]))
	}
	b.WriteByte('\n')

	_, _ = io.WriteString(l.writer, b.String())
}

func formatValue(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case string:
		s = x
	case error:
		s = x.Error()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
