package feed

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rivo/uniseg"

	"github.com/zjrosen/missionfeed/internal/pubsub"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

const plainLabelWidth = 24

// Printer writes snapshots as plain text lines, printing each event once.
type Printer struct {
	w       io.Writer
	cfg     Config
	seen    []timeline.Event
	lastErr string
	exited  bool
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, cfg Config) *Printer {
	return &Printer{w: w, cfg: cfg.withDefaults()}
}

// Print writes the events in snap that were not in the previous snapshot,
// a line when the fetch error changes, and the exit line once.
func (p *Printer) Print(snap timeline.Snapshot) error {
	for _, ev := range timeline.Added(p.seen, snap.Events) {
		if _, err := fmt.Fprintln(p.w, p.line(ev)); err != nil {
			return err
		}
	}
	p.seen = snap.Events

	if snap.Error != p.lastErr {
		p.lastErr = snap.Error
		if snap.Error != "" {
			if _, err := fmt.Fprintf(p.w, "error: %s\n", snap.Error); err != nil {
				return err
			}
		}
	}

	if info := snap.ExitInfo; info != nil && !p.exited {
		p.exited = true
		line := "mission ended"
		if info.Reason != "" {
			line += ": " + info.Reason
		}
		if info.MissionStatus != "" {
			line += " (" + info.MissionStatus + ")"
		}
		if _, err := fmt.Fprintln(p.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (p *Printer) line(ev timeline.Event) string {
	label := ev.Label
	if pad := plainLabelWidth - uniseg.StringWidth(label); pad > 0 {
		label += strings.Repeat(" ", pad)
	}
	var b strings.Builder
	b.WriteString(ev.CreatedAt.Local().Format(p.cfg.TimeFormat))
	b.WriteString(" ")
	fmt.Fprintf(&b, "%-11s ", string(ev.Status))
	b.WriteString(label)
	if p.cfg.ShowRole && ev.Role != "" {
		b.WriteString(" [" + ev.Role + "]")
	}
	if ev.Description != "" {
		b.WriteString(" ")
		b.WriteString(strings.Join(strings.Fields(ev.Description), " "))
	}
	return strings.TrimRight(b.String(), " ")
}

// RunPlain prints snapshots from sub until the mission ends, the
// subscription closes, or ctx is done.
func RunPlain(ctx context.Context, sub pubsub.Subscriber[timeline.Snapshot], w io.Writer, cfg Config) error {
	p := NewPrinter(w, cfg)
	ch := sub.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := p.Print(ev.Payload); err != nil {
				return err
			}
			if ev.Payload.Terminated() {
				return nil
			}
		}
	}
}
