package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zjrosen/missionfeed/internal/eventstore"
	"github.com/zjrosen/missionfeed/internal/timeline"
)

var appendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append one record to a local event log",
	Long: `Append one record to a mission thread in a local SQLite event log and
print the stored record as JSON.

Metadata values are decoded as JSON when they parse, otherwise kept as
strings, so --meta sourceCount=3 stores a number.

Example:
  missionfeed append --key thread-42 --stage supervisor_intake --content "Plan the trip"
  missionfeed append --key thread-42 --stage research_sources --meta sourceCount=3
  missionfeed append --key thread-42 --exit --content "Mission complete" --meta missionStatus=completed`,
	RunE: runAppend,
}

type appendOptions struct {
	DBPath  string
	Key     string
	ID      string
	Stage   string
	Role    string
	Content string
	Meta    []string
	Exit    bool
	At      time.Time
}

var (
	appendOpts appendOptions
	appendAt   string
)

func init() {
	rootCmd.AddCommand(appendCmd)

	f := appendCmd.Flags()
	f.StringVarP(&appendOpts.Key, "key", "k", "", "subscription key of the mission thread (required)")
	f.StringVar(&appendOpts.ID, "id", "", "record id (default: random UUID)")
	f.StringVarP(&appendOpts.Stage, "stage", "s", "", "pipeline stage identifier")
	f.StringVar(&appendOpts.Role, "role", "assistant", "message role")
	f.StringVar(&appendOpts.Content, "content", "", "message text")
	f.StringArrayVarP(&appendOpts.Meta, "meta", "m", nil, "metadata entry key=value (repeatable)")
	f.BoolVar(&appendOpts.Exit, "exit", false, "mark the record as the thread's exit event; --content becomes the reason")
	f.StringVar(&appendAt, "at", "", "creation time, RFC 3339 (default: now)")
	f.StringVar(&appendOpts.DBPath, "db", "", "SQLite event log path (default: server.db_path)")
	_ = appendCmd.MarkFlagRequired("key")
}

func runAppend(cmd *cobra.Command, _ []string) error {
	opts := appendOpts
	if opts.DBPath == "" {
		opts.DBPath = cfg.Server.DBPath
	}
	if appendAt != "" {
		at, err := time.Parse(time.RFC3339Nano, appendAt)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		opts.At = at
	}
	return appendRecord(cmd.Context(), opts, cmd.OutOrStdout())
}

// appendRecord builds the record described by opts, stores it, and writes
// the stored record to w as indented JSON.
func appendRecord(ctx context.Context, opts appendOptions, w io.Writer) error {
	rec, err := buildRecord(opts)
	if err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, opts.DBPath)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer func() { _ = store.Close() }()

	stored, err := store.Append(ctx, opts.Key, rec)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(stored)
}

func buildRecord(opts appendOptions) (timeline.Record, error) {
	meta, err := parseMeta(opts.Meta)
	if err != nil {
		return timeline.Record{}, err
	}
	if opts.Exit {
		if meta == nil {
			meta = make(map[string]any)
		}
		meta["event"] = timeline.ExitSentinel
		if _, ok := meta["reason"]; !ok && opts.Content != "" {
			meta["reason"] = opts.Content
		}
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	return timeline.Record{
		ID:        id,
		CreatedAt: opts.At,
		Stage:     strings.TrimSpace(opts.Stage),
		Role:      opts.Role,
		Metadata:  meta,
		Content:   opts.Content,
	}, nil
}

// parseMeta turns key=value pairs into a metadata map. Values that parse as
// JSON keep their JSON type; anything else is a string. Nil when empty.
func parseMeta(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, raw, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("metadata %q must be key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		meta[k] = v
	}
	return meta, nil
}
