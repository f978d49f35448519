package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/missionfeed/internal/config"
	"github.com/zjrosen/missionfeed/internal/eventstore"
	"github.com/zjrosen/missionfeed/internal/feedclient"
	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
	"github.com/zjrosen/missionfeed/internal/ui/feed"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow one mission thread's event feed",
	Long: `Follow a mission thread's event feed in a terminal UI.

The feed polls the event log every poll interval, merges new records into
a bounded window, and stops polling once the thread posts its exit event.

Example:
  missionfeed watch --key thread-42
  missionfeed watch --key thread-42 --plain          # line output, exits at mission end
  missionfeed watch --key thread-42 --db events.db   # read a local event log directly
  missionfeed watch --key thread-42 --save           # remember the key in the config file`,
	RunE: runWatch,
}

var (
	watchPlain  bool
	watchDB     string
	watchSave   bool
	watchPaused bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringP("key", "k", "", "subscription key of the mission thread")
	watchCmd.Flags().StringP("url", "u", "", "event log API root (overrides feed.base_url)")
	watchCmd.Flags().DurationP("interval", "i", 0, "poll interval (overrides feed.poll_interval)")
	watchCmd.Flags().BoolVar(&watchPlain, "plain", false, "print events as lines instead of the terminal UI")
	watchCmd.Flags().StringVar(&watchDB, "db", "", "read a local SQLite event log instead of the HTTP API")
	watchCmd.Flags().BoolVar(&watchSave, "save", false, "save --key as feed.subscription_key in the config file")
	watchCmd.Flags().BoolVar(&watchPaused, "paused", false, "open the feed without polling")

	// Bind flags to viper
	_ = viper.BindPFlag("feed.subscription_key", watchCmd.Flags().Lookup("key"))
	_ = viper.BindPFlag("feed.base_url", watchCmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("feed.poll_interval", watchCmd.Flags().Lookup("interval"))
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cleanupLog, err := initLogging("missionfeed-watch")
	if err != nil {
		return err
	}
	defer cleanupLog()

	key := cfg.Feed.SubscriptionKey
	if watchPlain && key == "" {
		return errors.New("--plain needs a subscription key: pass --key or set feed.subscription_key")
	}
	if watchSave {
		if err := config.SaveSubscriptionKey(configPathForSave(), key); err != nil {
			return fmt.Errorf("saving subscription key: %w", err)
		}
	}
	if watchPaused {
		cfg.Feed.Enabled = false
	}

	provider, shutdownTracing, err := initTracing(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher, closeFetcher, err := newFetcher(ctx, cfg.Feed, watchDB, provider.Tracer())
	if err != nil {
		return err
	}
	defer closeFetcher()

	opts := cfg.Feed.TimelineOptions()
	opts.Tracer = provider.Tracer()
	engine := timeline.New(fetcher, opts)
	defer engine.Close()

	log.Info(log.CatFeed, "Watching feed", "key", key, "plain", watchPlain, "paused", !cfg.Feed.Enabled)

	uiCfg := feedConfig(cfg.UI)
	if watchPlain {
		engine.Open(key)
		return feed.RunPlain(ctx, engine, cmd.OutOrStdout(), uiCfg)
	}

	model := feed.New(ctx, engine, uiCfg)
	engine.Open(key)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running program: %w", err)
	}
	return nil
}

// newFetcher returns the record source for the feed: a local event log when
// dbPath is set, otherwise the HTTP API at feed.BaseURL.
func newFetcher(ctx context.Context, fc config.FeedConfig, dbPath string, tracer trace.Tracer) (timeline.Fetcher, func(), error) {
	if dbPath != "" {
		store, err := eventstore.Open(ctx, dbPath, eventstore.WithTracer(tracer))
		if err != nil {
			return nil, nil, fmt.Errorf("opening event log: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
	// The engine bounds each fetch with its own deadline; the client timeout
	// only guards against a hung connection outliving it.
	client := feedclient.New(fc.BaseURL, feedclient.WithTimeout(fc.RequestTimeout+time.Second))
	return client, func() {}, nil
}

func feedConfig(ui config.UIConfig) feed.Config {
	return feed.Config{
		StaleAfter:  ui.StaleAfter,
		DeadAfter:   ui.DeadAfter,
		ShowRole:    ui.ShowRole,
		TimeFormat:  ui.TimeFormat,
		MaxRendered: ui.MaxRendered,
	}
}
