// Package config provides configuration types and defaults for missionfeed.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/timeline"
	"github.com/zjrosen/missionfeed/internal/tracing"
)

// Config holds all configuration options for missionfeed.
type Config struct {
	Feed    FeedConfig    `mapstructure:"feed"`
	Server  ServerConfig  `mapstructure:"server"`
	UI      UIConfig      `mapstructure:"ui"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// FeedConfig configures the timeline engine and the event log it polls.
type FeedConfig struct {
	// SubscriptionKey selects the mission thread to follow.
	SubscriptionKey string `mapstructure:"subscription_key"`
	// BaseURL is the event log API root, e.g. http://127.0.0.1:8787.
	BaseURL string `mapstructure:"base_url"`
	// Enabled starts polling as soon as a key is set (default: true).
	Enabled           bool          `mapstructure:"enabled"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BufferCapacity    int           `mapstructure:"buffer_capacity"`
}

// ServerConfig configures `missionfeed serve`.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	DBPath string `mapstructure:"db_path"`
	// IngestFile is an optional JSONL file tailed into the log.
	IngestFile string `mapstructure:"ingest_file"`
	// IngestKey is the subscription key for lines that carry none.
	IngestKey string `mapstructure:"ingest_key"`
	// EngineGrace keeps released shared engines alive this long.
	EngineGrace time.Duration `mapstructure:"engine_grace"`
}

// UIConfig holds terminal UI options.
type UIConfig struct {
	// StaleAfter is the heartbeat age at which the feed is shown as stale.
	StaleAfter time.Duration `mapstructure:"stale_after"`
	// DeadAfter is the heartbeat age at which the feed is shown as silent.
	DeadAfter   time.Duration `mapstructure:"dead_after"`
	ShowRole    bool          `mapstructure:"show_role"`
	TimeFormat  string        `mapstructure:"time_format"`
	MaxRendered int           `mapstructure:"max_rendered"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/missionfeed/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/missionfeed/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Warn(log.CatConfig, "Could not resolve home directory", "error", err)
		return ""
	}
	return filepath.Join(home, ".config", "missionfeed", "traces", "traces.jsonl")
}

// DefaultDBPath returns the default event log database path.
func DefaultDBPath() string {
	return filepath.Join(".missionfeed", "events.db")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			BaseURL:           "http://127.0.0.1:8787",
			Enabled:           true,
			PollInterval:      5 * time.Second,
			RequestTimeout:    4 * time.Second,
			HeartbeatInterval: time.Second,
			BufferCapacity:    120,
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8787",
			DBPath:      DefaultDBPath(),
			EngineGrace: 30 * time.Second,
		},
		UI: UIConfig{
			StaleAfter:  15 * time.Second,
			DeadAfter:   60 * time.Second,
			ShowRole:    false,
			TimeFormat:  "15:04:05",
			MaxRendered: 50,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from home dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// Validate runs every section validator.
func (c Config) Validate() error {
	if err := ValidateFeed(c.Feed); err != nil {
		return err
	}
	if err := ValidateServer(c.Server); err != nil {
		return err
	}
	if err := ValidateUI(c.UI); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// ValidateFeed checks feed configuration for errors.
// Zero durations and capacity are valid and mean "use the default".
func ValidateFeed(feed FeedConfig) error {
	if feed.PollInterval < 0 {
		return fmt.Errorf("feed.poll_interval must not be negative, got %s", feed.PollInterval)
	}
	if feed.PollInterval > 0 && feed.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("feed.poll_interval must be at least 100ms, got %s", feed.PollInterval)
	}
	if feed.RequestTimeout < 0 {
		return fmt.Errorf("feed.request_timeout must not be negative, got %s", feed.RequestTimeout)
	}
	if feed.PollInterval > 0 && feed.RequestTimeout >= feed.PollInterval {
		return fmt.Errorf("feed.request_timeout (%s) must be shorter than feed.poll_interval (%s)",
			feed.RequestTimeout, feed.PollInterval)
	}
	if feed.HeartbeatInterval < 0 {
		return fmt.Errorf("feed.heartbeat_interval must not be negative, got %s", feed.HeartbeatInterval)
	}
	if feed.BufferCapacity < 0 {
		return fmt.Errorf("feed.buffer_capacity must not be negative, got %d", feed.BufferCapacity)
	}
	if feed.BaseURL != "" && !strings.HasPrefix(feed.BaseURL, "http://") && !strings.HasPrefix(feed.BaseURL, "https://") {
		return fmt.Errorf("feed.base_url must start with http:// or https://, got %q", feed.BaseURL)
	}
	return nil
}

// ValidateServer checks server configuration for errors.
func ValidateServer(srv ServerConfig) error {
	if srv.Addr != "" {
		if _, _, err := net.SplitHostPort(srv.Addr); err != nil {
			return fmt.Errorf("server.addr must be host:port, got %q", srv.Addr)
		}
	}
	if srv.EngineGrace < 0 {
		return fmt.Errorf("server.engine_grace must not be negative, got %s", srv.EngineGrace)
	}
	return nil
}

// ValidateUI checks UI configuration for errors.
func ValidateUI(ui UIConfig) error {
	if ui.StaleAfter < 0 || ui.DeadAfter < 0 {
		return fmt.Errorf("ui.stale_after and ui.dead_after must not be negative")
	}
	if ui.StaleAfter > 0 && ui.DeadAfter > 0 && ui.DeadAfter < ui.StaleAfter {
		return fmt.Errorf("ui.dead_after (%s) must not be shorter than ui.stale_after (%s)", ui.DeadAfter, ui.StaleAfter)
	}
	if ui.MaxRendered < 0 {
		return fmt.Errorf("ui.max_rendered must not be negative, got %d", ui.MaxRendered)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// TimelineOptions maps feed settings onto engine options. A disabled feed
// opens subscriptions paused.
func (f FeedConfig) TimelineOptions() timeline.Options {
	return timeline.Options{
		PollInterval:      f.PollInterval,
		HeartbeatInterval: f.HeartbeatInterval,
		RequestTimeout:    f.RequestTimeout,
		BufferCapacity:    f.BufferCapacity,
		StartPaused:       !f.Enabled,
	}
}

// TracerConfig converts to the tracing package config, filling in the
// default trace file when none is set.
func (t TracingConfig) TracerConfig() tracing.Config {
	path := t.FilePath
	if path == "" && t.Exporter == tracing.ExporterFile {
		path = DefaultTracesFilePath()
	}
	return tracing.Config{
		Enabled:      t.Enabled,
		Exporter:     t.Exporter,
		FilePath:     path,
		OTLPEndpoint: t.OTLPEndpoint,
		SampleRate:   t.SampleRate,
		ServiceName:  "missionfeed",
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# missionfeed configuration

# Mission event feed
feed:
  # subscription_key: thread-1234   # Mission thread to follow (or pass --key)
  base_url: http://127.0.0.1:8787   # Event log API root
  enabled: true                     # Start polling as soon as a key is set
  poll_interval: 5s                 # Delta fetch cadence
  request_timeout: 4s               # Per-request bound, shorter than poll_interval
  heartbeat_interval: 1s            # Liveness ticker
  buffer_capacity: 120              # Events kept in the merged window

# Event log server (missionfeed serve)
server:
  addr: 127.0.0.1:8787
  db_path: .missionfeed/events.db
  # ingest_file: ./mission.jsonl    # Tail a JSONL file into the log
  # ingest_key: thread-1234         # Key for lines without subscriptionKey
  engine_grace: 30s

# Terminal UI
ui:
  stale_after: 15s     # Heartbeat turns yellow
  dead_after: 60s      # Heartbeat turns red
  show_role: false
  time_format: "15:04:05"
  max_rendered: 50

# Distributed tracing
tracing:
  enabled: false
  exporter: file       # none, file, stdout, otlp
  # file_path: ~/.config/missionfeed/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file with default settings.
// Creates parent directories if they don't exist.
func WriteDefaultConfig(configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Wrote default config", "path", configPath)
	return nil
}
