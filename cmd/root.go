package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/missionfeed/internal/config"
	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/tracing"
)

func init() {
	// Force lipgloss/termenv to query terminal background color BEFORE
	// any Bubble Tea program starts. This prevents the terminal's OSC 11
	// response from racing with Bubble Tea's input loop and appearing as
	// garbage text in the feed.
	//
	// See: https://github.com/charmbracelet/bubbletea/issues/1036
	_ = lipgloss.HasDarkBackground()
}

// localConfigPath is checked before the user config directory.
const localConfigPath = ".missionfeed/config.yaml"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgErr    error
)

var rootCmd = &cobra.Command{
	Use:   "missionfeed",
	Short: "Follow a mission's live event feed",
	Long: `missionfeed polls a mission thread's event log, classifies each record
into a labelled timeline step, and shows the merged feed with a liveness
heartbeat until the mission reports that it has ended.

Run "missionfeed serve" to host an event log, "missionfeed append" to write
to it, and "missionfeed watch --key <thread>" to follow one thread.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: checkConfig,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .missionfeed/config.yaml, then ~/.config/missionfeed/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debugFlag, "debug", "d", false,
		"write debug logs (path from MISSIONFEED_LOG, default debug.log; level from MISSIONFEED_LOG_LEVEL)")
}

func initConfig() {
	cfg, cfgErr = loadConfig(viper.GetViper(), cfgFile)
}

// loadConfig reads the config file into v and returns the merged result.
// A missing config file is not an error; defaults apply.
func loadConfig(v *viper.Viper, explicit string) (config.Config, error) {
	setDefaults(v, config.Defaults())

	v.SetEnvPrefix("MISSIONFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		// Config lookup order:
		// 1. .missionfeed/config.yaml (current directory)
		// 2. ~/.config/missionfeed/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			v.SetConfigFile(localConfigPath)
		} else {
			if home, err := os.UserHomeDir(); err == nil {
				v.AddConfigPath(filepath.Join(home, ".config", "missionfeed"))
			}
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config.Defaults(), fmt.Errorf("reading config: %w", err)
		}
	}

	var out config.Config
	if err := v.Unmarshal(&out); err != nil {
		return config.Defaults(), fmt.Errorf("decoding config: %w", err)
	}
	return out, nil
}

func setDefaults(v *viper.Viper, d config.Config) {
	v.SetDefault("feed.base_url", d.Feed.BaseURL)
	v.SetDefault("feed.enabled", d.Feed.Enabled)
	v.SetDefault("feed.poll_interval", d.Feed.PollInterval)
	v.SetDefault("feed.request_timeout", d.Feed.RequestTimeout)
	v.SetDefault("feed.heartbeat_interval", d.Feed.HeartbeatInterval)
	v.SetDefault("feed.buffer_capacity", d.Feed.BufferCapacity)
	v.SetDefault("feed.subscription_key", d.Feed.SubscriptionKey)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.db_path", d.Server.DBPath)
	v.SetDefault("server.ingest_file", d.Server.IngestFile)
	v.SetDefault("server.ingest_key", d.Server.IngestKey)
	v.SetDefault("server.engine_grace", d.Server.EngineGrace)

	v.SetDefault("ui.stale_after", d.UI.StaleAfter)
	v.SetDefault("ui.dead_after", d.UI.DeadAfter)
	v.SetDefault("ui.show_role", d.UI.ShowRole)
	v.SetDefault("ui.time_format", d.UI.TimeFormat)
	v.SetDefault("ui.max_rendered", d.UI.MaxRendered)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

func checkConfig(_ *cobra.Command, _ []string) error {
	if cfgErr != nil {
		return cfgErr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// configPathForSave is where config edits are written: the file that was
// loaded, or the local config path when none was.
func configPathForSave() string {
	if used := viper.ConfigFileUsed(); used != "" {
		if _, err := os.Stat(used); err == nil {
			return used
		}
	}
	return localConfigPath
}

// initLogging enables the file logger when --debug or MISSIONFEED_DEBUG is set.
// The returned cleanup is never nil.
func initLogging(prefix string) (func(), error) {
	debug := os.Getenv("MISSIONFEED_DEBUG") != "" || debugFlag
	if !debug {
		return func() {}, nil
	}
	logPath := os.Getenv("MISSIONFEED_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}

	cleanup, err := log.InitWithTeaLog(logPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	if level := os.Getenv("MISSIONFEED_LOG_LEVEL"); level != "" {
		log.SetMinLevel(log.ParseLevel(level))
	}
	log.Info(log.CatConfig, "missionfeed starting", "command", prefix, "debug", true, "logPath", logPath,
		"config", viper.ConfigFileUsed())
	return cleanup, nil
}

// initTracing builds the configured trace provider. The returned shutdown
// flushes pending spans.
func initTracing(ctx context.Context) (*tracing.Provider, func(), error) {
	tc := cfg.Tracing.TracerConfig()
	tc.ServiceVersion = version
	provider, err := tracing.NewProvider(ctx, tc)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing tracing: %w", err)
	}
	shutdown := func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			log.ErrorErr(log.CatConfig, "Tracing shutdown failed", err)
		}
	}
	return provider, shutdown, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
