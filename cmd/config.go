package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/missionfeed/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the missionfeed config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a commented default config file",
	Long: `Write a commented default config file to path
(default: .missionfeed/config.yaml). An existing file is kept unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := localConfigPath
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := initConfigFile(path, force); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return showConfig(cmd.OutOrStdout(), viper.ConfigFileUsed(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	// Skip validation so a broken config can be replaced.
	configInitCmd.PersistentPreRunE = func(*cobra.Command, []string) error { return nil }
}

func initConfigFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("checking %s: %w", path, err)
		}
	}
	return config.WriteDefaultConfig(path)
}

// showConfig writes c as YAML, keyed like the config file.
func showConfig(w io.Writer, source string, c config.Config) error {
	if source == "" {
		source = "(defaults)"
	}
	if _, err := fmt.Fprintf(w, "# source: %s\n", source); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer func() { _ = enc.Close() }()
	return enc.Encode(configDocument(c))
}

func configDocument(c config.Config) map[string]any {
	return map[string]any{
		"feed": map[string]any{
			"subscription_key":   c.Feed.SubscriptionKey,
			"base_url":           c.Feed.BaseURL,
			"enabled":            c.Feed.Enabled,
			"poll_interval":      c.Feed.PollInterval.String(),
			"request_timeout":    c.Feed.RequestTimeout.String(),
			"heartbeat_interval": c.Feed.HeartbeatInterval.String(),
			"buffer_capacity":    c.Feed.BufferCapacity,
		},
		"server": map[string]any{
			"addr":         c.Server.Addr,
			"db_path":      c.Server.DBPath,
			"ingest_file":  c.Server.IngestFile,
			"ingest_key":   c.Server.IngestKey,
			"engine_grace": c.Server.EngineGrace.String(),
		},
		"ui": map[string]any{
			"stale_after":  c.UI.StaleAfter.String(),
			"dead_after":   c.UI.DeadAfter.String(),
			"show_role":    c.UI.ShowRole,
			"time_format":  c.UI.TimeFormat,
			"max_rendered": c.UI.MaxRendered,
		},
		"tracing": map[string]any{
			"enabled":       c.Tracing.Enabled,
			"exporter":      c.Tracing.Exporter,
			"file_path":     c.Tracing.FilePath,
			"otlp_endpoint": c.Tracing.OTLPEndpoint,
			"sample_rate":   c.Tracing.SampleRate,
		},
	}
}
