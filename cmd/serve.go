package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/missionfeed/internal/eventstore"
	"github.com/zjrosen/missionfeed/internal/hub"
	"github.com/zjrosen/missionfeed/internal/ingest"
	"github.com/zjrosen/missionfeed/internal/log"
	"github.com/zjrosen/missionfeed/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a mission event log over HTTP",
	Long: `Serve a SQLite-backed mission event log over HTTP.

Routes:
  GET  /events?subscriptionKey=K[&since=T][&limit=N][&order=asc|desc]
  POST /events?subscriptionKey=K    append one JSON record
  GET  /timeline?subscriptionKey=K   classified feed from a shared engine
  GET  /health

With --ingest, new lines of a JSONL file are appended as they are written.

Example:
  missionfeed serve                                   # 127.0.0.1:8787
  missionfeed serve --addr :9000 --db /tmp/events.db
  missionfeed serve --ingest mission.jsonl --ingest-key thread-42`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "address to listen on (overrides server.addr)")
	serveCmd.Flags().String("db", "", "SQLite event log path (overrides server.db_path)")
	serveCmd.Flags().String("ingest", "", "JSONL file to tail into the log")
	serveCmd.Flags().String("ingest-key", "", "subscription key for ingested lines that carry none")

	// Bind flags to viper
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("server.db_path", serveCmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("server.ingest_file", serveCmd.Flags().Lookup("ingest"))
	_ = viper.BindPFlag("server.ingest_key", serveCmd.Flags().Lookup("ingest-key"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cleanupLog, err := initLogging("missionfeed-serve")
	if err != nil {
		return err
	}
	defer cleanupLog()

	provider, shutdownTracing, err := initTracing(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdownTracing()
	tracer := provider.Tracer()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := eventstore.Open(ctx, cfg.Server.DBPath, eventstore.WithTracer(tracer))
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer func() { _ = store.Close() }()

	opts := cfg.Feed.TimelineOptions()
	opts.Tracer = tracer
	engines := hub.New(hub.Config{
		Fetcher: store,
		Options: opts,
		Grace:   cfg.Server.EngineGrace,
	})
	defer engines.Close()

	srv, err := server.New(server.Config{
		Addr:     cfg.Server.Addr,
		EventLog: store,
		Engines:  engines,
		Tracer:   tracer,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ingestDone := make(chan struct{})
	if path := cfg.Server.IngestFile; path != "" {
		tailer := ingest.New(ingest.Config{Path: path, DefaultKey: cfg.Server.IngestKey}, store)
		go func() {
			defer close(ingestDone)
			if err := tailer.Run(ctx); err != nil {
				log.ErrorErr(log.CatIngest, "Ingest stopped", err, "path", path)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Ingesting %s\n", path)
	} else {
		close(ingestDone)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "missionfeed serving %s on %s\n", cfg.Server.DBPath, srv.URL())
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	cancel()
	<-ingestDone

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.ErrorErr(log.CatServer, "Error stopping server", err)
	}

	fmt.Fprintln(out, "Server stopped")
	return nil
}
