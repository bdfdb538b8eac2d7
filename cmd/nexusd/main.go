// Command nexusd runs one ACDIN nexus node: the module registry, heartbeat
// monitor and message broker behind the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/nexus"
	"github.com/GoCodeAlone/nexus/server"
)

// slogLogger adapts log/slog to the nexus Logger interface.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML or TOML config file (env vars apply on top)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := &slogLogger{logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}

	cfg, err := nexus.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded", "node", cfg.NodeID, "environment", cfg.Environment)

	n, err := nexus.New(cfg, logger)
	if err != nil {
		return err
	}

	// Log every lifecycle event the core emits.
	eventLogger := nexus.NewFunctionalObserver("nexusd-event-logger", func(ctx context.Context, event nexus.CloudEvent) error {
		logger.Debug("Event", "type", event.Type(), "source", event.Source(), "id", event.ID())
		return nil
	})
	if err := n.Subject().RegisterObserver(eventLogger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Start(ctx); err != nil {
		return err
	}

	var snapshots *nexus.SnapshotScheduler
	if cfg.SnapshotPath != "" {
		sink := nexus.NewFileCheckpointer(cfg.SnapshotPath)
		records, err := sink.Load()
		if err != nil {
			return err
		}
		if len(records) > 0 {
			if err := n.Restore(ctx, records); err != nil {
				return err
			}
			logger.Info("Registry restored from checkpoint", "path", cfg.SnapshotPath, "records", len(records))
		}
		snapshots, err = nexus.NewSnapshotScheduler(n, sink, logger, cfg.SnapshotSchedule)
		if err != nil {
			return err
		}
		if err := snapshots.Start(); err != nil {
			return err
		}
	}

	var watcher *nexus.ConfigWatcher
	if *configPath != "" {
		watcher = nexus.NewConfigWatcher(*configPath, logger, n.Subject().(*nexus.EventSubject))
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watcher unavailable", "error", err)
			watcher = nil
		}
	}

	srv := server.New(n, logger)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if watcher != nil {
		watcher.Stop()
	}
	if snapshots != nil {
		snapshots.CheckpointNow(shutdownCtx)
		snapshots.Stop()
	}
	return n.Stop(shutdownCtx)
}
