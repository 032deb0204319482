package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/candleclock"
	"github.com/nextlevelbuilder/candleclock/cluster"
	"github.com/nextlevelbuilder/candleclock/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the timer dispatcher daemon",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := candleclock.NewRegistry()
	worker := candleclock.NewWorker(store, registry,
		candleclock.WithExecutionThreshold(cfg.ExecutionThreshold()),
		candleclock.WithReclaimWindow(cfg.ReclaimWindow()),
	)

	slog.Info("starting dispatcher",
		"driver", cfg.Database.Driver, "database", cfg.RedactedURL(),
		"transport", cfg.Cluster.Transport)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })

	switch cfg.Cluster.Transport {
	case "local":
		// In-process hints only; nothing to listen for.
	case "postgres":
		pgb, err := cluster.NewPostgres(db, cfg.Database.URL, cfg.Cluster.PGChannel)
		if err != nil {
			return err
		}
		g.Go(func() error { return pgb.Listen(ctx, worker) })
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cluster.RedisAddr})
		defer client.Close()
		rb, err := cluster.NewRedis(client, cfg.Cluster.RedisChannel)
		if err != nil {
			return err
		}
		g.Go(func() error { return rb.Listen(ctx, worker) })
	}

	g.Go(func() error { return watchConfig(ctx, configPath, worker) })

	err = g.Wait()
	slog.Info("dispatcher stopped")
	return err
}

// watchConfig reloads the config on file changes and pushes the worker
// policy knobs live. Watching the directory survives the
// rename-and-replace most editors and config managers do.
func watchConfig(ctx context.Context, path string, worker *candleclock.Worker) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watch unavailable", "error", err)
		<-ctx.Done()
		return nil
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		slog.Warn("config watch unavailable", "path", dir, "error", err)
		<-ctx.Done()
		return nil
	}
	base := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := config.Load(path)
			if err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}
			slog.Info("config reloaded",
				"execution_threshold", cfg.ExecutionThreshold(),
				"reclaim_window", cfg.ReclaimWindow())
			worker.UpdatePolicy(cfg.ExecutionThreshold(), cfg.ReclaimWindow())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watch error", "error", err)
		}
	}
}
