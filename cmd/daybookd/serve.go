package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jotworks/daybook/internal/blob"
	"github.com/jotworks/daybook/internal/dashboard"
	"github.com/jotworks/daybook/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon in the foreground.

The daemon periodically syncs the active namespace, replays queued
operations when connectivity returns, watches the data directory for
snapshot writes from other processes, and (optionally) serves a
real-time dashboard with metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		// Snapshot writes from other processes are surfaced as a metric and
		// a log line; the next initialization of that namespace picks them up.
		watcher, err := blob.NewWatcher(a.store)
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Stop()

		var dash *dashboard.Server
		if a.cfg.Dashboard.Enabled {
			dash = dashboard.NewServer(a.router, &dashboard.Config{
				Port:   a.cfg.Dashboard.Port,
				Logger: a.logger,
			})
			dash.Watch(a.machine)
			if err := dash.Start(); err != nil {
				return err
			}
			defer func() { _ = dash.Stop() }()
		}

		// Wake requests from the router coalesce into one pending signal.
		wake := make(chan struct{}, 1)
		a.router.RegisterWake(func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		})

		interval := a.cfg.Sync.Interval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		a.logger.Printf("Daemon started (sync interval %s)", interval)

		for {
			select {
			case <-ticker.C:
				res, err := a.router.SyncNow(ctx)
				if err != nil {
					a.logger.Printf("WARNING: periodic sync failed: %v", err)
					continue
				}
				if dash != nil {
					dash.BroadcastSync(res)
				}

			case <-wake:
				res, err := a.router.RetryPending(ctx)
				if err != nil {
					a.logger.Printf("WARNING: pending replay failed: %v", err)
					continue
				}
				if dash != nil {
					dash.BroadcastSync(res)
				}

			case ev, ok := <-watcher.Events():
				if !ok {
					continue
				}
				metrics.ExternalSnapshotWrites.Inc()
				a.logger.Printf("External snapshot write detected for %s", ev.Key)

			case err, ok := <-watcher.Errors():
				if ok {
					a.logger.Printf("WARNING: snapshot watcher error: %v", err)
				}

			case sig := <-sigCh:
				a.logger.Printf("Received %s, shutting down", sig)
				return nil
			}
		}
	},
}
