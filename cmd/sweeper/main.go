// The sweeper enforces data retention: detection events past their TTL are
// deleted per org, and inbox images abandoned by failed capture tasks are
// removed from object storage. It runs as a single replica alongside the
// API and workers.
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

	"golang.org/x/sync/errgroup"

	"github.com/your-org/admatch/internal/config"
	"github.com/your-org/admatch/internal/observability"
	"github.com/your-org/admatch/internal/storage"
)

// Inbox objects younger than this may still be in flight on the capture
// queue, so the sweeper leaves them alone.
const inboxGrace = 30 * time.Minute

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting admatch sweeper",
		"event_ttl", cfg.Retention.EventTTL,
		"interval", cfg.Retention.SweepInterval,
	)

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		// Sweep once at startup, then on the interval.
		sweep(ctx, cfg, db, minioStore)

		ticker := time.NewTicker(cfg.Retention.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx, cfg, db, minioStore)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("sweeper stopped")
	cancel()
}

func sweep(ctx context.Context, cfg *config.Config, db *storage.PostgresStore, objects *storage.MinIOStore) {
	start := time.Now()
	cutoff := start.UTC().Add(-cfg.Retention.EventTTL)

	orgs, err := db.ListOrgs(ctx)
	if err != nil {
		slog.Error("list orgs for sweep", "error", err)
		return
	}

	var total int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	deleted := make([]int64, len(orgs))
	for i, org := range orgs {
		g.Go(func() error {
			n, err := db.DeleteEventsBefore(gctx, org.ID, cutoff)
			if err != nil {
				slog.Error("delete expired events", "org_id", org.ID, "error", err)
				return nil // keep sweeping other orgs
			}
			deleted[i] = n
			return nil
		})
	}
	_ = g.Wait()
	for _, n := range deleted {
		total += n
	}

	stale := sweepInbox(ctx, objects, start.UTC().Add(-inboxGrace))

	slog.Info("retention sweep complete",
		"orgs", len(orgs),
		"events_deleted", total,
		"inbox_deleted", stale,
		"took", time.Since(start).Round(time.Millisecond),
	)
}

// sweepInbox removes transient capture images that were never cleaned up,
// typically because their task dead-lettered before extraction.
func sweepInbox(ctx context.Context, objects *storage.MinIOStore, cutoff time.Time) int {
	keys, err := objects.ListObjectsOlderThan(ctx, storage.InboxPrefix, cutoff)
	if err != nil {
		slog.Error("list stale inbox objects", "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	if err := objects.DeleteObjects(ctx, keys); err != nil {
		slog.Error("delete stale inbox objects", "error", err)
		return 0
	}
	return len(keys)
}
