// Package retention runs the scheduled purge of old feed items and stale
// presence documents.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"feedsync/pkg/config"
	"feedsync/pkg/engine"
	"feedsync/pkg/logger"
)

// Start launches the retention scheduler if enabled. Returns a cancel func;
// a disabled config yields a no-op cancel.
func Start(ctx context.Context, cfg config.RetentionConfig, eng *engine.Pebble) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period.Duration().String(), "dry_run", cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, eng, cronExpr)
	return cancel, nil
}

// runScheduler sleeps until each next cron tick and triggers a run.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, eng *engine.Pebble, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait < 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if err := RunOnce(ctx, cfg, eng); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce executes a single purge pass: feed items older than the retention
// period, then presence documents stale beyond their TTL. Exposed so admin
// tooling and tests can trigger a run without the scheduler.
func RunOnce(ctx context.Context, cfg config.RetentionConfig, eng *engine.Pebble) error {
	started := time.Now()

	period := cfg.Period.Duration()
	if period > 0 {
		cutoff := time.Now().UTC().Add(-period)
		sleep := time.Duration(cfg.BatchSleepMs) * time.Millisecond
		n, err := eng.PurgeItemsOlderThan(ctx, cutoff, cfg.BatchSize, sleep, cfg.DryRun)
		if err != nil {
			return fmt.Errorf("purge items: %w", err)
		}
		logger.Info("retention_items_purged", "count", n, "cutoff", cutoff.Format(time.RFC3339), "dry_run", cfg.DryRun)
	}

	ttl := cfg.PresenceTTL.Duration()
	if ttl > 0 {
		n, err := eng.PurgeStalePresence(ctx, ttl, cfg.DryRun)
		if err != nil {
			return fmt.Errorf("purge presence: %w", err)
		}
		logger.Info("retention_presence_purged", "count", n, "ttl", ttl.String(), "dry_run", cfg.DryRun)
	}

	logger.Info("retention_run_complete", "elapsed_ms", time.Since(started).Milliseconds())
	return nil
}
