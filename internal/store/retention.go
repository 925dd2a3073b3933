package store

import (
	"context"
	"log/slog"
	"time"
)

const retentionInterval = time.Hour

// RunRetention deletes turn audit rows older than retention every interval
// until ctx is done. A zero retention disables the worker.
func RunRetention(ctx context.Context, repo Repository, retention, interval time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = retentionInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Retention worker started", "interval", interval, "retention", retention)

	for {
		select {
		case <-ticker.C:
			cleanupTurns(ctx, repo, retention)
		case <-ctx.Done():
			slog.Info("Retention worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func cleanupTurns(ctx context.Context, repo Repository, retention time.Duration) {
	deleted, err := repo.CleanupTurns(ctx, retention)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention worker: context canceled during cleanup", "error", err)
			return
		}
		slog.Error("Retention worker failed to cleanup turns", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker removed old turns", "count", deleted)
	}
}
