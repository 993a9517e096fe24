package warehouse

import (
	"context"
	"time"
)

// StartRefreshWorker reloads the source every interval until ctx is
// cancelled. Returns immediately if interval is zero or no source is set.
func (w *Warehouse) StartRefreshWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 || w.source == nil {
		w.log.Info().Msg("periodic refresh disabled, worker not started")
		return
	}

	w.log.Info().Dur("interval", interval).Str("source", w.source.String()).Msg("refresh worker started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("refresh worker stopped")
			return
		case <-ticker.C:
			w.runRefresh(ctx)
		}
	}
}

// runRefresh executes a single refresh cycle unless one is already running.
func (w *Warehouse) runRefresh(ctx context.Context) bool {
	select {
	case w.refreshRunning <- struct{}{}:
		defer w.release()
	default:
		w.log.Debug().Msg("refresh already in progress, skipping")
		return false
	}

	// Failures are recorded in LastRefresh; the previous snapshot keeps serving.
	_, _ = w.refresh(ctx)
	return true
}
