// Package resync periodically refetches the open conversation's history
// and merges it through the store's idempotent upsert. It is the backstop
// for receipts lost to evicted deferral slots or missed socket events.
package resync

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"talkie/pkg/config"
	"talkie/pkg/logger"
	"talkie/pkg/session"
)

// Start starts the resync scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.ResyncConfig, sess *session.Session) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("resync_disabled")
		return func() {}, nil
	}

	// map empty cron to every five minutes
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "*/5 * * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("resync_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid resync cron expression: %s", cfg.Cron)
	}

	logger.Info("resync_enabled", "cron", cronExpr)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, sess)
	return cancel, nil
}

func runScheduler(ctx context.Context, cronExpr string, sess *session.Session) {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := gron.IsDue(cronExpr, now)
			if err != nil {
				logger.Error("resync_cron_check_failed", "error", err)
				continue
			}
			if !due {
				continue
			}
			logger.Debug("resync_run")
			sess.Refresh(ctx)
		}
	}
}
