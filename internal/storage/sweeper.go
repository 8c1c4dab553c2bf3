package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
)

// DefaultSweepCron runs the shadow sweep daily at 03:00.
const DefaultSweepCron = "0 3 * * *"

// Sweeper prunes edit shadows that outlived MaxAge on a cron schedule.
type Sweeper struct {
	shadows *ShadowStore
	cron    string
	maxAge  time.Duration
	now     func() time.Time
}

// NewSweeper validates the cron expression; an empty one means DefaultSweepCron.
func NewSweeper(shadows *ShadowStore, cronExpr string, maxAge time.Duration) (*Sweeper, error) {
	if cronExpr == "" {
		cronExpr = DefaultSweepCron
	}
	if !gronx.IsValid(cronExpr) {
		return nil, fmt.Errorf("invalid shadow sweep cron expression: %s", cronExpr)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("shadow max age must be positive, got %s", maxAge)
	}
	return &Sweeper{shadows: shadows, cron: cronExpr, maxAge: maxAge, now: time.Now}, nil
}

// RunOnce prunes shadows older than MaxAge relative to now.
func (s *Sweeper) RunOnce() (int, error) {
	cutoff := s.now().Add(-s.maxAge)
	removed, err := s.shadows.Prune(cutoff)
	if err != nil {
		logger.Log.Error("shadow_sweep_failed", zap.Error(err))
		return removed, err
	}
	logger.Log.Info("shadow_sweep_done", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
	return removed, nil
}

// Run sleeps until each cron tick and sweeps, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(s.cron, s.now().UTC(), false)
		if err != nil {
			logger.Log.Error("shadow_sweep_nexttick_failed", zap.String("cron", s.cron), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Log.Debug("shadow_sweep_stopping")
			return
		case <-timer.C:
			_, _ = s.RunOnce()
		}
	}
}
