package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/z-tavern/messenger/internal/logger"
)

// RefreshFunc reloads the bound thread, usually Synchronizer.Fetch.
type RefreshFunc func(ctx context.Context) error

// Poller calls a refresh function on a fixed interval.
type Poller struct {
	interval time.Duration
	refresh  RefreshFunc
}

// NewPoller creates a poller. A non-positive interval defaults to 5s.
func NewPoller(interval time.Duration, refresh RefreshFunc) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{interval: interval, refresh: refresh}
}

// Run refreshes on every tick until ctx is done. Refresh errors are logged
// and do not stop the loop.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil && ctx.Err() == nil {
				logger.Log.Warn("poll_refresh_failed", zap.Error(err))
			}
		}
	}
}
