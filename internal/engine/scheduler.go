package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives time-based eviction: expired fetches on every tick, idle
// subscriber streams alongside.
type Scheduler struct {
	hub      *Hub
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(hub *Hub, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{hub: hub, interval: interval, logger: logger}
}

// Run processes ticks until the context is cancelled. Call in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("expiry scheduler starting", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry scheduler stopping")
			return
		case <-ticker.C:
			now := s.hub.clock.Now()
			if n := s.hub.Tick(now); n > 0 {
				s.logger.Debug("expired fetches evicted", zap.Int("count", n))
			}
			if n := s.hub.DropIdleSubscribers(now); n > 0 {
				s.logger.Debug("idle subscribers dropped", zap.Int("count", n))
			}
		}
	}
}
