// Package scheduler runs the engine's periodic maintenance: the hourly
// sweep that records expiry transitions for tokens past their lifetime.
package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"

	"devicegate/internal/devauth"
	"devicegate/internal/logger"
)

type Scheduler struct {
	engine *devauth.Engine
	logger *slog.Logger
	c      *cron.Cron
}

func NewScheduler(engine *devauth.Engine, parent *slog.Logger) *Scheduler {
	return &Scheduler{
		engine: engine,
		logger: logger.Component(parent, "scheduler"),
		c:      cron.New(),
	}
}

// Start runs one sweep immediately, then schedules an hourly one. A
// failed sweep is logged and retried next cycle; the transition is also
// recorded lazily on validation, so a missed sweep loses nothing.
func (s *Scheduler) Start() error {
	s.sweep()
	if _, err := s.c.AddFunc("@hourly", s.sweep); err != nil {
		return err
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) sweep() {
	count, err := s.engine.SweepExpired()
	if err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("expiry sweep completed", "expired", count)
	}
}

func (s *Scheduler) Stop() {
	s.c.Stop()
}
