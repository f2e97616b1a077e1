package quiz

import (
	"context"
	"time"

	"github.com/trezcool/clubhub/core"
)

// Sweeper periodically auto-submits attempts whose time ran out while nobody was calling the API.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   core.Logger
}

func NewSweeper(svc *Service, interval time.Duration, logger core.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, logger: logger}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.svc.ExpireOverdue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("expiring overdue attempts", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("auto-submitted overdue attempts", map[string]interface{}{"count": n})
	}
}
