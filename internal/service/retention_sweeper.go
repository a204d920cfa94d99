package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultSweepInterval = 24 * time.Hour

type sweeper interface {
	Sweep() int
}

// RetentionSweeper periodically drops notifications past the retention window.
type RetentionSweeper struct {
	registry sweeper
	interval time.Duration
	logger   *zap.Logger
}

func NewRetentionSweeper(registry sweeper, interval time.Duration, logger *zap.Logger) (*RetentionSweeper, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetentionSweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}, nil
}

func (s *RetentionSweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// A sweep missed while the process was down runs now instead of a day later.
	s.registry.Sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := s.registry.Sweep(); removed > 0 {
				s.logger.Debug("retention sweep finished", zap.Int("removed", removed))
			}
		}
	}
}
