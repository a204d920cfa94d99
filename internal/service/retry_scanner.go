package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultStaleScanInterval = time.Minute
	defaultStaleAfter        = 5 * time.Minute
)

type staleRetrier interface {
	RetryStale(ctx context.Context, maxAge time.Duration) ReplayResult
}

// StaleRetryScanner periodically retries actions that have been waiting in
// the offline queue longer than staleAfter. Scans are skipped while offline.
type StaleRetryScanner struct {
	queue        staleRetrier
	connectivity ConnectivitySource
	logger       *zap.Logger
	interval     time.Duration
	staleAfter   time.Duration
}

func NewStaleRetryScanner(
	queue staleRetrier,
	connectivity ConnectivitySource,
	interval time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*StaleRetryScanner, error) {
	if queue == nil {
		return nil, fmt.Errorf("offline queue is required")
	}
	if interval <= 0 {
		interval = defaultStaleScanInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StaleRetryScanner{
		queue:        queue,
		connectivity: connectivity,
		logger:       logger,
		interval:     interval,
		staleAfter:   staleAfter,
	}, nil
}

func (s *StaleRetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so actions left over from a previous run do not wait for the first tick.
	s.scanStale(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.scanStale(ctx)
		}
	}
}

func (s *StaleRetryScanner) scanStale(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if s.connectivity != nil && !s.connectivity.Online() {
		return
	}

	result := s.queue.RetryStale(ctx, s.staleAfter)
	if len(result.Results) == 0 {
		return
	}
	s.logger.Info("stale offline actions retried",
		zap.String("correlationId", result.CorrelationID),
		zap.Int("successCount", result.SuccessCount),
		zap.Int("failureCount", result.FailureCount),
	)
}
