package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type queueReplayer interface {
	ReplayAll(ctx context.Context) ReplayResult
}

type connectivitySubscriber interface {
	Subscribe() (<-chan bool, func())
}

// ReplayTrigger replays the offline queue on every offline to online
// transition. OnReplayed runs after a pass that delivered at least one
// action, so callers can drop cached read-side data.
type ReplayTrigger struct {
	queue      queueReplayer
	monitor    connectivitySubscriber
	onReplayed func(ReplayResult)
	logger     *zap.Logger
}

func NewReplayTrigger(queue queueReplayer, monitor connectivitySubscriber, onReplayed func(ReplayResult), logger *zap.Logger) (*ReplayTrigger, error) {
	if queue == nil {
		return nil, fmt.Errorf("offline queue is required")
	}
	if monitor == nil {
		return nil, fmt.Errorf("connectivity monitor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReplayTrigger{
		queue:      queue,
		monitor:    monitor,
		onReplayed: onReplayed,
		logger:     logger,
	}, nil
}

func (t *ReplayTrigger) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	transitions, cancel := t.monitor.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-transitions:
			if !ok {
				return nil
			}
			if !online {
				continue
			}

			result := t.queue.ReplayAll(ctx)
			t.logger.Info("connectivity restored, offline queue replayed",
				zap.String("correlationId", result.CorrelationID),
				zap.Int("successCount", result.SuccessCount),
				zap.Int("failureCount", result.FailureCount),
			)
			if result.SuccessCount > 0 && t.onReplayed != nil {
				t.onReplayed(result)
			}
		}
	}
}
