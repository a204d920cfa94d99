package service

import (
	"context"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/provider"
	"go.uber.org/zap"
)

// MutationResult describes what happened to a mutation sent through Mutate.
type MutationResult struct {
	ActionID   string `json:"actionId"`
	Queued     bool   `json:"queued"`
	StatusCode int    `json:"statusCode,omitempty"`
	Body       string `json:"body,omitempty"`
}

// Mutate sends req right away when online and queues it otherwise. A
// transient failure while online queues the action and still returns the
// error; a permanent failure (for example a business validation error) is
// returned without queueing.
func (q *OfflineQueue) Mutate(ctx context.Context, req domain.ActionRequest) (MutationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	action, err := q.newAction(req)
	if err != nil {
		return MutationResult{}, err
	}
	result := MutationResult{ActionID: action.ID}

	if q.connectivity != nil && !q.connectivity.Online() {
		q.enqueueAction(action)
		result.Queued = true
		return result, nil
	}

	sendCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	response, err := q.replayer.Replay(sendCtx, action)
	if err == nil {
		result.StatusCode = response.StatusCode
		result.Body = response.Body
		return result, nil
	}

	result.StatusCode = provider.StatusCode(err)
	if provider.IsTransient(err) {
		q.enqueueAction(action)
		result.Queued = true
		q.logger.Warn("mutation failed, queued for replay",
			zap.String("actionId", action.ID),
			zap.String("type", action.Type),
			zap.Error(err),
		)
	}
	return result, err
}
