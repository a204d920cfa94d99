package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/provider"
	"github.com/kursadbilgin/notify-sync/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultReplayConcurrency = 8
	defaultReplayTimeout     = 15 * time.Second
)

// AttemptRecorder stores the outcome of every replay attempt.
type AttemptRecorder interface {
	Create(ctx context.Context, attempt *domain.ReplayAttempt) error
}

// ConnectivitySource reports whether the backend is currently reachable.
type ConnectivitySource interface {
	Online() bool
}

// ActionResult is the outcome of replaying one action.
type ActionResult struct {
	ActionID   string `json:"actionId"`
	Type       string `json:"type"`
	Succeeded  bool   `json:"succeeded"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ReplayResult aggregates one replay pass.
type ReplayResult struct {
	CorrelationID string         `json:"correlationId"`
	SuccessCount  int            `json:"successCount"`
	FailureCount  int            `json:"failureCount"`
	Results       []ActionResult `json:"results"`
}

type QueueOption func(*OfflineQueue)

func WithQueueClock(now func() time.Time) QueueOption {
	return func(q *OfflineQueue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithReplayConcurrency(n int) QueueOption {
	return func(q *OfflineQueue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

func WithReplayTimeout(d time.Duration) QueueOption {
	return func(q *OfflineQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithAttemptRecorder(attempts AttemptRecorder) QueueOption {
	return func(q *OfflineQueue) {
		q.attempts = attempts
	}
}

func WithConnectivity(source ConnectivitySource) QueueOption {
	return func(q *OfflineQueue) {
		q.connectivity = source
	}
}

func WithQueueMetrics(metrics *observability.Metrics) QueueOption {
	return func(q *OfflineQueue) {
		q.metrics = metrics
	}
}

// OfflineQueue is the durable FIFO of mutations waiting to be replayed. An
// action leaves the queue only when a replay gets a 2xx answer.
type OfflineQueue struct {
	store        repository.SnapshotStore
	key          string
	replayer     provider.Replayer
	attempts     AttemptRecorder
	connectivity ConnectivitySource
	metrics      *observability.Metrics
	logger       *zap.Logger
	now          func() time.Time
	concurrency  int
	timeout      time.Duration

	mu       sync.Mutex
	actions  []domain.OfflineAction
	inflight map[string]struct{}
}

func NewOfflineQueue(
	store repository.SnapshotStore,
	key string,
	replayer provider.Replayer,
	logger *zap.Logger,
	opts ...QueueOption,
) (*OfflineQueue, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("snapshot key is required")
	}
	if replayer == nil {
		return nil, fmt.Errorf("replayer is required")
	}
	if store == nil {
		store = repository.NewMemoryStore()
	}

	q := &OfflineQueue{
		store:       store,
		key:         key,
		replayer:    replayer,
		logger:      observability.Component(logger, "offline_queue"),
		now:         time.Now,
		concurrency: defaultReplayConcurrency,
		timeout:     defaultReplayTimeout,
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPersistTimeout)
	defer cancel()
	q.actions = q.sanitize(repository.Load(ctx, store, key, []domain.OfflineAction{}, q.logger))
	q.metrics.SetOfflineQueueDepth(len(q.actions))

	return q, nil
}

func (q *OfflineQueue) sanitize(loaded []domain.OfflineAction) []domain.OfflineAction {
	seen := make(map[string]struct{}, len(loaded))
	actions := make([]domain.OfflineAction, 0, len(loaded))
	for _, action := range loaded {
		if strings.TrimSpace(action.ID) == "" {
			q.logger.Warn("dropping stored action without id")
			continue
		}
		if _, dup := seen[action.ID]; dup {
			q.logger.Warn("dropping duplicate stored action", zap.String("actionId", action.ID))
			continue
		}
		seen[action.ID] = struct{}{}
		actions = append(actions, action)
	}
	return actions
}

// Enqueue stores req for a later replay and returns the action id. It never
// attempts delivery.
func (q *OfflineQueue) Enqueue(req domain.ActionRequest) (string, error) {
	action, err := q.newAction(req)
	if err != nil {
		return "", err
	}
	q.enqueueAction(action)
	return action.ID, nil
}

func (q *OfflineQueue) newAction(req domain.ActionRequest) (domain.OfflineAction, error) {
	if err := req.Validate(); err != nil {
		return domain.OfflineAction{}, err
	}

	var headers map[string]string
	if len(req.Headers) > 0 {
		headers = make(map[string]string, len(req.Headers))
		for name, value := range req.Headers {
			headers[name] = value
		}
	}

	return domain.OfflineAction{
		ID:        uuid.NewString(),
		Type:      strings.TrimSpace(req.Type),
		URL:       strings.TrimSpace(req.URL),
		Method:    strings.ToUpper(strings.TrimSpace(req.Method)),
		Headers:   headers,
		Body:      req.Body,
		Timestamp: q.now().UTC(),
	}, nil
}

func (q *OfflineQueue) enqueueAction(action domain.OfflineAction) {
	q.mu.Lock()
	q.actions = append(q.actions, action)
	q.persistLocked()
	q.mu.Unlock()

	q.metrics.IncActionEnqueued(action.Type)
	q.logger.Info("offline action queued",
		zap.String("actionId", action.ID),
		zap.String("type", action.Type),
		zap.String("method", action.Method),
		zap.String("url", action.URL),
	)
}

// ReplayAll issues every queued action concurrently and joins on all outcomes.
func (q *OfflineQueue) ReplayAll(ctx context.Context) ReplayResult {
	return q.replay(ctx, func(domain.OfflineAction) bool { return true })
}

// RetryStale replays only actions queued longer than maxAge ago.
func (q *OfflineQueue) RetryStale(ctx context.Context, maxAge time.Duration) ReplayResult {
	now := q.now()
	return q.replay(ctx, func(action domain.OfflineAction) bool {
		return action.Age(now) > maxAge
	})
}

func (q *OfflineQueue) replay(ctx context.Context, selected func(domain.OfflineAction) bool) ReplayResult {
	if ctx == nil {
		ctx = context.Background()
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = observability.NewCorrelationID()
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}
	logger := observability.WithContextLogger(q.logger, ctx)

	// Actions already being replayed by an overlapping pass are skipped.
	q.mu.Lock()
	batch := make([]domain.OfflineAction, 0, len(q.actions))
	for _, action := range q.actions {
		if _, busy := q.inflight[action.ID]; busy || !selected(action) {
			continue
		}
		q.inflight[action.ID] = struct{}{}
		batch = append(batch, action)
	}
	q.mu.Unlock()

	result := ReplayResult{CorrelationID: correlationID, Results: make([]ActionResult, len(batch))}
	if len(batch) == 0 {
		return result
	}

	logger.Info("replaying offline actions", zap.Int("count", len(batch)))

	// Per-action failures are results, not errors, so no action cancels another.
	var g errgroup.Group
	g.SetLimit(q.concurrency)
	for i, action := range batch {
		g.Go(func() error {
			result.Results[i] = q.replayOne(ctx, correlationID, action, logger)
			return nil
		})
	}
	_ = g.Wait()

	delivered := make(map[string]struct{}, len(batch))
	for _, r := range result.Results {
		if r.Succeeded {
			result.SuccessCount++
			delivered[r.ActionID] = struct{}{}
		} else {
			result.FailureCount++
		}
	}

	q.mu.Lock()
	for _, action := range batch {
		delete(q.inflight, action.ID)
	}
	if len(delivered) > 0 {
		kept := make([]domain.OfflineAction, 0, len(q.actions))
		for _, action := range q.actions {
			if _, ok := delivered[action.ID]; !ok {
				kept = append(kept, action)
			}
		}
		q.actions = kept
		q.persistLocked()
	}
	q.mu.Unlock()

	logger.Info("offline replay finished",
		zap.Int("successCount", result.SuccessCount),
		zap.Int("failureCount", result.FailureCount),
	)
	return result
}

func (q *OfflineQueue) replayOne(ctx context.Context, correlationID string, action domain.OfflineAction, logger *zap.Logger) ActionResult {
	replayCtx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	start := time.Now()
	response, err := q.replayer.Replay(replayCtx, action)
	elapsed := time.Since(start)

	result := ActionResult{ActionID: action.ID, Type: action.Type}
	outcome := "success"
	if err != nil {
		result.Error = err.Error()
		result.StatusCode = provider.StatusCode(err)
		outcome = "failure"
		if errors.Is(err, domain.ErrSessionExpired) {
			outcome = "session_expired"
		}
		logger.Warn("offline action replay failed",
			zap.String("actionId", action.ID),
			zap.String("type", action.Type),
			zap.Int("statusCode", result.StatusCode),
			zap.Bool("transient", provider.IsTransient(err)),
			zap.Error(err),
		)
	} else {
		result.Succeeded = true
		result.StatusCode = response.StatusCode
		logger.Debug("offline action replayed",
			zap.String("actionId", action.ID),
			zap.Int("statusCode", response.StatusCode),
		)
	}

	q.metrics.IncReplay(outcome)
	q.metrics.ObserveReplayDuration(elapsed)
	q.recordAttempt(ctx, correlationID, action, result, elapsed)
	return result
}

func (q *OfflineQueue) recordAttempt(ctx context.Context, correlationID string, action domain.OfflineAction, result ActionResult, elapsed time.Duration) {
	if q.attempts == nil {
		return
	}

	attempt := &domain.ReplayAttempt{
		ID:            uuid.NewString(),
		ActionID:      action.ID,
		ActionType:    action.Type,
		CorrelationID: correlationID,
		Method:        action.Method,
		URL:           action.URL,
		Succeeded:     result.Succeeded,
		DurationMs:    elapsed.Milliseconds(),
		CreatedAt:     q.now().UTC(),
	}
	if result.StatusCode > 0 {
		statusCode := result.StatusCode
		attempt.StatusCode = &statusCode
	}
	if result.Error != "" {
		errMsg := result.Error
		attempt.Error = &errMsg
	}

	// The attempt log outlives the replay timeout of the action itself.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPersistTimeout)
	defer cancel()
	if err := q.attempts.Create(recordCtx, attempt); err != nil {
		q.logger.Error("failed to record replay attempt", zap.String("actionId", action.ID), zap.Error(err))
	}
}

// Pending returns a copy of the queued actions in FIFO order.
func (q *OfflineQueue) Pending() []domain.OfflineAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.OfflineAction, len(q.actions))
	copy(out, q.actions)
	return out
}

func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

func (q *OfflineQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.actions {
		if q.actions[i].ID == id {
			q.actions = append(q.actions[:i:i], q.actions[i+1:]...)
			q.persistLocked()
			return true
		}
	}
	return false
}

func (q *OfflineQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.actions = []domain.OfflineAction{}
	q.persistLocked()
}

func (q *OfflineQueue) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPersistTimeout)
	defer cancel()
	repository.Save(ctx, q.store, q.key, q.actions, q.logger)
	q.metrics.SetOfflineQueueDepth(len(q.actions))
}
