package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/provider"
	"github.com/kursadbilgin/notify-sync/internal/service"
)

const defaultStaleAge = 5 * time.Minute

type OfflineQueue interface {
	Enqueue(req domain.ActionRequest) (string, error)
	Mutate(ctx context.Context, req domain.ActionRequest) (service.MutationResult, error)
	Pending() []domain.OfflineAction
	Remove(id string) bool
	Clear()
	ReplayAll(ctx context.Context) service.ReplayResult
	RetryStale(ctx context.Context, maxAge time.Duration) service.ReplayResult
}

// AttemptHistory is the replay audit log. It is only available with the
// postgres store backend.
type AttemptHistory interface {
	ListByActionID(ctx context.Context, actionID string) ([]domain.ReplayAttempt, error)
}

type OfflineHandler struct {
	queue   OfflineQueue
	history AttemptHistory
}

func NewOfflineHandler(queue OfflineQueue, history AttemptHistory) (*OfflineHandler, error) {
	if queue == nil {
		return nil, fmt.Errorf("offline queue is required")
	}
	return &OfflineHandler{queue: queue, history: history}, nil
}

func RegisterOfflineRoutes(router fiber.Router, queue OfflineQueue, history AttemptHistory) error {
	h, err := NewOfflineHandler(queue, history)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/offline")
	v1.Post("/actions", h.EnqueueAction)
	v1.Get("/actions", h.ListActions)
	v1.Get("/actions/:id/attempts", h.ListAttempts)
	v1.Delete("/actions/:id", h.RemoveAction)
	v1.Delete("/actions", h.ClearActions)
	v1.Post("/mutate", h.Mutate)
	v1.Post("/replay", h.Replay)
	v1.Post("/retry-stale", h.RetryStale)

	return nil
}

type enqueueActionRequest struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

type listActionsResponse struct {
	Data []domain.OfflineAction `json:"data"`
	Meta actionsMeta            `json:"meta"`
}

type actionsMeta struct {
	Total int `json:"total"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	ActionID      string    `json:"actionId"`
	ActionType    string    `json:"actionType"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Method        string    `json:"method"`
	URL           string    `json:"url"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	Error         *string   `json:"error,omitempty"`
	Succeeded     bool      `json:"succeeded"`
	DurationMs    int64     `json:"durationMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (h *OfflineHandler) EnqueueAction(c *fiber.Ctx) error {
	var req enqueueActionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id, err := h.queue.Enqueue(req.toDomain())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id": id,
	})
}

// Mutate sends the request now when online and queues it otherwise. A queued
// mutation answers 202; one that reached the backend answers 200 with the
// backend's status and body.
func (h *OfflineHandler) Mutate(c *fiber.Ctx) error {
	var req enqueueActionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.queue.Mutate(replayContext(c), req.toDomain())
	switch {
	case err == nil && result.Queued:
		return c.Status(fiber.StatusAccepted).JSON(result)
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(result)
	case result.Queued:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"actionId":   result.ActionID,
			"queued":     true,
			"statusCode": result.StatusCode,
			"error":      err.Error(),
		})
	default:
		return toMutationError(err)
	}
}

func (h *OfflineHandler) ListActions(c *fiber.Ctx) error {
	actions := h.queue.Pending()
	return c.Status(fiber.StatusOK).JSON(listActionsResponse{
		Data: actions,
		Meta: actionsMeta{Total: len(actions)},
	})
}

// ListAttempts returns the recorded replays of an action, oldest first. The
// action itself may already have left the queue.
func (h *OfflineHandler) ListAttempts(c *fiber.Ctx) error {
	if h.history == nil {
		return toHTTPError(fmt.Errorf("%w: replay attempts are not recorded by this store backend", domain.ErrNotFound))
	}

	id := strings.TrimSpace(c.Params("id"))
	attempts, err := h.history.ListByActionID(c.UserContext(), id)
	if err != nil {
		return fmt.Errorf("failed to list replay attempts: %w", err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:            a.ID,
			ActionID:      a.ActionID,
			ActionType:    a.ActionType,
			CorrelationID: a.CorrelationID,
			Method:        a.Method,
			URL:           a.URL,
			StatusCode:    a.StatusCode,
			Error:         a.Error,
			Succeeded:     a.Succeeded,
			DurationMs:    a.DurationMs,
			CreatedAt:     a.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": data,
		"meta": actionsMeta{Total: len(data)},
	})
}

func (h *OfflineHandler) RemoveAction(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if !h.queue.Remove(id) {
		return toHTTPError(fmt.Errorf("%w: offline action %q", domain.ErrNotFound, id))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *OfflineHandler) ClearActions(c *fiber.Ctx) error {
	h.queue.Clear()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *OfflineHandler) Replay(c *fiber.Ctx) error {
	result := h.queue.ReplayAll(replayContext(c))
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *OfflineHandler) RetryStale(c *fiber.Ctx) error {
	maxAge := defaultStaleAge
	if raw := strings.TrimSpace(c.Query("maxAge")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			return toHTTPError(fmt.Errorf("%w: maxAge must be a non-negative duration", domain.ErrValidation))
		}
		maxAge = parsed
	}

	result := h.queue.RetryStale(replayContext(c), maxAge)
	return c.Status(fiber.StatusOK).JSON(result)
}

func (r enqueueActionRequest) toDomain() domain.ActionRequest {
	return domain.ActionRequest{
		Type:    strings.TrimSpace(r.Type),
		URL:     strings.TrimSpace(r.URL),
		Method:  strings.ToUpper(strings.TrimSpace(r.Method)),
		Headers: r.Headers,
		Body:    r.Body,
	}
}

// toMutationError passes a backend rejection through with its own 4xx status.
// Anything else the backend did wrong is a 502.
func toMutationError(err error) error {
	if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrSessionExpired) {
		return toHTTPError(err)
	}
	if status := provider.StatusCode(err); status >= fiber.StatusBadRequest && status < fiber.StatusInternalServerError {
		return fiber.NewError(status, err.Error())
	}
	return fiber.NewError(fiber.StatusBadGateway, err.Error())
}

// replayContext carries the request id into the replay pass so its logs and
// attempts share the caller's correlation id.
func replayContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id := requestCorrelationID(c); id != "" {
		ctx = observability.WithCorrelationID(ctx, id)
	}
	return ctx
}
