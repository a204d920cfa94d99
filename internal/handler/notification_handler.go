package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/service"
)

type NotificationRegistry interface {
	Add(input domain.NotificationInput) (domain.Notification, error)
	List() []domain.Notification
	ByCategory(category domain.Category) []domain.Notification
	ByPriority(priority domain.Priority) []domain.Notification
	MarkAsRead(id string) bool
	MarkAllAsRead() int
	Remove(id string) bool
	Clear()
	UnreadCount() int
}

type ToastSource interface {
	Active() []service.Toast
	Dismiss(id string) bool
}

// ServerFeed is the notifications realtime topic: read marks go through it so
// the server hears about them, and it holds what the server last pushed.
type ServerFeed interface {
	MarkAsRead(id string) (found, sent bool)
	MarkAllAsRead() (updated int, sent bool)
	UnreadCount() int
	Page() []domain.Notification
	LoadPage(page int) bool
}

type NotificationHandler struct {
	registry NotificationRegistry
	toasts   ToastSource
	feed     ServerFeed
}

// NewNotificationHandler builds the handler. feed may be nil when the
// notifications topic is not subscribed; read marks then stay local.
func NewNotificationHandler(registry NotificationRegistry, toasts ToastSource, feed ServerFeed) (*NotificationHandler, error) {
	if registry == nil {
		return nil, fmt.Errorf("notification registry is required")
	}
	return &NotificationHandler{registry: registry, toasts: toasts, feed: feed}, nil
}

func RegisterNotificationRoutes(router fiber.Router, registry NotificationRegistry, toasts ToastSource, feed ServerFeed) error {
	h, err := NewNotificationHandler(registry, toasts, feed)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/notifications", h.ListNotifications)
	v1.Post("/notifications", h.CreateNotification)
	v1.Get("/notifications/unread-count", h.UnreadCount)
	v1.Get("/notifications/server", h.ServerState)
	v1.Post("/notifications/server/page", h.LoadServerPage)
	v1.Post("/notifications/read-all", h.MarkAllAsRead)
	v1.Post("/notifications/:id/read", h.MarkAsRead)
	v1.Delete("/notifications/:id", h.RemoveNotification)
	v1.Delete("/notifications", h.ClearNotifications)
	v1.Get("/toasts", h.ListToasts)
	v1.Delete("/toasts/:id", h.DismissToast)

	return nil
}

type createNotificationRequest struct {
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Type       string          `json:"type"`
	Category   string          `json:"category"`
	Priority   string          `json:"priority"`
	ActionURL  string          `json:"actionUrl"`
	ActionText string          `json:"actionText"`
	Data       json.RawMessage `json:"data"`
}

type notificationResponse struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Type       string          `json:"type"`
	Category   string          `json:"category"`
	Priority   string          `json:"priority"`
	Timestamp  time.Time       `json:"timestamp"`
	Read       bool            `json:"read"`
	ActionURL  string          `json:"actionUrl,omitempty"`
	ActionText string          `json:"actionText,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type listNotificationsResponse struct {
	Data []notificationResponse `json:"data"`
	Meta listMeta               `json:"meta"`
}

type listMeta struct {
	Total  int `json:"total"`
	Unread int `json:"unread"`
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	notifications, err := h.filteredNotifications(c)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Meta: listMeta{
			Total:  len(notifications),
			Unread: h.registry.UnreadCount(),
		},
	})
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	input, err := requestToNotificationInput(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.registry.Add(input)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"unread": h.registry.UnreadCount(),
	})
}

// MarkAsRead marks id read locally and sends mark_as_read to the server. An
// id only the server knows answers 202 once the message went out.
func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var found, synced bool
	if h.feed != nil {
		found, synced = h.feed.MarkAsRead(id)
	} else {
		found = h.registry.MarkAsRead(id)
	}

	status := fiber.StatusOK
	switch {
	case !found && !synced:
		return toHTTPError(fmt.Errorf("%w: notification %q", domain.ErrNotFound, id))
	case !found:
		status = fiber.StatusAccepted
	}

	return c.Status(status).JSON(fiber.Map{
		"notificationId": id,
		"read":           found,
		"synced":         synced,
	})
}

func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	var (
		updated int
		synced  bool
	)
	if h.feed != nil {
		updated, synced = h.feed.MarkAllAsRead()
	} else {
		updated = h.registry.MarkAllAsRead()
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"updated": updated,
		"synced":  synced,
	})
}

// ServerState returns the last notifications page and unread count the
// server pushed.
func (h *NotificationHandler) ServerState(c *fiber.Ctx) error {
	if h.feed == nil {
		return toHTTPError(fmt.Errorf("%w: notifications topic is not subscribed", domain.ErrNotFound))
	}

	page := h.feed.Page()
	return c.Status(fiber.StatusOK).JSON(listNotificationsResponse{
		Data: toNotificationResponses(page),
		Meta: listMeta{
			Total:  len(page),
			Unread: h.feed.UnreadCount(),
		},
	})
}

// LoadServerPage asks the server for ?page= (default 1). The page arrives
// asynchronously and is served by ServerState.
func (h *NotificationHandler) LoadServerPage(c *fiber.Ctx) error {
	if h.feed == nil {
		return toHTTPError(fmt.Errorf("%w: notifications topic is not subscribed", domain.ErrNotFound))
	}

	page := 1
	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return toHTTPError(fmt.Errorf("%w: page must be a positive integer", domain.ErrValidation))
		}
		page = parsed
	}

	if !h.feed.LoadPage(page) {
		return toHTTPError(fmt.Errorf("%w: notifications channel is not open", domain.ErrConflict))
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"page": page})
}

func (h *NotificationHandler) RemoveNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if !h.registry.Remove(id) {
		return toHTTPError(fmt.Errorf("%w: notification %q", domain.ErrNotFound, id))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NotificationHandler) ClearNotifications(c *fiber.Ctx) error {
	h.registry.Clear()
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *NotificationHandler) ListToasts(c *fiber.Ctx) error {
	toasts := []service.Toast{}
	if h.toasts != nil {
		toasts = append(toasts, h.toasts.Active()...)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": toasts,
	})
}

func (h *NotificationHandler) DismissToast(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if h.toasts == nil || !h.toasts.Dismiss(id) {
		return toHTTPError(fmt.Errorf("%w: toast %q", domain.ErrNotFound, id))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// filteredNotifications applies the optional category and priority filters.
// Both filters together intersect.
func (h *NotificationHandler) filteredNotifications(c *fiber.Ctx) ([]domain.Notification, error) {
	rawCategory := strings.TrimSpace(c.Query("category"))
	rawPriority := strings.TrimSpace(c.Query("priority"))

	var (
		category domain.Category
		priority domain.Priority
		err      error
	)
	if rawCategory != "" {
		if category, err = domain.ParseCategoryFromString(rawCategory); err != nil {
			return nil, err
		}
	}
	if rawPriority != "" {
		if priority, err = domain.ParsePriorityFromString(rawPriority); err != nil {
			return nil, err
		}
	}

	switch {
	case category != "" && priority != "":
		out := make([]domain.Notification, 0)
		for _, n := range h.registry.ByCategory(category) {
			if n.Priority == priority {
				out = append(out, n)
			}
		}
		return out, nil
	case category != "":
		return h.registry.ByCategory(category), nil
	case priority != "":
		return h.registry.ByPriority(priority), nil
	default:
		return h.registry.List(), nil
	}
}

func requestToNotificationInput(req createNotificationRequest) (domain.NotificationInput, error) {
	input := domain.NotificationInput{
		Title:      strings.TrimSpace(req.Title),
		Message:    strings.TrimSpace(req.Message),
		ActionURL:  strings.TrimSpace(req.ActionURL),
		ActionText: strings.TrimSpace(req.ActionText),
		Data:       req.Data,
	}

	if req.Type != "" {
		t, err := domain.ParseTypeFromString(req.Type)
		if err != nil {
			return domain.NotificationInput{}, err
		}
		input.Type = t
	}
	if req.Category != "" {
		category, err := domain.ParseCategoryFromString(req.Category)
		if err != nil {
			return domain.NotificationInput{}, err
		}
		input.Category = category
	}
	if req.Priority != "" {
		priority, err := domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return domain.NotificationInput{}, err
		}
		input.Priority = priority
	}
	input.Normalize()

	return input, nil
}

func toNotificationResponses(notifications []domain.Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

func toNotificationResponse(n domain.Notification) notificationResponse {
	return notificationResponse{
		ID:         n.ID,
		Title:      n.Title,
		Message:    n.Message,
		Type:       n.Type.String(),
		Category:   n.Category.String(),
		Priority:   n.Priority.String(),
		Timestamp:  n.Timestamp,
		Read:       n.Read,
		ActionURL:  n.ActionURL,
		ActionText: n.ActionText,
		Data:       n.Data,
	}
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrSessionExpired):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	default:
		return err
	}
}
