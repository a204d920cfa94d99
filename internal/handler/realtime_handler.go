package handler

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/realtime"
)

type RealtimeChannel interface {
	Topic() string
	State() realtime.State
	Attempts() int
	Send(msg any) bool
}

// UpdateSource exposes the recent messages received on a topic.
type UpdateSource interface {
	Updates() []realtime.Message
}

type RealtimeHandler struct {
	channels map[string]RealtimeChannel
	order    []string
	updates  map[string]UpdateSource
}

func NewRealtimeHandler(channels []RealtimeChannel, updates map[string]UpdateSource) (*RealtimeHandler, error) {
	h := &RealtimeHandler{
		channels: make(map[string]RealtimeChannel, len(channels)),
		updates:  updates,
	}
	for _, ch := range channels {
		if ch == nil {
			return nil, fmt.Errorf("realtime channel is required")
		}
		topic := ch.Topic()
		if _, dup := h.channels[topic]; dup {
			return nil, fmt.Errorf("duplicate realtime topic %q", topic)
		}
		h.channels[topic] = ch
		h.order = append(h.order, topic)
	}
	return h, nil
}

func RegisterRealtimeRoutes(router fiber.Router, channels []RealtimeChannel, updates map[string]UpdateSource) error {
	h, err := NewRealtimeHandler(channels, updates)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1/realtime")
	v1.Get("", h.ListChannels)
	v1.Get("/:topic/updates", h.ListUpdates)
	v1.Post("/:topic/send", h.Send)

	return nil
}

type channelStatus struct {
	Topic    string         `json:"topic"`
	State    realtime.State `json:"state"`
	Attempts int            `json:"attempts"`
}

func (h *RealtimeHandler) ListChannels(c *fiber.Ctx) error {
	statuses := make([]channelStatus, 0, len(h.order))
	for _, topic := range h.order {
		ch := h.channels[topic]
		statuses = append(statuses, channelStatus{
			Topic:    topic,
			State:    ch.State(),
			Attempts: ch.Attempts(),
		})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": statuses,
	})
}

func (h *RealtimeHandler) ListUpdates(c *fiber.Ctx) error {
	topic := strings.TrimSpace(c.Params("topic"))
	source, ok := h.updates[topic]
	if !ok || source == nil {
		return toHTTPError(fmt.Errorf("%w: no updates kept for topic %q", domain.ErrNotFound, topic))
	}

	updates := append([]realtime.Message{}, source.Updates()...)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": updates,
	})
}

type sendControlRequest struct {
	Type           string `json:"type"`
	NotificationID string `json:"notificationId"`
	Page           int    `json:"page"`
}

// Send writes a control message on the topic's channel. A channel that is not
// open drops the message and the request fails with 409.
func (h *RealtimeHandler) Send(c *fiber.Ctx) error {
	topic := strings.TrimSpace(c.Params("topic"))
	ch, ok := h.channels[topic]
	if !ok {
		return toHTTPError(fmt.Errorf("%w: realtime topic %q", domain.ErrNotFound, topic))
	}

	var req sendControlRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg, err := toControlMessage(req)
	if err != nil {
		return toHTTPError(err)
	}

	if !ch.Send(msg) {
		return toHTTPError(fmt.Errorf("%w: realtime channel %q is %s", domain.ErrConflict, topic, ch.State()))
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"topic": topic,
		"type":  msg.Type,
	})
}

func toControlMessage(req sendControlRequest) (realtime.ControlMessage, error) {
	switch strings.TrimSpace(req.Type) {
	case realtime.ControlMarkAsRead:
		id := strings.TrimSpace(req.NotificationID)
		if id == "" {
			return realtime.ControlMessage{}, fmt.Errorf("%w: notificationId is required", domain.ErrValidation)
		}
		return realtime.MarkAsReadMessage(id), nil
	case realtime.ControlMarkAllAsRead:
		return realtime.MarkAllAsReadMessage(), nil
	case realtime.ControlGetNotifications:
		return realtime.GetNotificationsMessage(req.Page), nil
	default:
		return realtime.ControlMessage{}, fmt.Errorf("%w: unsupported control type %q", domain.ErrValidation, req.Type)
	}
}
