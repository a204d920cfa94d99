package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PushEvent is a backend event to be written to every client of UserID
// subscribed to Topic. Payload is forwarded to the clients unchanged.
type PushEvent struct {
	UserID        string          `json:"userId"`
	Topic         string          `json:"topic"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func (e PushEvent) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(e.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if len(e.Payload) == 0 || !json.Valid(e.Payload) {
		return fmt.Errorf("payload must be valid JSON")
	}
	return nil
}

// ControlEvent is a client control message relayed to the backend.
type ControlEvent struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Topic          string    `json:"topic"`
	Type           string    `json:"type"`
	NotificationID string    `json:"notificationId,omitempty"`
	Page           int       `json:"page,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

const ControlMarkAsRead = "mark_as_read"

func (e ControlEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if strings.TrimSpace(e.Topic) == "" {
		return fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(e.Type) == "" {
		return fmt.Errorf("type is required")
	}
	if e.Type == ControlMarkAsRead && strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("notificationId is required for %s", ControlMarkAsRead)
	}
	if e.Page < 0 {
		return fmt.Errorf("page must not be negative")
	}
	return nil
}
