package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notify-sync/internal/domain"
)

// Kind discriminates inbound realtime frames.
type Kind string

const (
	KindNewNotification   Kind = "new_notification"
	KindUnreadCount       Kind = "unread_count"
	KindNotificationsList Kind = "notifications_list"
)

// Known reports whether k is one of the kinds with a typed payload.
func (k Kind) Known() bool {
	switch k {
	case KindNewNotification, KindUnreadCount, KindNotificationsList:
		return true
	}
	return false
}

var ErrMalformedFrame = errors.New("malformed realtime frame")

// Message is a decoded inbound frame. Exactly one of the typed payload fields
// is set for known kinds; any other kind is carried opaquely in Raw, which
// always holds the full frame.
type Message struct {
	Kind          Kind                  `json:"type"`
	Notification  *domain.Notification  `json:"notification,omitempty"`
	Count         int                   `json:"count,omitempty"`
	Notifications []domain.Notification `json:"notifications,omitempty"`
	Data          json.RawMessage       `json:"data,omitempty"`
	Raw           json.RawMessage       `json:"-"`
	ReceivedAt    time.Time             `json:"receivedAt"`
}

type envelope struct {
	Type          *string            `json:"type"`
	Notification  *wireNotification  `json:"notification"`
	Count         *int               `json:"count"`
	Notifications []wireNotification `json:"notifications"`
	Data          json.RawMessage    `json:"data"`
}

// DecodeMessage parses an inbound frame. Frames that are not JSON objects
// or carry no string type are malformed.
func DecodeMessage(frame []byte) (Message, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == nil || strings.TrimSpace(*env.Type) == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	msg := Message{
		Kind: Kind(strings.TrimSpace(*env.Type)),
		Data: env.Data,
		Raw:  append(json.RawMessage(nil), trimmed...),
	}

	switch msg.Kind {
	case KindNewNotification:
		if env.Notification == nil {
			return Message{}, fmt.Errorf("%w: %s without notification", ErrMalformedFrame, msg.Kind)
		}
		notification := env.Notification.toDomain()
		msg.Notification = &notification
	case KindUnreadCount:
		if env.Count != nil {
			msg.Count = *env.Count
		}
	case KindNotificationsList:
		msg.Notifications = make([]domain.Notification, 0, len(env.Notifications))
		for _, n := range env.Notifications {
			msg.Notifications = append(msg.Notifications, n.toDomain())
		}
	}

	return msg, nil
}

// wireNotification accepts both the camelCase layout of domain.Notification
// and the snake_case layout the backend serializer produces.
type wireNotification struct {
	ID         json.RawMessage `json:"id"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Type       string          `json:"type"`
	Category   string          `json:"category"`
	Priority   string          `json:"priority"`
	Timestamp  *time.Time      `json:"timestamp"`
	CreatedAt  *time.Time      `json:"created_at"`
	Read       *bool           `json:"read"`
	IsRead     *bool           `json:"is_read"`
	ActionURL  string          `json:"actionUrl"`
	ActionURL2 string          `json:"action_url"`
	ActionText string          `json:"actionText"`
	Data       json.RawMessage `json:"data"`
}

func (w wireNotification) toDomain() domain.Notification {
	n := domain.Notification{
		ID:         rawID(w.ID),
		Title:      w.Title,
		Message:    w.Message,
		ActionURL:  w.ActionURL,
		ActionText: w.ActionText,
		Data:       w.Data,
	}
	if n.ActionURL == "" {
		n.ActionURL = w.ActionURL2
	}

	// Unknown enum values fall back to the registry defaults.
	if t, err := domain.ParseTypeFromString(w.Type); err == nil {
		n.Type = t
	}
	if c, err := domain.ParseCategoryFromString(w.Category); err == nil {
		n.Category = c
	}
	if p, err := domain.ParsePriorityFromString(w.Priority); err == nil {
		n.Priority = p
	}

	switch {
	case w.Timestamp != nil:
		n.Timestamp = w.Timestamp.UTC()
	case w.CreatedAt != nil:
		n.Timestamp = w.CreatedAt.UTC()
	}
	switch {
	case w.Read != nil:
		n.Read = *w.Read
	case w.IsRead != nil:
		n.Read = *w.IsRead
	}
	return n
}

// rawID renders a JSON string or number id as a string.
func rawID(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		return num.String()
	}
	return ""
}

// ControlMessage is an outbound frame asking the server to act.
type ControlMessage struct {
	Type           string `json:"type"`
	NotificationID string `json:"notification_id,omitempty"`
	Page           int    `json:"page,omitempty"`
}

const (
	ControlMarkAsRead       = "mark_as_read"
	ControlMarkAllAsRead    = "mark_all_as_read"
	ControlGetNotifications = "get_notifications"
)

func MarkAsReadMessage(notificationID string) ControlMessage {
	return ControlMessage{Type: ControlMarkAsRead, NotificationID: notificationID}
}

func MarkAllAsReadMessage() ControlMessage {
	return ControlMessage{Type: ControlMarkAllAsRead}
}

// GetNotificationsMessage requests a page of notifications; pages start at 1.
func GetNotificationsMessage(page int) ControlMessage {
	if page < 1 {
		page = 1
	}
	return ControlMessage{Type: ControlGetNotifications, Page: page}
}
