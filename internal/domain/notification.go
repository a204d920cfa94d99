package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationType selects toast styling.
type NotificationType string

const (
	TypeSuccess NotificationType = "success"
	TypeError   NotificationType = "error"
	TypeWarning NotificationType = "warning"
	TypeInfo    NotificationType = "info"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case TypeSuccess, TypeError, TypeWarning, TypeInfo:
		return true
	}
	return false
}

func ParseTypeFromString(s string) (NotificationType, error) {
	t := NotificationType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid type %q", ErrValidation, s)
	}
	return t, nil
}

// Category partitions notifications for filtered views.
type Category string

const (
	CategorySystem   Category = "system"
	CategoryUser     Category = "user"
	CategoryBusiness Category = "business"
	CategorySecurity Category = "security"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategorySystem, CategoryUser, CategoryBusiness, CategorySecurity:
		return true
	}
	return false
}

func ParseCategoryFromString(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid category %q", ErrValidation, s)
	}
	return c, nil
}

// Priority affects toast duration and the urgent alert hook.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return p, nil
}

// Toast durations per priority.
const (
	DefaultToastDuration = 5 * time.Second
	UrgentToastDuration  = 10 * time.Second
)

// ToastDuration returns how long the toast for a notification of this priority stays visible.
func (p Priority) ToastDuration() time.Duration {
	if p == PriorityUrgent {
		return UrgentToastDuration
	}
	return DefaultToastDuration
}

// Notification is a persisted entry of the notification registry.
type Notification struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Type       NotificationType `json:"type"`
	Category   Category         `json:"category"`
	Priority   Priority         `json:"priority"`
	Timestamp  time.Time        `json:"timestamp"`
	Read       bool             `json:"read"`
	ActionURL  string           `json:"actionUrl,omitempty"`
	ActionText string           `json:"actionText,omitempty"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

// NotificationInput is what callers supply; id, timestamp and read state are assigned by the registry.
type NotificationInput struct {
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Type       NotificationType `json:"type"`
	Category   Category         `json:"category"`
	Priority   Priority         `json:"priority"`
	ActionURL  string           `json:"actionUrl,omitempty"`
	ActionText string           `json:"actionText,omitempty"`
	Data       json.RawMessage  `json:"data,omitempty"`
}

func (in *NotificationInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" && strings.TrimSpace(in.Message) == "" {
		return fmt.Errorf("%w: title or message is required", ErrValidation)
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: invalid type %q", ErrValidation, in.Type)
	}
	if !in.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, in.Category)
	}
	if !in.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, in.Priority)
	}
	return nil
}

// Normalize fills the defaults the server feed may omit.
func (in *NotificationInput) Normalize() {
	if in.Type == "" {
		in.Type = TypeInfo
	}
	if in.Category == "" {
		in.Category = CategorySystem
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
}

// Age reports how old the notification is at now.
func (n Notification) Age(now time.Time) time.Duration {
	return now.Sub(n.Timestamp)
}
