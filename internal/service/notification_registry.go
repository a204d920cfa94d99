package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultRetention      = 7 * 24 * time.Hour
	defaultPersistTimeout = 5 * time.Second
)

// AlertFunc is invoked for every urgent notification.
type AlertFunc func(notification domain.Notification)

type RegistryOption func(*NotificationRegistry)

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *NotificationRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

func WithAlert(alert AlertFunc) RegistryOption {
	return func(r *NotificationRegistry) {
		r.alert = alert
	}
}

func WithRetention(retention time.Duration) RegistryOption {
	return func(r *NotificationRegistry) {
		if retention > 0 {
			r.retention = retention
		}
	}
}

func WithRegistryMetrics(metrics *observability.Metrics) RegistryOption {
	return func(r *NotificationRegistry) {
		r.metrics = metrics
	}
}

// NotificationRegistry is the ordered (newest-first) notification list. Every
// mutation is persisted as a whole snapshot; the in-memory list stays
// authoritative when the store fails.
type NotificationRegistry struct {
	store     repository.SnapshotStore
	key       string
	toasts    ToastSink
	alert     AlertFunc
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	retention time.Duration

	mu    sync.Mutex
	items []domain.Notification
}

func NewNotificationRegistry(
	store repository.SnapshotStore,
	key string,
	toasts ToastSink,
	logger *zap.Logger,
	opts ...RegistryOption,
) (*NotificationRegistry, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("snapshot key is required")
	}
	if store == nil {
		store = repository.NewMemoryStore()
	}

	r := &NotificationRegistry{
		store:     store,
		key:       key,
		toasts:    toasts,
		logger:    observability.Component(logger, "registry"),
		now:       time.Now,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPersistTimeout)
	defer cancel()
	r.items = r.sanitize(repository.Load(ctx, store, key, []domain.Notification{}, r.logger))

	return r, nil
}

// sanitize drops snapshot entries that would break id uniqueness.
func (r *NotificationRegistry) sanitize(loaded []domain.Notification) []domain.Notification {
	seen := make(map[string]struct{}, len(loaded))
	items := make([]domain.Notification, 0, len(loaded))
	for _, n := range loaded {
		if strings.TrimSpace(n.ID) == "" {
			r.logger.Warn("dropping stored notification without id")
			continue
		}
		if _, dup := seen[n.ID]; dup {
			r.logger.Warn("dropping duplicate stored notification", zap.String("notificationId", n.ID))
			continue
		}
		seen[n.ID] = struct{}{}
		items = append(items, n)
	}
	return items
}

// Add creates a notification from input, prepends it and emits its toast.
func (r *NotificationRegistry) Add(input domain.NotificationInput) (domain.Notification, error) {
	if err := input.Validate(); err != nil {
		return domain.Notification{}, err
	}

	notification := domain.Notification{
		ID:         uuid.NewString(),
		Title:      input.Title,
		Message:    input.Message,
		Type:       input.Type,
		Category:   input.Category,
		Priority:   input.Priority,
		Timestamp:  r.now().UTC(),
		Read:       false,
		ActionURL:  input.ActionURL,
		ActionText: input.ActionText,
		Data:       input.Data,
	}

	r.mu.Lock()
	r.items = append([]domain.Notification{notification}, r.items...)
	r.persistLocked()
	r.mu.Unlock()

	r.announce(notification)
	return notification, nil
}

// Ingest adds a notification pushed by the server, keeping its id and
// timestamp. A notification whose id is already present is ignored and
// Ingest reports false.
func (r *NotificationRegistry) Ingest(pushed domain.Notification) (domain.Notification, bool, error) {
	input := domain.NotificationInput{
		Title:      pushed.Title,
		Message:    pushed.Message,
		Type:       pushed.Type,
		Category:   pushed.Category,
		Priority:   pushed.Priority,
		ActionURL:  pushed.ActionURL,
		ActionText: pushed.ActionText,
		Data:       pushed.Data,
	}
	input.Normalize()
	if err := input.Validate(); err != nil {
		return domain.Notification{}, false, err
	}

	notification := pushed
	notification.Type = input.Type
	notification.Category = input.Category
	notification.Priority = input.Priority
	if strings.TrimSpace(notification.ID) == "" {
		notification.ID = uuid.NewString()
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = r.now().UTC()
	}

	r.mu.Lock()
	if idx, ok := r.findLocked(notification.ID); ok {
		existing := r.items[idx]
		r.mu.Unlock()
		return existing, false, nil
	}
	r.items = append([]domain.Notification{notification}, r.items...)
	r.persistLocked()
	r.mu.Unlock()

	r.announce(notification)
	return notification, true, nil
}

// ShowToast emits a transient toast that is not recorded in the registry.
// A non-positive duration uses the default.
func (r *NotificationRegistry) ShowToast(message string, toastType domain.NotificationType, duration time.Duration) (Toast, error) {
	if toastType == "" {
		toastType = domain.TypeInfo
	}
	if !toastType.IsValid() {
		return Toast{}, fmt.Errorf("%w: invalid type %q", domain.ErrValidation, toastType)
	}
	if duration <= 0 {
		duration = domain.DefaultToastDuration
	}

	toast := Toast{
		ID:         uuid.NewString(),
		Message:    message,
		Type:       toastType,
		Duration:   duration,
		DurationMs: duration.Milliseconds(),
		CreatedAt:  r.now().UTC(),
	}
	r.emit(toast)
	return toast, nil
}

// MarkAsRead reports whether id exists.
func (r *NotificationRegistry) MarkAsRead(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.findLocked(id)
	if !ok {
		return false
	}
	if !r.items[idx].Read {
		r.items[idx].Read = true
		r.persistLocked()
	}
	return true
}

// MarkAllAsRead returns how many notifications changed.
func (r *NotificationRegistry) MarkAllAsRead() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := 0
	for i := range r.items {
		if !r.items[i].Read {
			r.items[i].Read = true
			changed++
		}
	}
	if changed > 0 {
		r.persistLocked()
	}
	return changed
}

func (r *NotificationRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.findLocked(id)
	if !ok {
		return false
	}
	r.items = append(r.items[:idx:idx], r.items[idx+1:]...)
	r.persistLocked()
	return true
}

func (r *NotificationRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = []domain.Notification{}
	r.persistLocked()
}

// Sweep removes notifications older than the retention window. An entry
// exactly at the boundary is kept.
func (r *NotificationRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	kept := make([]domain.Notification, 0, len(r.items))
	for _, n := range r.items {
		if n.Age(now) > r.retention {
			continue
		}
		kept = append(kept, n)
	}

	removed := len(r.items) - len(kept)
	if removed == 0 {
		return 0
	}
	r.items = kept
	r.persistLocked()
	r.metrics.AddNotificationsSwept(removed)
	r.logger.Info("retention sweep removed notifications", zap.Int("removed", removed))
	return removed
}

func (r *NotificationRegistry) List() []domain.Notification {
	return r.filter(func(domain.Notification) bool { return true })
}

func (r *NotificationRegistry) ByCategory(category domain.Category) []domain.Notification {
	return r.filter(func(n domain.Notification) bool { return n.Category == category })
}

func (r *NotificationRegistry) ByPriority(priority domain.Priority) []domain.Notification {
	return r.filter(func(n domain.Notification) bool { return n.Priority == priority })
}

func (r *NotificationRegistry) Get(id string) (domain.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.findLocked(id)
	if !ok {
		return domain.Notification{}, false
	}
	return r.items[idx], true
}

func (r *NotificationRegistry) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, n := range r.items {
		if !n.Read {
			count++
		}
	}
	return count
}

func (r *NotificationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *NotificationRegistry) filter(keep func(domain.Notification) bool) []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Notification, 0, len(r.items))
	for _, n := range r.items {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func (r *NotificationRegistry) findLocked(id string) (int, bool) {
	for i := range r.items {
		if r.items[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

func (r *NotificationRegistry) persistLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPersistTimeout)
	defer cancel()
	repository.Save(ctx, r.store, r.key, r.items, r.logger)
}

// announce runs outside the lock so sinks and the alert hook may call back
// into the registry.
func (r *NotificationRegistry) announce(notification domain.Notification) {
	r.metrics.IncNotificationAdded(notification.Category.String(), notification.Priority.String())

	duration := notification.Priority.ToastDuration()
	r.emit(Toast{
		ID:             uuid.NewString(),
		NotificationID: notification.ID,
		Title:          notification.Title,
		Message:        notification.Message,
		Type:           notification.Type,
		Priority:       notification.Priority,
		Duration:       duration,
		DurationMs:     duration.Milliseconds(),
		CreatedAt:      r.now().UTC(),
	})

	if notification.Priority == domain.PriorityUrgent && r.alert != nil {
		r.alert(notification)
	}
}

func (r *NotificationRegistry) emit(toast Toast) {
	r.metrics.IncToastEmitted(toast.Type.String())
	if r.toasts != nil {
		r.toasts.Emit(toast)
	}
}
