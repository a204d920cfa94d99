package service

import (
	"sync"
	"time"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"go.uber.org/zap"
)

const defaultToastBufferSize = 20

// Toast is a transient display event. It is never persisted.
type Toast struct {
	ID             string                  `json:"id"`
	NotificationID string                  `json:"notificationId,omitempty"`
	Title          string                  `json:"title,omitempty"`
	Message        string                  `json:"message"`
	Type           domain.NotificationType `json:"type"`
	Priority       domain.Priority         `json:"priority,omitempty"`
	Duration       time.Duration           `json:"-"`
	DurationMs     int64                   `json:"duration"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// ExpiresAt is the moment the toast auto-dismisses.
func (t Toast) ExpiresAt() time.Time {
	return t.CreatedAt.Add(t.Duration)
}

// ToastSink receives toasts emitted by the registry.
type ToastSink interface {
	Emit(toast Toast)
}

// ToastSinks fans a toast out to several sinks.
type ToastSinks []ToastSink

func (s ToastSinks) Emit(toast Toast) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(toast)
		}
	}
}

// LogToastSink writes toasts to the log.
type LogToastSink struct {
	logger *zap.Logger
}

func NewLogToastSink(logger *zap.Logger) *LogToastSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogToastSink{logger: logger}
}

func (s *LogToastSink) Emit(toast Toast) {
	s.logger.Info("toast",
		zap.String("toastId", toast.ID),
		zap.String("notificationId", toast.NotificationID),
		zap.String("type", toast.Type.String()),
		zap.Duration("duration", toast.Duration),
		zap.String("message", toast.Message),
	)
}

// ToastBuffer keeps the most recent toasts until they expire so a UI polling
// the local API can render and auto-dismiss them.
type ToastBuffer struct {
	mu     sync.Mutex
	size   int
	toasts []Toast
	now    func() time.Time
}

func NewToastBuffer(size int) *ToastBuffer {
	if size <= 0 {
		size = defaultToastBufferSize
	}
	return &ToastBuffer{
		size: size,
		now:  time.Now,
	}
}

func (b *ToastBuffer) Emit(toast Toast) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.toasts = append(b.toasts, toast)
	if overflow := len(b.toasts) - b.size; overflow > 0 {
		b.toasts = append([]Toast(nil), b.toasts[overflow:]...)
	}
}

// Active returns unexpired toasts, oldest first, and forgets expired ones.
func (b *ToastBuffer) Active() []Toast {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	kept := b.toasts[:0]
	for _, toast := range b.toasts {
		if now.Before(toast.ExpiresAt()) {
			kept = append(kept, toast)
		}
	}
	b.toasts = kept

	out := make([]Toast, len(kept))
	copy(out, kept)
	return out
}

// Dismiss removes a toast before it expires.
func (b *ToastBuffer) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, toast := range b.toasts {
		if toast.ID == id {
			b.toasts = append(b.toasts[:i], b.toasts[i+1:]...)
			return true
		}
	}
	return false
}
