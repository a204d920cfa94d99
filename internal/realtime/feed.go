package realtime

import (
	"sync"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"go.uber.org/zap"
)

// NotificationIngester is the part of the notification registry the feed
// writes to.
type NotificationIngester interface {
	Ingest(pushed domain.Notification) (domain.Notification, bool, error)
	MarkAsRead(id string) bool
	MarkAllAsRead() int
}

// MessageSource is a realtime channel as seen by a feed.
type MessageSource interface {
	OnMessage(fn func(Message))
	Send(msg any) bool
}

// NotificationFeed applies the notifications topic to the registry and keeps
// the server-reported unread count and last notifications page.
type NotificationFeed struct {
	registry NotificationIngester
	channel  MessageSource
	logger   *zap.Logger

	mu     sync.RWMutex
	unread int
	page   []domain.Notification
}

func NewNotificationFeed(channel MessageSource, registry NotificationIngester, logger *zap.Logger) *NotificationFeed {
	f := &NotificationFeed{
		registry: registry,
		channel:  channel,
		logger:   observability.Component(logger, "notification_feed"),
	}
	if channel != nil {
		channel.OnMessage(f.Handle)
	}
	return f
}

func (f *NotificationFeed) Handle(msg Message) {
	switch msg.Kind {
	case KindNewNotification:
		if msg.Notification == nil || f.registry == nil {
			return
		}
		notification, added, err := f.registry.Ingest(*msg.Notification)
		if err != nil {
			f.logger.Warn("dropping pushed notification", zap.Error(err))
			return
		}
		if added {
			f.logger.Debug("pushed notification ingested", zap.String("notificationId", notification.ID))
		}
	case KindUnreadCount:
		f.mu.Lock()
		f.unread = msg.Count
		f.mu.Unlock()
	case KindNotificationsList:
		page := make([]domain.Notification, len(msg.Notifications))
		copy(page, msg.Notifications)
		f.mu.Lock()
		f.page = page
		f.mu.Unlock()
	}
}

// UnreadCount is the last count pushed by the server.
func (f *NotificationFeed) UnreadCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// Page is the last notifications page pushed by the server.
func (f *NotificationFeed) Page() []domain.Notification {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]domain.Notification, len(f.page))
	copy(out, f.page)
	return out
}

// MarkAsRead marks id read locally and tells the server. found reports
// whether the registry held id, sent whether the control message went out.
// The server is told even when id is unknown locally: it may come from a
// server page.
func (f *NotificationFeed) MarkAsRead(id string) (found, sent bool) {
	if f.registry != nil {
		found = f.registry.MarkAsRead(id)
	}
	return found, f.send(MarkAsReadMessage(id))
}

// MarkAllAsRead marks everything read locally and tells the server.
func (f *NotificationFeed) MarkAllAsRead() (updated int, sent bool) {
	if f.registry != nil {
		updated = f.registry.MarkAllAsRead()
	}
	return updated, f.send(MarkAllAsReadMessage())
}

// LoadPage asks the server for a notifications page; the answer arrives as
// a notifications_list message.
func (f *NotificationFeed) LoadPage(page int) bool {
	return f.send(GetNotificationsMessage(page))
}

func (f *NotificationFeed) send(msg ControlMessage) bool {
	if f.channel == nil {
		return false
	}
	return f.channel.Send(msg)
}
