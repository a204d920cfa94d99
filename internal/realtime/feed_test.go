package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/kursadbilgin/notify-sync/internal/domain"
)

type fakeSource struct {
	mu       sync.Mutex
	handlers []func(Message)
	sent     []any
	open     bool
}

func (s *fakeSource) OnMessage(fn func(Message)) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

func (s *fakeSource) Send(msg any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return false
	}
	s.sent = append(s.sent, msg)
	return true
}

func (s *fakeSource) deliver(msg Message) {
	s.mu.Lock()
	handlers := append([]func(Message){}, s.handlers...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(msg)
	}
}

type fakeIngester struct {
	ingested []domain.Notification
	read     []string
	readAll  int
	ingestFn func(n domain.Notification) (domain.Notification, bool, error)
}

func (f *fakeIngester) Ingest(pushed domain.Notification) (domain.Notification, bool, error) {
	f.ingested = append(f.ingested, pushed)
	if f.ingestFn != nil {
		return f.ingestFn(pushed)
	}
	return pushed, true, nil
}

func (f *fakeIngester) MarkAsRead(id string) bool {
	f.read = append(f.read, id)
	return id != "unknown"
}

func (f *fakeIngester) MarkAllAsRead() int {
	f.readAll++
	return 2
}

func TestNotificationFeedAppliesMessages(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	registry := &fakeIngester{}
	feed := NewNotificationFeed(source, registry, nil)

	source.deliver(Message{Kind: KindNewNotification, Notification: &domain.Notification{ID: "n-1", Title: "hi"}})
	source.deliver(Message{Kind: KindUnreadCount, Count: 4})
	source.deliver(Message{Kind: KindNotificationsList, Notifications: []domain.Notification{{ID: "a"}, {ID: "b"}}})
	source.deliver(Message{Kind: "customer_update"})

	if len(registry.ingested) != 1 || registry.ingested[0].ID != "n-1" {
		t.Fatalf("ingested = %+v, want n-1", registry.ingested)
	}
	if feed.UnreadCount() != 4 {
		t.Fatalf("UnreadCount() = %d, want 4", feed.UnreadCount())
	}
	if page := feed.Page(); len(page) != 2 || page[0].ID != "a" {
		t.Fatalf("Page() = %+v", page)
	}
}

func TestNotificationFeedIngestErrorIsDropped(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	registry := &fakeIngester{
		ingestFn: func(n domain.Notification) (domain.Notification, bool, error) {
			return domain.Notification{}, false, fmt.Errorf("%w: empty", domain.ErrValidation)
		},
	}
	NewNotificationFeed(source, registry, nil)

	source.deliver(Message{Kind: KindNewNotification, Notification: &domain.Notification{}})
	if len(registry.ingested) != 1 {
		t.Fatalf("Ingest calls = %d, want 1", len(registry.ingested))
	}
}

func TestNotificationFeedControlMessages(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	registry := &fakeIngester{}
	feed := NewNotificationFeed(source, registry, nil)

	found, sent := feed.MarkAsRead("n-1")
	if !found || sent {
		t.Fatalf("MarkAsRead() while closed = found %v, sent %v; want true, false", found, sent)
	}
	if len(registry.read) != 1 {
		t.Fatal("MarkAsRead() should update the registry even when offline")
	}

	source.open = true
	if found, sent := feed.MarkAsRead("n-2"); !found || !sent {
		t.Fatalf("MarkAsRead() while open = found %v, sent %v; want true, true", found, sent)
	}
	if found, sent := feed.MarkAsRead("unknown"); found || !sent {
		t.Fatalf("MarkAsRead(unknown) = found %v, sent %v; want false, true", found, sent)
	}
	if updated, sent := feed.MarkAllAsRead(); updated != 2 || !sent {
		t.Fatalf("MarkAllAsRead() = %d, %v; want 2, true", updated, sent)
	}
	if !feed.LoadPage(3) {
		t.Fatal("LoadPage() should be sent while open")
	}
	if registry.readAll != 1 {
		t.Fatalf("MarkAllAsRead calls = %d, want 1", registry.readAll)
	}

	want := []ControlMessage{MarkAsReadMessage("n-2"), MarkAsReadMessage("unknown"), MarkAllAsReadMessage(), GetNotificationsMessage(3)}
	if len(source.sent) != len(want) {
		t.Fatalf("sent = %v, want %v", source.sent, want)
	}
	for i := range want {
		if source.sent[i] != want[i] {
			t.Fatalf("sent[%d] = %v, want %v", i, source.sent[i], want[i])
		}
	}
}

func TestDashboardFeedKeepsNewestFifty(t *testing.T) {
	t.Parallel()

	source := &fakeSource{}
	feed := NewDashboardFeed(source, 0)

	if _, ok := feed.Last(); ok {
		t.Fatal("Last() on empty feed should report false")
	}

	for i := 0; i < 60; i++ {
		source.deliver(Message{Kind: Kind(fmt.Sprintf("update-%d", i))})
	}

	updates := feed.Updates()
	if len(updates) != DefaultDashboardHistory {
		t.Fatalf("len(Updates()) = %d, want %d", len(updates), DefaultDashboardHistory)
	}
	if updates[0].Kind != "update-59" || updates[49].Kind != "update-10" {
		t.Fatalf("updates span %s..%s, want update-59..update-10", updates[0].Kind, updates[49].Kind)
	}
	last, ok := feed.Last()
	if !ok || last.Kind != "update-59" {
		t.Fatalf("Last() = %s, want update-59", last.Kind)
	}
}
