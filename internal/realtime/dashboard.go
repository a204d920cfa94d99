package realtime

import "sync"

const DefaultDashboardHistory = 50

// DashboardFeed keeps the most recent dashboard updates, newest first.
type DashboardFeed struct {
	limit int

	mu      sync.RWMutex
	updates []Message
}

func NewDashboardFeed(channel MessageSource, limit int) *DashboardFeed {
	if limit <= 0 {
		limit = DefaultDashboardHistory
	}
	f := &DashboardFeed{limit: limit}
	if channel != nil {
		channel.OnMessage(f.Handle)
	}
	return f
}

func (f *DashboardFeed) Handle(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	keep := len(f.updates)
	if keep > f.limit-1 {
		keep = f.limit - 1
	}
	updates := make([]Message, 0, keep+1)
	updates = append(updates, msg)
	updates = append(updates, f.updates[:keep]...)
	f.updates = updates
}

func (f *DashboardFeed) Updates() []Message {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Message, len(f.updates))
	copy(out, f.updates)
	return out
}

func (f *DashboardFeed) Last() (Message, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.updates) == 0 {
		return Message{}, false
	}
	return f.updates[0], true
}
