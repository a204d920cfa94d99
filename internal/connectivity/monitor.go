package connectivity

import "sync"

// Monitor tracks whether the backend is reachable and fans transitions out to
// subscribers. Subscriber channels hold one pending value and always carry the
// latest state, so a slow subscriber never blocks Set.
type Monitor struct {
	mu     sync.Mutex
	online bool
	nextID int
	subs   map[int]chan bool
}

func NewMonitor(initial bool) *Monitor {
	return &Monitor{
		online: initial,
		subs:   make(map[int]chan bool),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the current state and reports whether it changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}
	m.online = online

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
	return true
}

// Subscribe returns a channel receiving every state change and a cancel func
// that closes it.
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
