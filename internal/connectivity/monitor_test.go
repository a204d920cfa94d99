package connectivity

import (
	"testing"
	"time"
)

func TestMonitorSetReportsTransitions(t *testing.T) {
	t.Parallel()

	m := NewMonitor(false)

	if m.Set(false) {
		t.Fatal("Set(false) on offline monitor should not report a change")
	}
	if !m.Set(true) {
		t.Fatal("Set(true) on offline monitor should report a change")
	}
	if !m.Online() {
		t.Fatal("Online() = false, want true")
	}
	if m.Set(true) {
		t.Fatal("repeated Set(true) should not report a change")
	}
}

func TestMonitorSubscribeReceivesChanges(t *testing.T) {
	t.Parallel()

	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)

	select {
	case got := <-ch:
		if !got {
			t.Fatalf("received %v, want true", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transition")
	}
}

func TestMonitorSubscribeCoalescesToLatest(t *testing.T) {
	t.Parallel()

	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	if got := <-ch; !got {
		t.Fatalf("received %v, want latest state true", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected extra value %v", got)
	default:
	}
}

func TestMonitorCancelClosesChannel(t *testing.T) {
	t.Parallel()

	m := NewMonitor(true)
	ch, cancel := m.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
	m.Set(false)
}
