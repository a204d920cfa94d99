package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-sync/internal/provider"
)

func TestSessionIntegration(t *testing.T) {
	t.Parallel()

	store := &stubSessionStore{}
	var changes []bool
	app := newBareTestApp()
	if err := RegisterSessionRoutes(app, store, func(signedIn bool) { changes = append(changes, signedIn) }); err != nil {
		t.Fatalf("RegisterSessionRoutes() error = %v", err)
	}

	resp, _ := performRequest(t, app, http.MethodPut, "/v1/session", `{"refresh":"r-1"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without access token", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPut, "/v1/session", `{"access":"a-1","refresh":"r-1"}`)
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := store.Tokens(); got.Access != "a-1" || got.Refresh != "r-1" {
		t.Fatalf("tokens = %+v, want a-1/r-1", got)
	}

	resp, body := performRequest(t, app, http.MethodGet, "/v1/session", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var state map[string]bool
	if err := json.Unmarshal(body, &state); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if !state["signedIn"] || !state["refreshable"] {
		t.Fatalf("session = %v, want signed in and refreshable", state)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/session", "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := store.Tokens(); got.Access != "" {
		t.Fatalf("tokens = %+v, want cleared", got)
	}

	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Fatalf("changes = %v, want [true false]", changes)
	}
}

type stubSessionStore struct {
	mu     sync.Mutex
	tokens provider.Tokens
}

func (s *stubSessionStore) Tokens() provider.Tokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

func (s *stubSessionStore) SetTokens(_ context.Context, tokens provider.Tokens) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
}

func (s *stubSessionStore) Clear(context.Context) {
	s.mu.Lock()
	s.tokens = provider.Tokens{}
	s.mu.Unlock()
}
