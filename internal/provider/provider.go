package provider

import (
	"context"

	"github.com/kursadbilgin/notify-sync/internal/domain"
)

// Replayer issues a captured offline action against the backend.
type Replayer interface {
	Replay(ctx context.Context, action domain.OfflineAction) (*ReplayResponse, error)
}

// ReplayResponse stores the backend answer to a successful (2xx) replay.
type ReplayResponse struct {
	StatusCode int
	Body       string
	RequestID  string
}

// TokenProvider supplies bearer tokens to outbound calls.
type TokenProvider interface {
	AccessToken() string
	// Refresh obtains a new access token after rejected was refused by the
	// backend. It returns domain.ErrSessionExpired when the session is over.
	Refresh(ctx context.Context, rejected string) (string, error)
}
