package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/repository"
	"go.uber.org/zap"
)

const (
	refreshPath           = "/auth/token/refresh/"
	defaultRefreshTimeout = 10 * time.Second
)

var _ TokenProvider = (*TokenSource)(nil)

// Tokens is the persisted credential pair.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

// TokenSource owns the access/refresh token pair, persists it in the snapshot
// store and refreshes it against the backend when an access token is rejected.
type TokenSource struct {
	store      repository.SnapshotStore
	key        string
	client     *resty.Client
	refreshURL string
	logger     *zap.Logger

	mu        sync.RWMutex
	tokens    Tokens
	onExpired func()

	refreshMu sync.Mutex
}

func NewTokenSource(store repository.SnapshotStore, key string, apiBaseURL string, client *resty.Client, logger *zap.Logger) (*TokenSource, error) {
	base := strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if client == nil {
		client = resty.New()
		client.SetTimeout(defaultRefreshTimeout)
	}
	client.SetRetryCount(0)

	logger = observability.Component(logger, "tokens")

	return &TokenSource{
		store:      store,
		key:        key,
		client:     client,
		refreshURL: base + refreshPath,
		logger:     logger,
		tokens:     repository.Load(context.Background(), store, key, Tokens{}, logger),
	}, nil
}

// OnSessionExpired registers fn to run whenever a refresh is rejected and the
// tokens are cleared.
func (s *TokenSource) OnSessionExpired(fn func()) {
	s.mu.Lock()
	s.onExpired = fn
	s.mu.Unlock()
}

func (s *TokenSource) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens.Access
}

func (s *TokenSource) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

func (s *TokenSource) SetTokens(ctx context.Context, tokens Tokens) {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()

	repository.Save(ctx, s.store, s.key, tokens, s.logger)
}

func (s *TokenSource) Clear(ctx context.Context) {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, s.key); err != nil {
		s.logger.Error("failed to delete tokens", zap.Error(err))
	}
}

// Refresh exchanges the refresh token for a new access token. Concurrent
// callers that observed the same rejected token share one refresh call.
// A rejected refresh clears the tokens and returns domain.ErrSessionExpired;
// a transport failure keeps them so the session survives being offline.
func (s *TokenSource) Refresh(ctx context.Context, rejected string) (string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	current := s.Tokens()
	if current.Access != "" && current.Access != rejected {
		return current.Access, nil
	}
	if current.Refresh == "" {
		s.expire(ctx, "no refresh token")
		return "", domain.ErrSessionExpired
	}

	var body refreshResponse
	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(refreshRequest{Refresh: current.Refresh}).
		SetResult(&body).
		Post(s.refreshURL)
	if err != nil {
		return "", transportError("token refresh failed", err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices || body.Access == "" {
		if isTransientHTTPStatus(statusCode) {
			return "", &ReplayError{
				StatusCode: statusCode,
				Message:    statusErrorMessage(statusCode, response.String()),
				Transient:  true,
			}
		}
		s.expire(ctx, fmt.Sprintf("refresh rejected with status %d", statusCode))
		return "", domain.ErrSessionExpired
	}

	next := Tokens{Access: body.Access, Refresh: current.Refresh}
	if body.Refresh != "" {
		next.Refresh = body.Refresh
	}
	s.SetTokens(ctx, next)
	s.logger.Info("access token refreshed")

	return next.Access, nil
}

func (s *TokenSource) expire(ctx context.Context, reason string) {
	s.logger.Warn("session expired", zap.String("reason", reason))
	s.Clear(ctx)

	s.mu.RLock()
	hook := s.onExpired
	s.mu.RUnlock()
	if hook != nil {
		hook()
	}
}
