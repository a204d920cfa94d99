package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/observability"
	"github.com/kursadbilgin/notify-sync/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultReplayTimeout = 15 * time.Second

	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderCorrelationID  = "X-Correlation-ID"
)

// HTTPReplayer replays offline actions over HTTP with bearer authentication.
// A 401 triggers one token refresh followed by a single retry.
type HTTPReplayer struct {
	client  *resty.Client
	baseURL *url.URL
	tokens  TokenProvider
	limiter ratelimit.RateLimiter
	logger  *zap.Logger
}

func NewHTTPReplayer(baseURL string, tokens TokenProvider, limiter ratelimit.RateLimiter, timeout time.Duration, logger *zap.Logger) (*HTTPReplayer, error) {
	if timeout <= 0 {
		timeout = defaultReplayTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)

	return NewHTTPReplayerWithClient(baseURL, client, tokens, limiter, logger)
}

func NewHTTPReplayerWithClient(baseURL string, client *resty.Client, tokens TokenProvider, limiter ratelimit.RateLimiter, logger *zap.Logger) (*HTTPReplayer, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	base, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	// Relative references resolve inside the base path only with a trailing slash.
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultReplayTimeout)
	}
	client.SetRetryCount(0)

	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}

	return &HTTPReplayer{
		client:  client,
		baseURL: base,
		tokens:  tokens,
		limiter: limiter,
		logger:  observability.Component(logger, "replayer"),
	}, nil
}

func (p *HTTPReplayer) Replay(ctx context.Context, action domain.OfflineAction) (*ReplayResponse, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("replayer is not initialized")
	}

	target := p.ResolveURL(action.URL)
	if err := p.limiter.Wait(ctx, hostOf(target)); err != nil {
		return nil, transportError("rate limiter wait failed", err)
	}

	token := p.accessToken()
	response, err := p.do(ctx, action, target, token)
	if err != nil {
		return nil, err
	}

	if response.StatusCode() == http.StatusUnauthorized && p.tokens != nil {
		refreshed, refreshErr := p.tokens.Refresh(ctx, token)
		if refreshErr != nil {
			if errors.Is(refreshErr, domain.ErrSessionExpired) {
				return nil, &ReplayError{
					StatusCode: http.StatusUnauthorized,
					Message:    "token refresh rejected",
					Transient:  false,
					Cause:      refreshErr,
				}
			}
			return nil, refreshErr
		}

		p.logger.Debug("retrying replay with refreshed token", zap.String("actionId", action.ID))
		response, err = p.do(ctx, action, target, refreshed)
		if err != nil {
			return nil, err
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &ReplayResponse{
			StatusCode: statusCode,
			Body:       body,
			RequestID:  requestID(response),
		}, nil
	}

	return nil, &ReplayError{
		StatusCode: statusCode,
		Message:    statusErrorMessage(statusCode, body),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

// ResolveURL resolves an action URL against the API base as a browser would:
// "/api/v1/x/" keeps only the base origin, "x/" is appended to the base path
// and absolute URLs are kept.
func (p *HTTPReplayer) ResolveURL(raw string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	return p.baseURL.ResolveReference(ref).String()
}

func (p *HTTPReplayer) do(ctx context.Context, action domain.OfflineAction, target string, token string) (*resty.Response, error) {
	req := p.client.R().SetContext(ctx)

	for name, value := range action.Headers {
		req.SetHeader(name, value)
	}
	if action.ID != "" {
		req.SetHeader(HeaderIdempotencyKey, action.ID)
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		req.SetHeader(HeaderCorrelationID, correlationID)
	}
	if token != "" {
		req.SetAuthToken(token)
	}
	if action.Body != "" {
		if _, ok := headerValue(action.Headers, "Content-Type"); !ok {
			req.SetHeader("Content-Type", "application/json")
		}
		req.SetBody(action.Body)
	}

	method := strings.ToUpper(strings.TrimSpace(action.Method))
	response, err := req.Execute(method, target)
	if err != nil {
		return nil, transportError("replay request failed", err)
	}
	if response == nil {
		return nil, &ReplayError{
			Message:   "backend returned empty response",
			Transient: true,
		}
	}
	return response, nil
}

func (p *HTTPReplayer) accessToken() string {
	if p.tokens == nil {
		return ""
	}
	return p.tokens.AccessToken()
}

func headerValue(headers map[string]string, name string) (string, bool) {
	for key, value := range headers {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

func hostOf(target string) string {
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return "default"
	}
	return parsed.Host
}

func requestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", HeaderCorrelationID} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
