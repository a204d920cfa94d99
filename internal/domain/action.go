package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// OfflineAction is a captured mutation request waiting to be replayed.
type OfflineAction struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Age reports how long the action has been queued at now.
func (a OfflineAction) Age(now time.Time) time.Duration {
	return now.Sub(a.Timestamp)
}

// ActionRequest is the caller-supplied request descriptor for Enqueue.
type ActionRequest struct {
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (r *ActionRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrValidation)
	}
	if !isReplayableMethod(r.Method) {
		return fmt.Errorf("%w: invalid method %q", ErrValidation, r.Method)
	}

	rawURL := strings.TrimSpace(r.URL)
	if rawURL == "" {
		return fmt.Errorf("%w: url is required", ErrValidation)
	}
	if strings.HasPrefix(rawURL, "/") {
		return nil
	}
	parsed, err := url.ParseRequestURI(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: url must be absolute or start with /", ErrValidation)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported url scheme %q", ErrValidation, parsed.Scheme)
	}
	return nil
}

func isReplayableMethod(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
