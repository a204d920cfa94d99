package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ReplayError classifies failed backend calls as transient/permanent.
type ReplayError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *ReplayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "replay error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ReplayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failed call may succeed if retried later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var replayErr *ReplayError
	if errors.As(err, &replayErr) {
		return replayErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var replayErr *ReplayError
	if errors.As(err, &replayErr) {
		return replayErr.StatusCode
	}
	return 0
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func statusErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("backend returned status %d", statusCode)
	body = strings.TrimSpace(body)
	if body == "" {
		return base
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func transportError(message string, err error) *ReplayError {
	return &ReplayError{
		Message:   message,
		Transient: !errors.Is(err, context.Canceled),
		Cause:     err,
	}
}
