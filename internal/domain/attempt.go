package domain

import "time"

// ReplayAttempt records a single replay of an offline action.
type ReplayAttempt struct {
	ID            string
	ActionID      string
	ActionType    string
	CorrelationID string
	Method        string
	URL           string
	StatusCode    *int
	Error         *string
	Succeeded     bool
	DurationMs    int64
	CreatedAt     time.Time
}
