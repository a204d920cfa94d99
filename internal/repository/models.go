package repository

import (
	"time"

	"github.com/kursadbilgin/notify-sync/internal/domain"
)

// SnapshotModel is the persistence model for the snapshots table.
type SnapshotModel struct {
	Key       string `gorm:"type:varchar(255);primaryKey"`
	Value     []byte `gorm:"type:bytea;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SnapshotModel) TableName() string {
	return "snapshots"
}

// ReplayAttemptModel is the persistence model for replay_attempts.
type ReplayAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	ActionID      string  `gorm:"type:uuid;not null"`
	ActionType    string  `gorm:"type:varchar(100);not null"`
	CorrelationID string  `gorm:"type:varchar(36);not null"`
	Method        string  `gorm:"type:varchar(10);not null"`
	URL           string  `gorm:"type:text;not null"`
	StatusCode    *int    `gorm:"type:int"`
	Error         *string `gorm:"type:text"`
	Succeeded     bool    `gorm:"not null;default:false"`
	DurationMs    int64   `gorm:"not null;default:0"`
	CreatedAt     time.Time
}

func (ReplayAttemptModel) TableName() string {
	return "replay_attempts"
}

func attemptModelFromDomain(a *domain.ReplayAttempt) *ReplayAttemptModel {
	if a == nil {
		return nil
	}

	return &ReplayAttemptModel{
		ID:            a.ID,
		ActionID:      a.ActionID,
		ActionType:    a.ActionType,
		CorrelationID: a.CorrelationID,
		Method:        a.Method,
		URL:           a.URL,
		StatusCode:    a.StatusCode,
		Error:         a.Error,
		Succeeded:     a.Succeeded,
		DurationMs:    a.DurationMs,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *ReplayAttemptModel) *domain.ReplayAttempt {
	if m == nil {
		return nil
	}

	return &domain.ReplayAttempt{
		ID:            m.ID,
		ActionID:      m.ActionID,
		ActionType:    m.ActionType,
		CorrelationID: m.CorrelationID,
		Method:        m.Method,
		URL:           m.URL,
		StatusCode:    m.StatusCode,
		Error:         m.Error,
		Succeeded:     m.Succeeded,
		DurationMs:    m.DurationMs,
		CreatedAt:     m.CreatedAt,
	}
}
