package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/notify-sync/internal/repository"
	"gorm.io/gorm"
)

func createReplayAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_replay_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ReplayAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_replay_attempts_action_id ON replay_attempts (action_id, created_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ReplayAttemptModel{})
		},
	}
}
