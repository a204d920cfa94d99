package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addReplayAttemptsCorrelationIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_replay_attempts_correlation_index",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_replay_attempts_correlation_id ON replay_attempts (correlation_id)`,
				`CREATE INDEX IF NOT EXISTS idx_replay_attempts_failed ON replay_attempts (created_at) WHERE succeeded = false`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_replay_attempts_failed`,
				`DROP INDEX IF EXISTS idx_replay_attempts_correlation_id`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
