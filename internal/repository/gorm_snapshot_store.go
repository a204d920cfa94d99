package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ SnapshotStore = (*GormSnapshotStore)(nil)

// GormSnapshotStore keeps snapshots in the snapshots table, one row per key.
type GormSnapshotStore struct {
	db *gorm.DB
}

func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

func (s *GormSnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	var model SnapshotModel
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: snapshot %q", domain.ErrNotFound, key)
		}
		return nil, err
	}
	return model.Value, nil
}

func (s *GormSnapshotStore) Set(ctx context.Context, key string, value []byte) error {
	model := SnapshotModel{Key: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
}

func (s *GormSnapshotStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&SnapshotModel{}).Error
}
