package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/repository"
	goredis "github.com/redis/go-redis/v9"
)

var _ repository.SnapshotStore = (*SnapshotStore)(nil)

// SnapshotStore keeps each snapshot as a plain redis string without expiry.
type SnapshotStore struct {
	client *goredis.Client
}

func NewSnapshotStore(client *goredis.Client) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &SnapshotStore{client: client}, nil
}

func (s *SnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: snapshot %q", domain.ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read snapshot %q: %w", key, err)
	}
	return value, nil
}

func (s *SnapshotStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot %q: %w", key, err)
	}
	return nil
}

func (s *SnapshotStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot %q: %w", key, err)
	}
	return nil
}
