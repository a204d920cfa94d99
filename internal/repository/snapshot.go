package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"go.uber.org/zap"
)

// Durable snapshot keys.
const (
	NotificationsKey  = "notifications"
	OfflineActionsKey = "offline_actions"
	AuthTokensKey     = "auth_tokens"
)

// SnapshotStore is a durable key/value store holding whole JSON documents.
// Get returns domain.ErrNotFound when the key is absent.
type SnapshotStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Key joins a namespace and a snapshot name.
func Key(namespace string, name string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return name
	}
	return namespace + ":" + name
}

// Load reads and decodes the value stored under key. It never fails: an absent
// key, a store error or an undecodable document all yield def.
func Load[T any](ctx context.Context, store SnapshotStore, key string, def T, logger *zap.Logger) T {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		return def
	}

	raw, err := store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("failed to read snapshot", zap.String("key", key), zap.Error(err))
		}
		return def
	}

	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		logger.Warn("discarding corrupt snapshot", zap.String("key", key), zap.Error(err))
		return def
	}
	return value
}

// Save encodes value and overwrites key. Failures are logged and swallowed;
// the in-memory state stays authoritative.
func Save(ctx context.Context, store SnapshotStore, key string, value any, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		logger.Error("failed to encode snapshot", zap.String("key", key), zap.Error(err))
		return
	}
	if err := store.Set(ctx, key, raw); err != nil {
		logger.Error("failed to write snapshot", zap.String("key", key), zap.Error(err))
	}
}
