package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/kursadbilgin/notify-sync/internal/domain"
	"github.com/kursadbilgin/notify-sync/internal/repository"
)

func TestSnapshotStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewSnapshotStore(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewSnapshotStore() error = %v", err)
	}
	ctx := context.Background()
	key := repository.Key("notify-sync", repository.NotificationsKey)

	if _, err := store.Get(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrNotFound", err)
	}

	if err := store.Set(ctx, key, []byte(`[{"id":"n-1"}]`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `[{"id":"n-1"}]` {
		t.Fatalf("Get() = %s, want stored document", got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSnapshotStoreWithLoadSave(t *testing.T) {
	t.Parallel()

	store, err := NewSnapshotStore(newTestRedisClient(t))
	if err != nil {
		t.Fatalf("NewSnapshotStore() error = %v", err)
	}
	ctx := context.Background()

	actions := []domain.OfflineAction{{ID: "a-1", Type: "customer.create", Method: "POST", URL: "/api/v1/customers/"}}
	repository.Save(ctx, store, repository.OfflineActionsKey, actions, nil)

	got := repository.Load(ctx, store, repository.OfflineActionsKey, []domain.OfflineAction{}, nil)
	if len(got) != 1 || got[0].ID != "a-1" {
		t.Fatalf("Load() = %+v, want the saved action", got)
	}
}

func TestNewSnapshotStoreRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewSnapshotStore(nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestNewRedis(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := NewRedis(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedis() error = %v", err)
	}
	_ = client.Close()

	if _, err := NewRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for invalid url")
	}
}
