package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/notify-sync/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSnapshotStore struct {
	getFn    func(ctx context.Context, key string) ([]byte, error)
	setFn    func(ctx context.Context, key string, value []byte) error
	deleteFn func(ctx context.Context, key string) error
}

func (f *fakeSnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.getFn != nil {
		return f.getFn(ctx, key)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSnapshotStore) Set(ctx context.Context, key string, value []byte) error {
	if f.setFn != nil {
		return f.setFn(ctx, key, value)
	}
	return nil
}

func (f *fakeSnapshotStore) Delete(ctx context.Context, key string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, key)
	}
	return nil
}

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestKey(t *testing.T) {
	t.Parallel()

	if got := Key("notify-sync", NotificationsKey); got != "notify-sync:notifications" {
		t.Fatalf("Key() = %q, want %q", got, "notify-sync:notifications")
	}
	if got := Key(" ", OfflineActionsKey); got != "offline_actions" {
		t.Fatalf("Key() = %q, want %q", got, "offline_actions")
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	Save(ctx, store, "k", []sample{{Name: "a", Count: 1}, {Name: "b", Count: 2}}, nil)

	got := Load(ctx, store, "k", []sample{}, nil)
	if len(got) != 2 || got[0].Name != "a" || got[1].Count != 2 {
		t.Fatalf("Load() = %+v, want the saved slice", got)
	}
}

func TestLoadAbsentKeyReturnsDefault(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	got := Load(context.Background(), NewMemoryStore(), "missing", []sample{}, zap.New(core))

	if got == nil || len(got) != 0 {
		t.Fatalf("Load() = %+v, want empty default", got)
	}
	if recorded.Len() != 0 {
		t.Fatalf("absent key should not be logged, got %d entries", recorded.Len())
	}
}

func TestLoadCorruptSnapshotReturnsDefault(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_ = store.Set(context.Background(), "k", []byte("{not json"))

	core, recorded := observer.New(zapcore.WarnLevel)
	got := Load(context.Background(), store, "k", []sample{}, zap.New(core))

	if len(got) != 0 {
		t.Fatalf("Load() = %+v, want empty default", got)
	}
	if recorded.FilterMessage("discarding corrupt snapshot").Len() != 1 {
		t.Fatal("expected corrupt snapshot to be logged")
	}
}

func TestLoadStoreErrorReturnsDefault(t *testing.T) {
	t.Parallel()

	store := &fakeSnapshotStore{
		getFn: func(ctx context.Context, key string) ([]byte, error) {
			return nil, errors.New("connection refused")
		},
	}

	got := Load(context.Background(), store, "k", sample{Name: "default"}, nil)
	if got.Name != "default" {
		t.Fatalf("Load() = %+v, want default", got)
	}
}

func TestSaveSwallowsStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeSnapshotStore{
		setFn: func(ctx context.Context, key string, value []byte) error {
			return errors.New("quota exceeded")
		},
	}

	core, recorded := observer.New(zapcore.ErrorLevel)
	Save(context.Background(), store, "k", sample{Name: "x"}, zap.New(core))

	if recorded.FilterMessage("failed to write snapshot").Len() != 1 {
		t.Fatal("expected write failure to be logged")
	}
}

func TestSaveOverwrites(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	Save(ctx, store, "k", sample{Name: "first"}, nil)
	Save(ctx, store, "k", sample{Name: "second"}, nil)

	if got := Load(ctx, store, "k", sample{}, nil); got.Name != "second" {
		t.Fatalf("Load() = %+v, want second write", got)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Set(ctx, "k", []byte(`"v"`))

	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	value := []byte(`"abc"`)
	_ = store.Set(ctx, "k", value)
	value[1] = 'z'

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `"abc"` {
		t.Fatalf("Get() = %s, want %s", got, `"abc"`)
	}
}
