package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adeilh/rakh-auth/cache"
)

func TestStoreSetGetDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get() = %q, want %q", got, "v")
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("Delete() of missing key = %v, want ErrNotFound", err)
	}
}

func TestStoreTTLAndSweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := New()
	store.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, "short", []byte("1"), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "forever", []byte("2"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}

	now = now.Add(time.Second)
	if _, err := store.Get(ctx, "short"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected expired key to be missing, got %v", err)
	}
	if n := store.Sweep(); n != 1 {
		t.Fatalf("Sweep() = %d, want 1", n)
	}
	if store.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", store.Len())
	}
}

func TestStoreHonoursContext(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Set(ctx, "k", nil, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("Set() error = %v, want context.Canceled", err)
	}
}
