package kvstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemStore_SetAndGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "v1" {
		t.Errorf("Get = %q, want %q", got, "v1")
	}
}

func TestMemStore_GetNotFound(t *testing.T) {
	s := NewMemStore()

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestMemStore_NotifiesInline(t *testing.T) {
	s := NewMemStore()

	var keys []string
	cancel := s.OnChange(func(key string) {
		keys = append(keys, key)
	})
	defer cancel()

	s.Set(context.Background(), "a", "1")
	s.Set(context.Background(), "b", "2")

	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("unexpected notifications: %v", keys)
	}
}

func TestMemStore_HandlerCanGet(t *testing.T) {
	s := NewMemStore()

	var got string
	s.OnChange(func(key string) {
		got, _ = s.Get(context.Background(), key)
	})

	s.Set(context.Background(), "k", "current")
	if got != "current" {
		t.Errorf("handler read %q, want %q", got, "current")
	}
}

func TestMemStore_CancelStopsNotifications(t *testing.T) {
	s := NewMemStore()

	var count int
	cancel := s.OnChange(func(key string) { count++ })

	s.Set(context.Background(), "k", "1")
	cancel()
	cancel() // safe to call twice
	s.Set(context.Background(), "k", "2")

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestManualMemStore_FlushCoalescesPerKey(t *testing.T) {
	s := NewManualMemStore()
	ctx := context.Background()

	var keys []string
	s.OnChange(func(key string) {
		keys = append(keys, key)
	})

	s.Set(ctx, "x", "1")
	s.Set(ctx, "x", "2")
	s.Set(ctx, "y", "1")

	if len(keys) != 0 {
		t.Fatalf("expected no notifications before Flush, got %v", keys)
	}

	s.Flush()

	if len(keys) != 2 || keys[0] != "x" || keys[1] != "y" {
		t.Errorf("unexpected notifications: %v", keys)
	}

	// The queued notification reads back the latest value.
	if got, _ := s.Get(ctx, "x"); got != "2" {
		t.Errorf("Get(x) = %q, want %q", got, "2")
	}
}

func TestMemStore_Failing(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	s.SetFailing(true)

	if err := s.Set(ctx, "k", "v"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Set: expected ErrUnavailable, got %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get: expected ErrUnavailable, got %v", err)
	}

	s.SetFailing(false)
	if err := s.Set(ctx, "k", "v"); err != nil {
		t.Errorf("Set after recovery failed: %v", err)
	}
}
