package cache_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/finpulse/backend/internal/cache"
)

func openCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetSetDelete(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	if _, err := c.Get(ctx, "currentUser"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	if err := c.Set(ctx, "currentUser", []byte("one")); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	if err := c.Set(ctx, "currentUser", []byte("two")); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	got, err := c.Get(ctx, "currentUser")
	if err != nil || string(got) != "two" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := c.Delete(ctx, "currentUser"); err != nil {
		t.Fatalf("Delete err: %v", err)
	}
	if err := c.Delete(ctx, "currentUser"); err != nil {
		t.Fatalf("second Delete err: %v", err)
	}
	if _, err := c.Get(ctx, "currentUser"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected ErrMiss after delete, got %v", err)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	type entry struct {
		Email string `json:"email"`
	}
	if err := c.SetJSON(ctx, "k", entry{Email: "a@b.com"}); err != nil {
		t.Fatalf("SetJSON err: %v", err)
	}
	var got entry
	if err := c.GetJSON(ctx, "k", &got); err != nil || got.Email != "a@b.com" {
		t.Fatalf("GetJSON = %+v, %v", got, err)
	}
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := cache.Open(path)
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if err := c.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set err: %v", err)
	}
	c.Close()

	reopened, err := cache.Open(path)
	if err != nil {
		t.Fatalf("reopen err: %v", err)
	}
	defer reopened.Close()
	if got, err := reopened.Get(ctx, "k"); err != nil || string(got) != "v" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}
