package session_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/zhouzirui/finpulse/backend/internal/cache"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/session"
)

func openCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("cache.Open err: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLoginRestoreLogout(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	s := session.New(c)
	if _, err := s.User(); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}

	u := user.User{Email: "A@b.com", Name: "Ann", Type: user.TypeAgent, Password: "secret-hash"}
	if err := s.Login(ctx, u, "tok"); err != nil {
		t.Fatalf("Login err: %v", err)
	}

	restored := session.New(c)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore err: %v", err)
	}
	if restored.Key() != "a@b.com" || restored.Token() != "tok" || restored.Role() != chat.SenderAgent {
		t.Fatalf("unexpected restored session key=%q token=%q role=%q", restored.Key(), restored.Token(), restored.Role())
	}
	got, _ := restored.User()
	if got.Password != "" {
		t.Fatal("password hash leaked into the cache")
	}

	if err := restored.Logout(ctx); err != nil {
		t.Fatalf("Logout err: %v", err)
	}
	if err := session.New(c).Restore(ctx); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn after logout, got %v", err)
	}
}

func TestMirrorMessagesDropsTyping(t *testing.T) {
	c := openCache(t)
	ctx := context.Background()

	s := session.New(c)
	if err := s.MirrorMessages(ctx, nil); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
	if err := s.Login(ctx, user.User{Email: "a@b.com"}, ""); err != nil {
		t.Fatalf("Login err: %v", err)
	}
	msgs := []chat.Message{
		{ID: "1", Sender: chat.SenderUser, Text: "hi"},
		{ID: "typing-2", Sender: chat.SenderTyping},
	}
	if err := s.MirrorMessages(ctx, msgs); err != nil {
		t.Fatalf("MirrorMessages err: %v", err)
	}

	restored := session.New(c)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore err: %v", err)
	}
	u, _ := restored.User()
	if len(u.Messages) != 1 || u.Messages[0].ID != "1" {
		t.Fatalf("unexpected mirrored messages %+v", u.Messages)
	}
}
