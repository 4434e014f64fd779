package user_test

import (
	"context"
	"errors"
	"testing"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

func newStore() *user.MemoryStore {
	return user.NewMemoryStore([]user.User{{Email: "A@B.com", Name: "Ann Bell"}})
}

func TestFetchIsCaseInsensitive(t *testing.T) {
	s := newStore()
	u, err := s.FetchUserByKey(context.Background(), "a@b.COM")
	if err != nil {
		t.Fatalf("FetchUserByKey err: %v", err)
	}
	if u.Avatar != "AB" {
		t.Fatalf("expected derived avatar AB, got %q", u.Avatar)
	}
	if len(u.Categories) != 5 {
		t.Fatalf("expected default categories, got %d", len(u.Categories))
	}
}

func TestFetchMissing(t *testing.T) {
	s := newStore()
	if _, err := s.FetchUserByKey(context.Background(), "nobody@b.com"); !errors.Is(err, user.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendAssignsFreeID(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	first, err := s.AppendUserMessage(ctx, "a@b.com", chat.Message{ID: "5", Sender: chat.SenderUser, Text: "one"})
	if err != nil {
		t.Fatalf("append err: %v", err)
	}
	second, err := s.AppendUserMessage(ctx, "a@b.com", chat.Message{ID: "5", Sender: chat.SenderAgent, Text: "two"})
	if err != nil {
		t.Fatalf("append err: %v", err)
	}
	if len(second.Messages) != 2 || second.Messages[1].ID != "6" {
		t.Fatalf("expected colliding id to be replaced, got %+v", second.Messages)
	}
	if second.Revision != first.Revision+1 {
		t.Fatalf("revision did not advance: %d -> %d", first.Revision, second.Revision)
	}
}

func TestAppendRejectsTyping(t *testing.T) {
	s := newStore()
	_, err := s.AppendUserMessage(context.Background(), "a@b.com", chat.Message{ID: "typing-1", Sender: chat.SenderTyping})
	if !errors.Is(err, user.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestWriteUserMessagesRevisionCheck(t *testing.T) {
	s := newStore()
	ctx := context.Background()
	u, _ := s.FetchUserByKey(ctx, "a@b.com")

	msgs := []chat.Message{{ID: "1", Sender: chat.SenderUser, Text: "hi"}}
	if _, err := s.WriteUserMessages(ctx, "a@b.com", msgs, u.Revision); err != nil {
		t.Fatalf("first write err: %v", err)
	}
	if _, err := s.WriteUserMessages(ctx, "a@b.com", nil, u.Revision); !errors.Is(err, user.ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict, got %v", err)
	}
	if _, err := s.WriteUserMessages(ctx, "a@b.com", nil, user.AnyRevision); err != nil {
		t.Fatalf("unconditional write err: %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newStore()
	err := s.Create(context.Background(), &user.User{Email: "a@b.com"})
	if !errors.Is(err, user.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestUpdateAndDelete(t *testing.T) {
	s := newStore()
	ctx := context.Background()

	u, err := s.Update(ctx, "a@b.com", func(u *user.User) error {
		u.Name = "Ann B."
		return nil
	})
	if err != nil {
		t.Fatalf("update err: %v", err)
	}
	if u.Name != "Ann B." || u.Revision != 0 {
		t.Fatalf("unexpected record after update: %+v", u)
	}

	if err := s.Delete(ctx, "A@b.com"); err != nil {
		t.Fatalf("delete err: %v", err)
	}
	list, _ := s.List(ctx)
	if len(list) != 0 {
		t.Fatalf("expected empty store, got %d", len(list))
	}
}
