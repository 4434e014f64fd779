package user

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

var (
	ErrNotFound         = errors.New("user not found")
	ErrDuplicateKey     = errors.New("user already exists")
	ErrRevisionConflict = errors.New("revision conflict")
	ErrInvalid          = errors.New("invalid user data")
)

// AnyRevision disables the revision check of WriteUserMessages.
const AnyRevision int64 = -1

// Store is the remote user store the chat and account services run against.
type Store interface {
	// FetchUserByKey returns the full record or ErrNotFound.
	FetchUserByKey(ctx context.Context, key string) (*User, error)
	// WriteUserMessages replaces the message list wholesale. When ifRevision
	// is not AnyRevision the write only succeeds if the stored revision still
	// matches, otherwise ErrRevisionConflict.
	WriteUserMessages(ctx context.Context, key string, msgs []chat.Message, ifRevision int64) (*User, error)
	// AppendUserMessage atomically appends one message. An empty or colliding
	// id is replaced with the next numeric id.
	AppendUserMessage(ctx context.Context, key string, msg chat.Message) (*User, error)
	List(ctx context.Context) ([]User, error)
	Create(ctx context.Context, u *User) error
	// Update applies fn to the current record and stores the result.
	Update(ctx context.Context, key string, fn func(*User) error) (*User, error)
	Delete(ctx context.Context, key string) error
}

// ValidateMessages rejects lists a store must never hold.
func ValidateMessages(msgs []chat.Message) error {
	seen := make(map[chat.MessageID]struct{}, len(msgs))
	for _, m := range msgs {
		if m.Sender == chat.SenderTyping {
			return fmt.Errorf("%w: typing placeholder %s", ErrInvalid, m.ID)
		}
		if !m.Sender.Valid() {
			return fmt.Errorf("%w: unknown sender %q", ErrInvalid, m.Sender)
		}
		if m.ID == "" {
			return fmt.Errorf("%w: message without id", ErrInvalid)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: duplicate message id %s", ErrInvalid, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}

// PrepareAppend validates msg and gives it a free id when needed.
func PrepareAppend(existing []chat.Message, msg chat.Message) (chat.Message, error) {
	if msg.Sender == chat.SenderTyping || !msg.Sender.Valid() {
		return chat.Message{}, fmt.Errorf("%w: cannot store sender %q", ErrInvalid, msg.Sender)
	}
	if msg.ID == "" || chat.IndexOf(existing, msg.ID) >= 0 {
		msg.ID = chat.NextID(existing)
	}
	return msg, nil
}

// MemoryStore implements Store in process memory. It backs tests and runs the
// server when no database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
	order []string
	now   func() time.Time
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied users.
func NewMemoryStore(items []User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]*User), now: time.Now}
	for i := range items {
		u := items[i].Clone()
		u.ApplyDefaults()
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if _, exists := s.users[u.Key()]; exists {
			continue
		}
		s.users[u.Key()] = u
		s.order = append(s.order, u.Key())
	}
	return s
}

func (s *MemoryStore) FetchUserByKey(_ context.Context, key string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[NormalizeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemoryStore) WriteUserMessages(_ context.Context, key string, msgs []chat.Message, ifRevision int64) (*User, error) {
	if err := ValidateMessages(msgs); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[NormalizeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	if ifRevision != AnyRevision && ifRevision != u.Revision {
		return nil, ErrRevisionConflict
	}
	u.Messages = append([]chat.Message{}, msgs...)
	s.touch(u)
	return u.Clone(), nil
}

func (s *MemoryStore) AppendUserMessage(_ context.Context, key string, msg chat.Message) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[NormalizeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	msg, err := PrepareAppend(u.Messages, msg)
	if err != nil {
		return nil, err
	}
	u.Messages = append(u.Messages, msg)
	s.touch(u)
	return u.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, *s.users[key].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	if NormalizeKey(u.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.Key()]; exists {
		return ErrDuplicateKey
	}
	stored := u.Clone()
	stored.ApplyDefaults()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now
	s.users[stored.Key()] = stored
	s.order = append(s.order, stored.Key())
	*u = *stored.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, key string, fn func(*User) error) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[NormalizeKey(key)]
	if !ok {
		return nil, ErrNotFound
	}
	draft := u.Clone()
	if err := fn(draft); err != nil {
		return nil, err
	}
	if draft.Key() != u.Key() {
		return nil, fmt.Errorf("%w: email cannot change", ErrInvalid)
	}
	if err := ValidateMessages(draft.Messages); err != nil {
		return nil, err
	}
	if !chat.Equal(draft.Messages, u.Messages) {
		draft.Revision = u.Revision + 1
	} else {
		draft.Revision = u.Revision
	}
	draft.UpdatedAt = s.now().UTC()
	s.users[u.Key()] = draft
	return draft.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := NormalizeKey(key)
	if _, ok := s.users[k]; !ok {
		return ErrNotFound
	}
	delete(s.users, k)
	for i, v := range s.order {
		if v == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Kind names the backend.
func (s *MemoryStore) Kind() string { return "memory" }

func (s *MemoryStore) touch(u *User) {
	u.Revision++
	u.UpdatedAt = s.now().UTC()
}
