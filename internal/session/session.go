// Package session holds the identity of the person using a client. It is
// passed explicitly to whatever needs it and persisted through a local cache
// so that a restart restores the login.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zhouzirui/finpulse/backend/internal/cache"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

// CacheKey is the cache entry holding the current user.
const CacheKey = "currentUser"

var ErrNotLoggedIn = errors.New("not logged in")

// Cache is the local key/value contract the session persists through.
type Cache interface {
	GetJSON(ctx context.Context, key string, v any) error
	SetJSON(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

type snapshot struct {
	User  user.User `json:"user"`
	Token string    `json:"token"`
}

// Context is the current login. The zero value is not usable; use New.
type Context struct {
	cache Cache

	mu    sync.RWMutex
	user  *user.User
	token string
}

// New creates a logged out session.
func New(c Cache) *Context {
	return &Context{cache: c}
}

// Login records u and token as the current identity.
func (s *Context) Login(ctx context.Context, u user.User, token string) error {
	u.Password = ""
	if err := s.cache.SetJSON(ctx, CacheKey, snapshot{User: u, Token: token}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.mu.Lock()
	s.user = u.Clone()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Restore loads a previous login. It returns ErrNotLoggedIn when none exists.
func (s *Context) Restore(ctx context.Context) error {
	var snap snapshot
	err := s.cache.GetJSON(ctx, CacheKey, &snap)
	if errors.Is(err, cache.ErrMiss) {
		return ErrNotLoggedIn
	}
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if snap.User.Key() == "" {
		return ErrNotLoggedIn
	}
	s.mu.Lock()
	s.user = snap.User.Clone()
	s.token = snap.Token
	s.mu.Unlock()
	return nil
}

// Logout clears the identity in memory and in the cache.
func (s *Context) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.mu.Unlock()
	if err := s.cache.Delete(ctx, CacheKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// User returns a copy of the current user.
func (s *Context) User() (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, ErrNotLoggedIn
	}
	return s.user.Clone(), nil
}

// Key returns the current user's key, or "" when logged out.
func (s *Context) Key() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return ""
	}
	return s.user.Key()
}

// Token returns the bearer token of the current login.
func (s *Context) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Role reports whether the current user is a customer or an agent.
func (s *Context) Role() chat.Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user != nil && s.user.Type == user.TypeAgent {
		return chat.SenderAgent
	}
	return chat.SenderUser
}

// MirrorMessages stores the latest known conversation with the cached user
// so that an offline start can still show it.
func (s *Context) MirrorMessages(ctx context.Context, msgs []chat.Message) error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	s.user.Messages = chat.Persistable(msgs)
	snap := snapshot{User: *s.user.Clone(), Token: s.token}
	s.mu.Unlock()
	return s.cache.SetJSON(ctx, CacheKey, snap)
}
