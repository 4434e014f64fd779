// Package account manages customer records: registration, login, profile
// edits, the transaction ledger and the finance figures derived from it.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid password")
	ErrKeyMismatch        = errors.New("imported data belongs to another user")
)

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
}

// ProfilePatch lists the profile fields a user may change. Nil fields are
// left alone.
type ProfilePatch struct {
	Name     *string `json:"name,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
	Status   *string `json:"status,omitempty"`
	Password *string `json:"password,omitempty"`
}

// Session is the result of a successful login.
type Session struct {
	User  *user.User `json:"user"`
	Token string     `json:"token,omitempty"`
}

// StoreStatus describes the backing store.
type StoreStatus struct {
	Kind      string `json:"kind"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type pinger interface {
	Ping(ctx context.Context) error
	Kind() string
}

// Service implements account operations on a user.Store.
type Service struct {
	store  user.Store
	tokens *Tokens
	logger *slog.Logger
	now    func() time.Time
	// onMessages is told about writes that changed a message list.
	onMessages func(*user.User)
}

// NewService creates an account service. tokens may be nil, in which case
// Login returns no token.
func NewService(store user.Store, tokens *Tokens, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		tokens: tokens,
		logger: logger.With("component", "account"),
		now:    time.Now,
	}
}

// OnMessagesChanged registers fn to run after an account write changed the
// stored message list, such as an import.
func (s *Service) OnMessagesChanged(fn func(*user.User)) { s.onMessages = fn }

// Tokens returns the token issuer the service signs logins with.
func (s *Service) Tokens() *Tokens { return s.tokens }

// Register creates a customer account with a hashed password and a greeting
// from the support desk.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*user.User, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: a valid email is required", ErrInvalidInput)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	u := &user.User{
		Email:    email,
		Password: string(hash),
		Name:     strings.TrimSpace(in.Name),
		Avatar:   in.Avatar,
		Type:     user.TypeUser,
		Messages: []chat.Message{
			chat.New("1", chat.SenderAgent, agent.DefaultAgentName, user.WelcomeText, now),
		},
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info("account registered", "key", u.Key())
	return u, nil
}

// Login checks the password and signs a token when a secret is configured.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.store.FetchUserByKey(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		s.logger.Warn("login rejected", "key", u.Key())
		return nil, ErrInvalidCredentials
	}

	out := &Session{User: u}
	if s.tokens.Enabled() {
		token, err := s.tokens.Issue(u)
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		out.Token = token
	}
	s.logger.Info("login", "key", u.Key(), "role", u.Type)
	return out, nil
}

// Get returns the record stored under key.
func (s *Service) Get(ctx context.Context, key string) (*user.User, error) {
	return s.store.FetchUserByKey(ctx, key)
}

// List returns every account.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.List(ctx)
}

// UpdateProfile applies patch to the account.
func (s *Service) UpdateProfile(ctx context.Context, key string, patch ProfilePatch) (*user.User, error) {
	var hash []byte
	if patch.Password != nil {
		if *patch.Password == "" {
			return nil, fmt.Errorf("%w: password cannot be empty", ErrInvalidInput)
		}
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(*patch.Password), bcrypt.DefaultCost); err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
	}
	return s.store.Update(ctx, key, func(u *user.User) error {
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
			}
			u.Name = name
		}
		if patch.Avatar != nil {
			u.Avatar = *patch.Avatar
		}
		if patch.Status != nil {
			u.Status = *patch.Status
		}
		if hash != nil {
			u.Password = string(hash)
		}
		return nil
	})
}

// Delete removes the account.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	s.logger.Info("account deleted", "key", user.NormalizeKey(key))
	return nil
}

// Status reports which store backs the service and whether it answers.
func (s *Service) Status(ctx context.Context) StoreStatus {
	p, ok := s.store.(pinger)
	if !ok {
		return StoreStatus{Kind: "unknown", Connected: true}
	}
	status := StoreStatus{Kind: p.Kind()}
	if err := p.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true
	return status
}
