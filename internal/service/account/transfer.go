package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

var whitespace = regexp.MustCompile(`\s+`)

// importDoc holds the fields an import may overwrite. Pointers and nil
// slices mark fields absent from the document.
type importDoc struct {
	Email            string                 `json:"email"`
	Name             *string                `json:"name"`
	Avatar           *string                `json:"avatar"`
	TotalBalance     *float64               `json:"totalBalance"`
	SpendingByPeriod *user.SpendingByPeriod `json:"spendingByPeriod"`
	Categories       []user.Category        `json:"categories"`
	Transactions     []user.Transaction     `json:"transactions"`
	Messages         []chat.Message         `json:"messages"`
}

// Export returns the account as indented JSON without the password.
func (s *Service) Export(ctx context.Context, key string) ([]byte, error) {
	u, err := s.store.FetchUserByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	raw, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	return raw, nil
}

// ExportFileName is the download name for an export of the named user.
func ExportFileName(name string) string {
	return whitespace.ReplaceAllString(strings.TrimSpace(name), "_") + "_finance_data.json"
}

// Import overwrites profile, finance data and messages from an export of the
// same account. Other fields in the document are ignored. When author is
// chat.SenderUser the imported messages may not add or rewrite agent
// messages.
func (s *Service) Import(ctx context.Context, key string, raw []byte, author chat.Sender) (*user.User, error) {
	var doc importDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON data", ErrInvalidInput)
	}
	if doc.Email == "" || user.NormalizeKey(doc.Email) != user.NormalizeKey(key) {
		return nil, ErrKeyMismatch
	}

	var before int64
	u, err := s.store.Update(ctx, key, func(u *user.User) error {
		before = u.Revision
		if doc.Messages != nil && author != chat.SenderAgent {
			if err := chat.CheckCustomerEdit(u.Messages, doc.Messages, agent.DefaultAgentName); err != nil {
				return err
			}
		}
		if doc.Name != nil {
			u.Name = *doc.Name
		}
		if doc.Avatar != nil {
			u.Avatar = *doc.Avatar
		}
		if doc.TotalBalance != nil {
			u.TotalBalance = *doc.TotalBalance
		}
		if doc.SpendingByPeriod != nil {
			u.SpendingByPeriod = *doc.SpendingByPeriod
		}
		if doc.Categories != nil {
			u.Categories = doc.Categories
		}
		if doc.Transactions != nil {
			u.Transactions = doc.Transactions
		}
		if doc.Messages != nil {
			u.Messages = doc.Messages
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("account imported", "key", u.Key(), "revision", u.Revision)
	if u.Revision != before && s.onMessages != nil {
		s.onMessages(u)
	}
	return u, nil
}

// SeedFixtures creates the fixture users that do not exist yet. Plain text
// passwords are hashed on the way in.
func (s *Service) SeedFixtures(ctx context.Context, fixtures []user.Fixture) (int, error) {
	created := 0
	for _, f := range fixtures {
		u := f.User
		if f.Password != "" {
			hash, err := hashIfPlain(f.Password)
			if err != nil {
				return created, err
			}
			u.Password = hash
		}
		err := s.store.Create(ctx, &u)
		switch {
		case errors.Is(err, user.ErrDuplicateKey):
			continue
		case err != nil:
			return created, fmt.Errorf("seed %s: %w", f.Email, err)
		}
		created++
	}
	s.logger.Info("fixtures seeded", "created", created, "total", len(fixtures))
	return created, nil
}

func hashIfPlain(password string) (string, error) {
	if _, err := bcrypt.Cost([]byte(password)); err == nil {
		return password, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
