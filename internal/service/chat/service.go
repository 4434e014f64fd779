package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

var (
	ErrEmptyText     = errors.New("message text is required")
	ErrInvalidSender = errors.New("sender must be user or agent")
)

// Transcript is the stored conversation of one user.
type Transcript struct {
	Messages []chat.Message `json:"messages"`
	Revision int64          `json:"revision"`
}

// Service serves the support conversations kept on user records and
// announces every write on its Hub.
type Service struct {
	store  user.Store
	hub    *Hub
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a chat service over store.
func NewService(store user.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		hub:    NewHub(logger),
		logger: logger.With("component", "chat"),
		now:    time.Now,
	}
}

// Hub returns the change feed.
func (s *Service) Hub() *Hub { return s.hub }

// History returns the stored conversation for key.
func (s *Service) History(ctx context.Context, key string) (Transcript, error) {
	u, err := s.store.FetchUserByKey(ctx, key)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{Messages: u.Messages, Revision: u.Revision}, nil
}

// Append stores one message atomically. Missing time fields are stamped with
// the server clock; an empty or taken id is replaced.
func (s *Service) Append(ctx context.Context, key string, msg chat.Message) (*user.User, error) {
	if strings.TrimSpace(msg.Text) == "" {
		return nil, ErrEmptyText
	}
	if msg.Sender != chat.SenderUser && msg.Sender != chat.SenderAgent {
		return nil, ErrInvalidSender
	}
	now := s.now()
	if msg.Time == "" {
		msg.Time = now.Format(chat.TimeLayout)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = now.UnixMilli()
	}

	u, err := s.store.AppendUserMessage(ctx, key, msg)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("message appended", "key", u.Key(), "sender", msg.Sender, "revision", u.Revision)
	s.publish(u)
	return u, nil
}

// Replace overwrites the whole conversation. ifRevision guards against
// concurrent writers unless it is user.AnyRevision. A customer (author
// chat.SenderUser) may not add or rewrite agent messages; the check runs
// against the list being replaced, inside the store's update.
func (s *Service) Replace(ctx context.Context, key string, msgs []chat.Message, ifRevision int64, author chat.Sender) (*user.User, error) {
	var (
		u   *user.User
		err error
	)
	if author == chat.SenderAgent {
		u, err = s.store.WriteUserMessages(ctx, key, msgs, ifRevision)
	} else {
		u, err = s.store.Update(ctx, key, func(cur *user.User) error {
			if ifRevision != user.AnyRevision && cur.Revision != ifRevision {
				return user.ErrRevisionConflict
			}
			if err := chat.CheckCustomerEdit(cur.Messages, msgs, agent.DefaultAgentName); err != nil {
				return err
			}
			cur.Messages = append([]chat.Message{}, msgs...)
			return nil
		})
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("conversation replaced", "key", u.Key(), "messages", len(msgs), "revision", u.Revision)
	s.publish(u)
	return u, nil
}

// MarkRead flags every message of the conversation as read.
func (s *Service) MarkRead(ctx context.Context, key string) (*user.User, error) {
	changed := false
	u, err := s.store.Update(ctx, key, func(u *user.User) error {
		for i := range u.Messages {
			if !u.Messages[i].IsRead {
				u.Messages[i].IsRead = true
				changed = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.publish(u)
	}
	return u, nil
}

// Inbox lists customer conversations for the agent console. A non-empty
// query keeps only names containing it, case-insensitively.
func (s *Service) Inbox(ctx context.Context, query string) ([]chat.Conversation, error) {
	users, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	query = strings.ToLower(strings.TrimSpace(query))

	out := make([]chat.Conversation, 0, len(users))
	for _, u := range users {
		if u.Type == user.TypeAgent {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(u.Name), query) {
			continue
		}
		out = append(out, chat.Summarize(u.Key(), u.Name, u.Avatar, u.Status, u.Messages))
	}
	return out, nil
}

// Publish announces the current conversation of u to subscribers. Writers
// outside this service call it after changing messages.
func (s *Service) Publish(u *user.User) {
	s.publish(u)
}

func (s *Service) publish(u *user.User) {
	s.hub.Publish(Update{
		Key:      u.Key(),
		Messages: append([]chat.Message(nil), u.Messages...),
		Revision: u.Revision,
	})
}
