package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

const userColumns = `id, email, password, name, avatar, type, status, total_balance,
	spending_by_period, categories, transactions, messages, revision, created_at, updated_at`

// UserStore implements user.Store on a users table whose messages column is
// a JSONB array.
type UserStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewUserStore wraps an open pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool, now: time.Now}
}

// Ping checks the connection.
func (s *UserStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Kind names the backend.
func (s *UserStore) Kind() string { return "postgres" }

// Close releases the pool.
func (s *UserStore) Close() {
	s.pool.Close()
}

func (s *UserStore) FetchUserByKey(ctx context.Context, key string) (*user.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, user.NormalizeKey(key))
	return scanUser(row)
}

func (s *UserStore) WriteUserMessages(ctx context.Context, key string, msgs []chat.Message, ifRevision int64) (*user.User, error) {
	if err := user.ValidateMessages(msgs); err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE users
		SET messages = $2::jsonb, revision = revision + 1, updated_at = $4
		WHERE lower(email) = $1 AND ($3::bigint < 0 OR revision = $3::bigint)
		RETURNING `+userColumns,
		user.NormalizeKey(key), string(raw), ifRevision, s.now().UTC())
	u, err := scanUser(row)
	if errors.Is(err, user.ErrNotFound) && ifRevision != user.AnyRevision {
		if _, fetchErr := s.FetchUserByKey(ctx, key); fetchErr == nil {
			return nil, user.ErrRevisionConflict
		}
	}
	return u, err
}

// AppendUserMessage locks the row so that the id check and the append see
// the same list.
func (s *UserStore) AppendUserMessage(ctx context.Context, key string, msg chat.Message) (*user.User, error) {
	var out *user.User
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE lower(email) = $1 FOR UPDATE`, user.NormalizeKey(key)))
		if err != nil {
			return err
		}
		prepared, err := user.PrepareAppend(current.Messages, msg)
		if err != nil {
			return err
		}
		raw, err := json.Marshal([]chat.Message{prepared})
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		out, err = scanUser(tx.QueryRow(ctx, `
			UPDATE users
			SET messages = messages || $2::jsonb, revision = revision + 1, updated_at = $3
			WHERE id = $1
			RETURNING `+userColumns,
			current.ID, string(raw), s.now().UTC()))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *UserStore) List(ctx context.Context) ([]user.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, email`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	return out, nil
}

func (s *UserStore) Create(ctx context.Context, u *user.User) error {
	if u.Key() == "" {
		return fmt.Errorf("%w: email is required", user.ErrInvalid)
	}
	stored := u.Clone()
	stored.ApplyDefaults()
	if err := user.ValidateMessages(stored.Messages); err != nil {
		return err
	}
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now().UTC()
	stored.CreatedAt, stored.UpdatedAt = now, now

	args, err := encodeUser(stored)
	if err != nil {
		return err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10::jsonb, $11::jsonb, $12::jsonb, $13, $14, $15)
		RETURNING `+userColumns, args...)
	created, err := scanUser(row)
	if err != nil {
		return err
	}
	*u = *created
	return nil
}

func (s *UserStore) Update(ctx context.Context, key string, fn func(*user.User) error) (*user.User, error) {
	var out *user.User
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanUser(tx.QueryRow(ctx,
			`SELECT `+userColumns+` FROM users WHERE lower(email) = $1 FOR UPDATE`, user.NormalizeKey(key)))
		if err != nil {
			return err
		}
		draft := current.Clone()
		if err := fn(draft); err != nil {
			return err
		}
		if draft.Key() != current.Key() {
			return fmt.Errorf("%w: email cannot change", user.ErrInvalid)
		}
		if err := user.ValidateMessages(draft.Messages); err != nil {
			return err
		}
		draft.ID = current.ID
		draft.CreatedAt = current.CreatedAt
		draft.UpdatedAt = s.now().UTC()
		draft.Revision = current.Revision
		if !chat.Equal(draft.Messages, current.Messages) {
			draft.Revision++
		}

		args, err := encodeUser(draft)
		if err != nil {
			return err
		}
		out, err = scanUser(tx.QueryRow(ctx, `
			UPDATE users SET
				password = $3, name = $4, avatar = $5, type = $6, status = $7, total_balance = $8,
				spending_by_period = $9::jsonb, categories = $10::jsonb, transactions = $11::jsonb,
				messages = $12::jsonb, revision = $13, created_at = $14, updated_at = $15
			WHERE id = $1 AND lower(email) = lower($2)
			RETURNING `+userColumns, args...))
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *UserStore) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE lower(email) = $1`, user.NormalizeKey(key))
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return user.ErrNotFound
	}
	return nil
}

// encodeUser returns the insert arguments in userColumns order.
func encodeUser(u *user.User) ([]any, error) {
	spending, err := json.Marshal(u.SpendingByPeriod)
	if err != nil {
		return nil, fmt.Errorf("encode spending: %w", err)
	}
	categories, err := json.Marshal(nonNil(u.Categories))
	if err != nil {
		return nil, fmt.Errorf("encode categories: %w", err)
	}
	transactions, err := json.Marshal(nonNil(u.Transactions))
	if err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	messages, err := json.Marshal(nonNil(u.Messages))
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return []any{
		u.ID, u.Email, u.Password, u.Name, u.Avatar, string(u.Type), u.Status, u.TotalBalance,
		string(spending), string(categories), string(transactions), string(messages),
		u.Revision, u.CreatedAt, u.UpdatedAt,
	}, nil
}

func scanUser(row pgx.Row) (*user.User, error) {
	var (
		u                                          user.User
		typ                                        string
		spending, categories, transactions, msgRaw []byte
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Password, &u.Name, &u.Avatar, &typ, &u.Status, &u.TotalBalance,
		&spending, &categories, &transactions, &msgRaw,
		&u.Revision, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return nil, user.ErrDuplicateKey
			case "23514", "22P02":
				return nil, fmt.Errorf("%w: %s", user.ErrInvalid, pgErr.Message)
			}
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Type = user.Type(typ)
	if err := json.Unmarshal(spending, &u.SpendingByPeriod); err != nil {
		return nil, fmt.Errorf("decode spending: %w", err)
	}
	if err := json.Unmarshal(categories, &u.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal(transactions, &u.Transactions); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	if err := json.Unmarshal(msgRaw, &u.Messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	if u.Messages == nil {
		u.Messages = []chat.Message{}
	}
	return &u, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
