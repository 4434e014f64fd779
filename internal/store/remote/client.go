// Package remote talks to the FinPulse API over HTTP. Client satisfies
// chatsync.Store so a terminal client runs the same sync engine as the web
// surfaces.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

var (
	ErrUnauthorized = errors.New("not logged in or session expired")
	ErrForbidden    = errors.New("access denied")
)

// Session is the login response.
type Session struct {
	User  *user.User `json:"user"`
	Token string     `json:"token"`
}

// Client calls the /api routes of one server.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// New creates a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/") + "/api",
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithToken returns a copy that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Register creates a customer account.
func (c *Client) Register(ctx context.Context, email, password, name string) (*user.User, error) {
	var u user.User
	body := map[string]string{"email": email, "password": password, "name": name}
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Inbox lists customer conversations. Agents only.
func (c *Client) Inbox(ctx context.Context, query string) ([]chat.Conversation, error) {
	path := "/users"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var convs []chat.Conversation
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// FetchUserByKey returns the full record.
func (c *Client) FetchUserByKey(ctx context.Context, key string) (*user.User, error) {
	var u user.User
	if err := c.do(ctx, http.MethodGet, userPath(key), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// WriteUserMessages replaces the conversation, conditionally when ifRevision
// is not user.AnyRevision.
func (c *Client) WriteUserMessages(ctx context.Context, key string, msgs []chat.Message, ifRevision int64) (*user.User, error) {
	header := http.Header{}
	if ifRevision != user.AnyRevision {
		header.Set("If-Match", strconv.Quote(strconv.FormatInt(ifRevision, 10)))
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	var u user.User
	if err := c.do(ctx, http.MethodPut, userPath(key)+"/messages", msgs, header, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// AppendUserMessage appends one message server-side.
func (c *Client) AppendUserMessage(ctx context.Context, key string, msg chat.Message) (*user.User, error) {
	var u user.User
	if err := c.do(ctx, http.MethodPost, userPath(key)+"/messages", msg, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// MarkRead flags every message of the conversation as read.
func (c *Client) MarkRead(ctx context.Context, key string) (*user.User, error) {
	var u user.User
	if err := c.do(ctx, http.MethodPost, userPath(key)+"/messages/read", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func userPath(key string) string {
	return "/users/" + url.PathEscape(user.NormalizeKey(key))
}

func (c *Client) do(ctx context.Context, method, path string, in any, header http.Header, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// statusError maps API statuses back onto the store sentinels so callers
// can use errors.Is as they would against a local store.
func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	msg := payload.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var sentinel error
	switch resp.StatusCode {
	case http.StatusNotFound:
		sentinel = user.ErrNotFound
	case http.StatusConflict:
		sentinel = user.ErrRevisionConflict
		if strings.Contains(msg, user.ErrDuplicateKey.Error()) {
			sentinel = user.ErrDuplicateKey
		}
	case http.StatusBadRequest:
		sentinel = user.ErrInvalid
	case http.StatusUnauthorized:
		sentinel = ErrUnauthorized
	case http.StatusForbidden:
		sentinel = ErrForbidden
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: %s", sentinel, msg)
}
