package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/fixture"
	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/service/account"
	chatservice "github.com/zhouzirui/finpulse/backend/internal/service/chat"
)

func newTestRouter(t *testing.T, secret string) http.Handler {
	t.Helper()
	store := user.NewMemoryStore(nil)
	accounts := account.NewService(store, account.NewTokens(secret, time.Hour), nil)
	if _, err := accounts.SeedFixtures(context.Background(), []user.Fixture{
		{User: user.User{Email: "support@example.com", Name: "Support Desk", Type: user.TypeAgent}, Password: "desk"},
	}); err != nil {
		t.Fatalf("SeedFixtures err: %v", err)
	}
	return NewRouter(Deps{
		Accounts: accounts,
		Chat:     chatservice.NewService(store, nil),
		Agents:   agent.NewMemoryStore(agent.Seed()),
		Fixture:  fixture.New(filepath.Join(t.TempDir(), "user.json")),
	})
}

func request(h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func loginToken(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()
	resp := request(h, http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	if resp.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", email, resp.Code, resp.Body)
	}
	var session account.Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if session.Token == "" {
		t.Fatalf("login %s returned no token", email)
	}
	return session.Token
}

func TestHealth(t *testing.T) {
	h := newTestRouter(t, "")
	resp := request(h, http.MethodGet, "/api/health", "", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	body := resp.Body.String()
	if !strings.Contains(body, `"status":"ok"`) || !strings.Contains(body, `"kind":"memory"`) {
		t.Fatalf("unexpected health body %s", body)
	}
}

func TestCustomerAndAgentFlow(t *testing.T) {
	h := newTestRouter(t, "secret")

	if resp := request(h, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "ann@example.com", "password": "pw", "name": "Ann Lee"}); resp.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", resp.Code, resp.Body)
	}
	customer := loginToken(t, h, "ann@example.com", "pw")
	desk := loginToken(t, h, "support@example.com", "desk")

	if resp := request(h, http.MethodGet, "/api/users/ann@example.com/messages", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.Code)
	}

	resp := request(h, http.MethodPost, "/api/users/ann@example.com/messages", customer, chat.Message{Text: "my card was charged twice"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("append: expected 201, got %d: %s", resp.Code, resp.Body)
	}

	if resp := request(h, http.MethodGet, "/api/users", customer, nil); resp.Code != http.StatusForbidden {
		t.Fatalf("customer inbox: expected 403, got %d", resp.Code)
	}
	resp = request(h, http.MethodGet, "/api/users", desk, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("agent inbox: expected 200, got %d", resp.Code)
	}
	var convs []chat.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&convs); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if len(convs) != 1 || convs[0].Key != "ann@example.com" || convs[0].Unread != 1 {
		t.Fatalf("unexpected inbox %+v", convs)
	}

	resp = request(h, http.MethodPost, "/api/users/ann@example.com/messages", desk, chat.Message{Sender: chat.SenderAgent, Text: "refund issued"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("agent append: expected 201, got %d", resp.Code)
	}

	resp = request(h, http.MethodGet, "/api/users/ann@example.com/messages", customer, nil)
	var transcript chatservice.Transcript
	if err := json.NewDecoder(resp.Body).Decode(&transcript); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	// Welcome message, customer message, agent reply.
	if len(transcript.Messages) != 3 || transcript.Messages[2].Text != "refund issued" {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
}

func TestAgentsAndFixtureRoutesArePublic(t *testing.T) {
	h := newTestRouter(t, "secret")
	if resp := request(h, http.MethodGet, "/api/agents", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("agents: expected 200, got %d", resp.Code)
	}
	if resp := request(h, http.MethodGet, "/api/loadJson", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("loadJson: expected 404, got %d", resp.Code)
	}
}
