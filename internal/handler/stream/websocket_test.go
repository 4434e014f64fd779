package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/finpulse/backend/internal/middleware"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/service/account"
	chatservice "github.com/zhouzirui/finpulse/backend/internal/service/chat"
)

type pushed struct {
	Type string          `json:"type"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func readUpdate(t *testing.T, ws *websocket.Conn) (string, chatservice.Update) {
	t.Helper()
	var msg pushed
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read err: %v", err)
	}
	var u chatservice.Update
	if msg.Type == "messages" {
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			t.Fatalf("decode update: %v", err)
		}
	}
	return msg.Type, u
}

func TestWebSocketRoundTrip(t *testing.T) {
	chatSvc := newChatService()
	r := chi.NewRouter()
	NewWebSocketHandler(chatSvc, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws := dial(t, srv, "/ws/a@b.com")
	defer ws.Close()

	kind, snapshot := readUpdate(t, ws)
	if kind != "messages" || len(snapshot.Messages) != 1 {
		t.Fatalf("unexpected snapshot %s %+v", kind, snapshot)
	}

	if err := ws.WriteJSON(map[string]any{"type": "text", "data": map[string]any{"text": "where is my refund"}}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	_, u := readUpdate(t, ws)
	if len(u.Messages) != 2 || u.Messages[1].Sender != chat.SenderUser || u.Messages[1].Text != "where is my refund" {
		t.Fatalf("unexpected update %+v", u)
	}

	if err := ws.WriteJSON(map[string]any{"type": "shout"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	if kind, _ := readUpdate(t, ws); kind != "error" {
		t.Fatalf("expected error frame, got %s", kind)
	}
}

func TestWebSocketRejectsForeignCustomer(t *testing.T) {
	tokens := account.NewTokens("secret", time.Hour)
	r := chi.NewRouter()
	r.Use(middleware.Authenticate(tokens))
	NewWebSocketHandler(newChatService(), nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	token, err := tokens.Issue(&user.User{Email: "c@d.com", Type: user.TypeUser})
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/a@b.com?access_token=" + token
	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != 403 {
		t.Fatalf("expected 403 handshake failure, got err=%v resp=%v", err, resp)
	}
}
