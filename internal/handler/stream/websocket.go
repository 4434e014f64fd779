package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/finpulse/backend/internal/middleware"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	chatService "github.com/zhouzirui/finpulse/backend/internal/service/chat"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler pushes conversation changes over a WebSocket and accepts
// sends and read receipts from the same connection.
type WebSocketHandler struct {
	chatSvc  *chatService.Service
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler creates a WebSocket handler.
func NewWebSocketHandler(chatSvc *chatService.Service, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With("component", "websocket"),
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireKeyAccess("key")).Get("/ws/{key}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type textMessage struct {
	ID     chat.MessageID `json:"id"`
	Text   string         `json:"text"`
	Sender chat.Sender    `json:"sender"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Key       string      `json:"key,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serializes writes; gorilla allows one concurrent writer.
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	key := user.NormalizeKey(chi.URLParam(r, "key"))
	updates, unsubscribe := h.chatSvc.Hub().Subscribe(key)
	defer unsubscribe()

	transcript, err := h.chatSvc.History(r.Context(), key)
	if err != nil {
		http.Error(w, "conversation not found", http.StatusNotFound)
		return
	}

	sender := chat.SenderUser
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok && claims.Role == user.TypeAgent {
		sender = chat.SenderAgent
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	c := &conn{ws: ws}

	h.logger.Info("connection opened", "key", key)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.send(c, "messages", key, chatService.Update{Key: key, Messages: transcript.Messages, Revision: transcript.Revision})

	go h.pingLoop(ctx, c)
	go h.pushLoop(ctx, c, key, transcript.Revision, updates)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read failed", "key", key, "error", err)
			}
			h.logger.Info("connection closed", "key", key)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ctx, c, key, sender, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *conn, key string, sender chat.Sender, msg *inboundMessage) {
	switch msg.Type {
	case "text":
		var text textMessage
		if err := json.Unmarshal(msg.Data, &text); err != nil {
			h.sendError(c, "invalid text payload")
			return
		}
		if text.Sender != "" && text.Sender != sender {
			h.sendError(c, "sender not allowed on this connection")
			return
		}
		if _, err := h.chatSvc.Append(ctx, key, chat.Message{ID: text.ID, Sender: sender, Text: text.Text}); err != nil {
			h.sendError(c, err.Error())
		}
	case "read":
		if _, err := h.chatSvc.MarkRead(ctx, key); err != nil {
			h.sendError(c, err.Error())
		}
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

// pushLoop forwards hub updates newer than the last one sent.
func (h *WebSocketHandler) pushLoop(ctx context.Context, c *conn, key string, last int64, updates <-chan chatService.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Revision <= last {
				continue
			}
			last = u.Revision
			h.send(c, "messages", key, u)
		}
	}
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) send(c *conn, kind, key string, data any) {
	msg := outgoingMessage{
		Type:      kind,
		Key:       key,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := c.writeJSON(msg); err != nil {
		h.logger.Debug("write failed", "key", key, "error", err)
	}
}

func (h *WebSocketHandler) sendError(c *conn, message string) {
	h.send(c, "error", "", map[string]string{"message": message})
}
