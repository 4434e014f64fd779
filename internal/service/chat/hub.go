package chat

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

// Update is one change of a conversation.
type Update struct {
	Key      string         `json:"key"`
	Messages []chat.Message `json:"messages"`
	Revision int64          `json:"revision"`
}

// Hub fans conversation updates out to subscribers of a key.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]chan Update
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[string]chan Update), logger: logger}
}

// Subscribe registers for updates of key. The returned func unsubscribes
// and closes the channel.
func (h *Hub) Subscribe(key string) (<-chan Update, func()) {
	key = user.NormalizeKey(key)
	id := uuid.NewString()
	ch := make(chan Update, 8)

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[string]chan Update)
	}
	h.subs[key][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], id)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers u without blocking. Subscribers whose buffer is full miss
// the update; the next one carries the full list anyway.
func (h *Hub) Publish(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs[u.Key] {
		select {
		case ch <- u:
		default:
			h.logger.Warn("subscriber lagging, update dropped", "key", u.Key, "subscriber", id)
		}
	}
}

// Subscribers returns the number of listeners for key.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[user.NormalizeKey(key)])
}
