package chatsync

import (
	"log/slog"
	"sync"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

// EventType names an engine notification.
type EventType string

const (
	EventMessagesChanged EventType = "messages.changed"
	EventSendFailed      EventType = "message.failed"
	EventLoadDegraded    EventType = "session.degraded"
	EventPollFailed      EventType = "poll.failed"
)

// Event is delivered to observers registered with On.
type Event struct {
	Type EventType
	// Seq increases with every state change. Observers running concurrently
	// can drop snapshots older than the last one they rendered.
	Seq      uint64
	Messages []chat.Message
	// Message is the affected message of EventSendFailed.
	Message *chat.Message
	Err     error
}

// Handler observes engine events. Handlers run on the goroutine that caused
// the change and must not call Close.
type Handler func(Event)

type emitter struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

func (em *emitter) on(h Handler) {
	em.mu.Lock()
	em.handlers = append(em.handlers, h)
	em.mu.Unlock()
}

func (em *emitter) emit(ev Event) {
	em.mu.RLock()
	handlers := append([]Handler(nil), em.handlers...)
	em.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					em.logger.Error("event handler panicked", "event", ev.Type, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}

func (em *emitter) reset() {
	em.mu.Lock()
	em.handlers = nil
	em.mu.Unlock()
}
