package chatsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

// DefaultReplyText is the acknowledgement sent when no Composer is set.
const DefaultReplyText = "Thank you for reaching out to our support team. An agent will review your request and respond shortly. We appreciate your patience."

// AutoReplyPolicy configures the acknowledgement a customer receives.
type AutoReplyPolicy struct {
	Enabled   bool
	AgentName string
	Text      string
	// TypingDelay is the pause before the typing indicator appears.
	TypingDelay time.Duration
	// ReplyDelay is how long the indicator stays before the reply replaces it.
	ReplyDelay time.Duration
	// QuietPeriod is the agent silence after which another reply is sent.
	QuietPeriod time.Duration
}

// DefaultAutoReply returns the enabled policy used by the customer surface.
func DefaultAutoReply() AutoReplyPolicy {
	return AutoReplyPolicy{Enabled: true}.withDefaults()
}

func (p AutoReplyPolicy) withDefaults() AutoReplyPolicy {
	if p.AgentName == "" {
		p.AgentName = agent.DefaultAgentName
	}
	if p.Text == "" {
		p.Text = DefaultReplyText
	}
	if p.TypingDelay <= 0 {
		p.TypingDelay = time.Second
	}
	if p.ReplyDelay <= 0 {
		p.ReplyDelay = 2500 * time.Millisecond
	}
	if p.QuietPeriod <= 0 {
		p.QuietPeriod = 2 * time.Hour
	}
	return p
}

// Composer produces the auto-reply text from the conversation so far.
type Composer interface {
	Compose(ctx context.Context, history []chat.Message) (string, error)
}

// ComposerFunc adapts a function to Composer.
type ComposerFunc func(ctx context.Context, history []chat.Message) (string, error)

func (f ComposerFunc) Compose(ctx context.Context, history []chat.Message) (string, error) {
	return f(ctx, history)
}

// shouldAutoReplyLocked runs right after a customer message was appended.
func (e *Engine) shouldAutoReplyLocked(now time.Time) bool {
	if !e.policy.Enabled || e.role != chat.SenderUser || e.replyPending {
		return false
	}
	if !e.autoReplySent {
		return true
	}
	lastAgent, ok := chat.Last(e.messages, chat.SenderAgent)
	if !ok {
		return true
	}
	if lastAgent.Timestamp == 0 {
		return false
	}
	return now.Sub(time.UnixMilli(lastAgent.Timestamp)) > e.policy.QuietPeriod
}

func (e *Engine) scheduleAutoReplyLocked(trigger *Delivery) {
	e.replyPending = true
	e.wg.Add(1)
	e.replyTimer = e.clock.AfterFunc(e.policy.TypingDelay, func() { e.showTyping(trigger) })
}

func (e *Engine) showTyping(trigger *Delivery) {
	defer e.wg.Done()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if trigger.failed() {
		e.replyPending = false
		e.replyTimer = nil
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	e.typing = &chat.Message{
		ID:     chat.MessageID(fmt.Sprintf("typing-%d", now.UnixMilli())),
		Sender: chat.SenderTyping,
		Name:   e.policy.AgentName,
		Time:   now.Format(chat.TimeLayout),
	}
	ev := e.changedLocked()
	e.wg.Add(1)
	e.replyTimer = e.clock.AfterFunc(e.policy.ReplyDelay, func() { e.deliverReply(trigger) })
	e.mu.Unlock()

	e.emitter.emit(ev)
}

func (e *Engine) deliverReply(trigger *Delivery) {
	defer e.wg.Done()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.replyTimer = nil
	history := append([]chat.Message(nil), e.messages...)
	e.mu.Unlock()

	text := e.composeReply(history)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.typing = nil
	if trigger.failed() {
		e.replyPending = false
		ev := e.changedLocked()
		e.mu.Unlock()
		e.emitter.emit(ev)
		return
	}
	now := e.clock.Now()
	reply := chat.New(e.nextLocalIDLocked(now), chat.SenderAgent, e.policy.AgentName, text, now)
	d := e.stageLocked(reply)
	ev := e.changedLocked()
	e.mu.Unlock()

	e.emitter.emit(ev)
	e.logger.Info("auto-reply staged", "id", reply.ID)
	e.persist(e.ctx, d)

	e.mu.Lock()
	e.replyPending = false
	if d.Err() == nil {
		e.autoReplySent = true
	}
	e.mu.Unlock()
}

func (e *Engine) composeReply(history []chat.Message) string {
	if e.composer == nil {
		return e.policy.Text
	}
	text, err := e.composer.Compose(e.ctx, history)
	if err != nil {
		e.logger.Warn("reply composer failed, using canned text", "error", err)
		return e.policy.Text
	}
	if strings.TrimSpace(text) == "" {
		return e.policy.Text
	}
	return text
}
