package chatsync

import (
	"log/slog"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

// WriteMode selects how a sent message reaches the store.
type WriteMode int

const (
	// WriteAppend uses the store's atomic append. Concurrent sends from other
	// sessions are never overwritten.
	WriteAppend WriteMode = iota
	// WriteConditional fetches, appends and writes back the whole list guarded
	// by the record revision, retrying on conflict.
	WriteConditional
	// WriteReadModifyWrite fetches, appends and writes back the whole list
	// unconditionally. Two sessions sending at the same time can lose one of
	// the messages (last write wins).
	WriteReadModifyWrite
)

func (m WriteMode) String() string {
	switch m {
	case WriteAppend:
		return "append"
	case WriteConditional:
		return "conditional"
	case WriteReadModifyWrite:
		return "read-modify-write"
	}
	return "unknown"
}

// ParseWriteMode maps a configuration value to a WriteMode.
func ParseWriteMode(s string) (WriteMode, bool) {
	switch s {
	case "", "append":
		return WriteAppend, true
	case "conditional":
		return WriteConditional, true
	case "read-modify-write", "rmw":
		return WriteReadModifyWrite, true
	}
	return WriteAppend, false
}

// Option configures an Engine.
type Option func(*Engine)

// WithRole sets the sender of messages typed on this surface.
func WithRole(role chat.Sender) Option {
	return func(e *Engine) {
		if role == chat.SenderUser || role == chat.SenderAgent {
			e.role = role
		}
	}
}

// WithSenderName sets the display name attached to sent messages.
func WithSenderName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithAutoReply enables the acknowledgement policy. It only applies to the
// customer surface.
func WithAutoReply(policy AutoReplyPolicy) Option {
	return func(e *Engine) { e.policy = policy.withDefaults() }
}

// WithComposer supplies the auto-reply text generator.
func WithComposer(c Composer) Option {
	return func(e *Engine) { e.composer = c }
}

// WithClock replaces the wall clock and timers.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWriteMode selects the persistence protocol.
func WithWriteMode(m WriteMode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithConflictRetries bounds the attempts of WriteConditional.
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.conflictRetries = n
		}
	}
}

// Clock abstracts time so that timers can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call and reports whether it was still pending.
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
