// Package chatsync keeps a local copy of one customer's support conversation
// consistent with the user store. Sends are applied locally first and rolled
// back when persistence fails; polling picks up messages written by other
// sessions (the agent console, another tab).
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

const instrumentationName = "github.com/zhouzirui/finpulse/backend/internal/service/chatsync"

// DefaultPollInterval is the refresh period of StartPolling.
const DefaultPollInterval = 3 * time.Second

var (
	ErrEmptyMessage       = errors.New("message text is empty")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrClosed             = errors.New("sync engine closed")
)

// Store is the part of user.Store the engine depends on.
type Store interface {
	FetchUserByKey(ctx context.Context, key string) (*user.User, error)
	WriteUserMessages(ctx context.Context, key string, msgs []chat.Message, ifRevision int64) (*user.User, error)
	AppendUserMessage(ctx context.Context, key string, msg chat.Message) (*user.User, error)
}

// Engine is one open chat view. It serves both the customer surface (role
// user, auto-reply on) and the agent console (role agent).
type Engine struct {
	store           Store
	key             string
	role            chat.Sender
	name            string
	policy          AutoReplyPolicy
	composer        Composer
	clock           Clock
	logger          *slog.Logger
	mode            WriteMode
	conflictRetries int

	tracer  trace.Tracer
	metrics engineMetrics
	emitter emitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	messages []chat.Message
	// remote is the newest stored list seen, at revision.
	remote []chat.Message
	// pending holds optimistic messages whose write has not completed.
	pending  map[chat.MessageID]chat.Message
	typing   *chat.Message
	revision int64
	recordID string
	seq      uint64
	lastID   int64

	autoReplySent bool
	replyPending  bool
	replyTimer    Timer

	polling bool
	closed  bool
}

// New creates an engine for the conversation stored under key.
func New(store Store, key string, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		key:             user.NormalizeKey(key),
		role:            chat.SenderUser,
		clock:           realClock{},
		logger:          slog.Default(),
		conflictRetries: 5,
		messages:        []chat.Message{},
		pending:         make(map[chat.MessageID]chat.Message),
		revision:        -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "chatsync", "key", e.key, "role", string(e.role))
	e.emitter.logger = e.logger
	e.tracer = otel.Tracer(instrumentationName)
	e.metrics = newEngineMetrics(otel.Meter(instrumentationName), e.logger, e.role)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Key returns the normalized conversation key.
func (e *Engine) Key() string { return e.key }

// On registers an observer.
func (e *Engine) On(h Handler) { e.emitter.on(h) }

// Messages returns a copy of the current local list, typing indicator last.
func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

// Load replaces local state with the stored conversation. When the record is
// missing or the store fails, local state becomes empty and the returned error
// wraps ErrSessionNotFound or ErrSessionUnavailable. The engine stays usable
// either way.
func (e *Engine) Load(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "chatsync.load")
	defer span.End()

	var (
		u   *user.User
		err error
	)
	if e.key == "" {
		err = user.ErrNotFound
	} else {
		u, err = e.store.FetchUserByKey(ctx, e.key)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		e.messages = []chat.Message{}
		e.remote = nil
		clear(e.pending)
		e.revision = -1
		e.recordID = ""
		changed := e.changedLocked()
		e.mu.Unlock()

		if errors.Is(err, user.ErrNotFound) {
			err = fmt.Errorf("%w: %q", ErrSessionNotFound, e.key)
		} else {
			err = fmt.Errorf("%w: %w", ErrSessionUnavailable, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "load degraded")
		e.logger.Warn("session load degraded to empty history", "error", err)
		e.emitter.emit(Event{Type: EventLoadDegraded, Seq: changed.Seq, Err: err})
		e.emitter.emit(changed)
		return err
	}
	e.remote = chat.Persistable(u.Messages)
	e.messages = slices.Clone(e.remote)
	clear(e.pending)
	e.revision = u.Revision
	e.recordID = u.ID
	changed := e.changedLocked()
	e.mu.Unlock()

	e.logger.Debug("session loaded", "messages", len(changed.Messages), "revision", u.Revision)
	e.emitter.emit(changed)
	return nil
}

// Send appends a message locally before returning and persists it in the
// background. The returned Delivery reports the outcome; on failure the
// message has already been removed again and EventSendFailed emitted.
func (e *Engine) Send(ctx context.Context, text string) (*Delivery, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrClosed
	}
	now := e.clock.Now()
	msg := chat.New(e.nextLocalIDLocked(now), e.role, e.name, text, now)
	d := e.stageLocked(msg)
	if e.shouldAutoReplyLocked(now) {
		e.scheduleAutoReplyLocked(d)
	}
	changed := e.changedLocked()
	e.mu.Unlock()

	e.metrics.add(ctx, e.metrics.sends)
	e.emitter.emit(changed)

	persistCtx := trace.ContextWithSpan(e.ctx, trace.SpanFromContext(ctx))
	go e.persist(persistCtx, d)
	return d, nil
}

// stageLocked appends msg optimistically and registers its delivery. The
// caller must run persist for the returned delivery.
func (e *Engine) stageLocked(msg chat.Message) *Delivery {
	e.messages = append(e.messages, msg)
	e.pending[msg.ID] = msg
	e.wg.Add(1)
	return newDelivery(msg)
}

func (e *Engine) persist(ctx context.Context, d *Delivery) {
	defer e.wg.Done()

	ctx, span := e.tracer.Start(ctx, "chatsync.persist", trace.WithAttributes(
		attribute.String("chatsync.mode", e.mode.String()),
		attribute.String("chatsync.sender", string(d.Message.Sender)),
	))
	defer span.End()

	u, err := e.write(ctx, d.Message)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		d.finish(err)
		return
	}
	delete(e.pending, d.Message.ID)
	if err != nil {
		if i := slices.Index(e.messages, d.Message); i >= 0 {
			e.messages = slices.Delete(slices.Clone(e.messages), i, i+1)
		}
		changed := e.changedLocked()
		e.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		e.metrics.add(ctx, e.metrics.rollbacks)
		e.logger.Error("message persist failed, rolled back", "id", d.Message.ID, "error", err)
		msg := d.Message
		e.emitter.emit(Event{Type: EventSendFailed, Seq: changed.Seq, Message: &msg, Err: err})
		e.emitter.emit(changed)
		d.finish(err)
		return
	}
	// A poll may already have applied a newer list, which holds this
	// message; an older write result must not replace it.
	if e.adoptLocked(u) {
		e.remote = chat.Persistable(u.Messages)
	}
	next := e.mergeLocked(e.remote)
	var (
		changed Event
		notify  bool
	)
	if !chat.Equal(next, e.messages) {
		e.messages = next
		changed = e.changedLocked()
		notify = true
	}
	e.mu.Unlock()

	if notify {
		e.emitter.emit(changed)
	}
	d.finish(nil)
}

func (e *Engine) write(ctx context.Context, msg chat.Message) (*user.User, error) {
	switch e.mode {
	case WriteReadModifyWrite:
		u, err := e.store.FetchUserByKey(ctx, e.key)
		if err != nil {
			return nil, err
		}
		existing := chat.Persistable(u.Messages)
		msg, err = user.PrepareAppend(existing, msg)
		if err != nil {
			return nil, err
		}
		return e.store.WriteUserMessages(ctx, e.key, append(existing, msg), user.AnyRevision)
	case WriteConditional:
		var lastErr error
		for attempt := 0; attempt < e.conflictRetries; attempt++ {
			u, err := e.store.FetchUserByKey(ctx, e.key)
			if err != nil {
				return nil, err
			}
			existing := chat.Persistable(u.Messages)
			prepared, err := user.PrepareAppend(existing, msg)
			if err != nil {
				return nil, err
			}
			written, err := e.store.WriteUserMessages(ctx, e.key, append(existing, prepared), u.Revision)
			if err == nil {
				return written, nil
			}
			if !errors.Is(err, user.ErrRevisionConflict) {
				return nil, err
			}
			lastErr = err
			e.logger.Debug("revision conflict, retrying", "attempt", attempt+1)
		}
		return nil, lastErr
	default:
		return e.store.AppendUserMessage(ctx, e.key, msg)
	}
}

// PollOnce fetches the stored conversation and replaces local state when the
// merged result differs. It reports whether local state changed.
func (e *Engine) PollOnce(ctx context.Context) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "chatsync.poll")
	defer span.End()

	u, err := e.store.FetchUserByKey(ctx, e.key)
	if err != nil {
		span.RecordError(err)
		e.metrics.add(ctx, e.metrics.pollFailures)
		e.logger.Warn("poll failed, skipping cycle", "error", err)
		e.emitter.emit(Event{Type: EventPollFailed, Err: err})
		return false, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	if !e.adoptLocked(u) {
		// Response overtaken by a newer write result.
		e.mu.Unlock()
		return false, nil
	}
	e.remote = chat.Persistable(u.Messages)
	next := e.mergeLocked(e.remote)
	if chat.Equal(next, e.messages) {
		e.mu.Unlock()
		return false, nil
	}
	e.messages = next
	changed := e.changedLocked()
	e.mu.Unlock()

	e.metrics.add(ctx, e.metrics.replacements)
	e.emitter.emit(changed)
	return true, nil
}

// Poll runs PollOnce every interval until ctx is cancelled or the engine is
// closed. Failed cycles are logged and skipped.
func (e *Engine) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.PollOnce(ctx)
		}
	}
}

// StartPolling runs Poll in the background until Close. Repeated calls are
// no-ops.
func (e *Engine) StartPolling(interval time.Duration) {
	e.mu.Lock()
	if e.closed || e.polling {
		e.mu.Unlock()
		return
	}
	e.polling = true
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		e.Poll(e.ctx, interval)
	}()
}

// Close stops polling and pending auto-reply timers and waits for background
// work. Completions after Close neither mutate state nor notify observers.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.replyTimer != nil && e.replyTimer.Stop() {
		e.wg.Done()
	}
	e.replyTimer = nil
	e.typing = nil
	e.mu.Unlock()

	e.cancel()
	e.emitter.reset()
	e.wg.Wait()
}

// adoptLocked reports whether u is at least as new as the list already
// applied. A record with another id (deleted and registered again) restarts
// the revision sequence.
func (e *Engine) adoptLocked(u *user.User) bool {
	if u.ID != e.recordID {
		e.recordID = u.ID
		e.revision = u.Revision
		return true
	}
	if u.Revision < e.revision {
		return false
	}
	e.revision = u.Revision
	return true
}

// mergeLocked combines a stored list with local messages still in flight.
func (e *Engine) mergeLocked(remote []chat.Message) []chat.Message {
	out := slices.Clone(remote)
	stored := len(out)
	for _, m := range e.messages {
		if _, ok := e.pending[m.ID]; !ok {
			continue
		}
		if slices.ContainsFunc(out[:stored], func(r chat.Message) bool { return storedCopy(r, m) }) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// storedCopy reports whether r is the stored form of the local message m:
// the same id, or the same timestamp under an id the store reassigned.
func storedCopy(r, m chat.Message) bool {
	if r.Sender != m.Sender || r.Text != m.Text {
		return false
	}
	return r.ID == m.ID || (m.Timestamp != 0 && r.Timestamp == m.Timestamp)
}

func (e *Engine) viewLocked() []chat.Message {
	out := make([]chat.Message, 0, len(e.messages)+1)
	out = append(out, e.messages...)
	if e.typing != nil {
		out = append(out, *e.typing)
	}
	return out
}

func (e *Engine) changedLocked() Event {
	e.seq++
	return Event{Type: EventMessagesChanged, Seq: e.seq, Messages: e.viewLocked()}
}

// nextLocalIDLocked returns a time based id that is unique in the local list.
func (e *Engine) nextLocalIDLocked(now time.Time) chat.MessageID {
	n := now.UnixMilli()
	if n <= e.lastID {
		n = e.lastID + 1
	}
	for chat.IndexOf(e.messages, chat.IntID(n)) >= 0 {
		n++
	}
	e.lastID = n
	return chat.IntID(n)
}

// Delivery tracks the persistence of one sent message.
type Delivery struct {
	Message chat.Message
	done    chan struct{}
	err     error
}

func newDelivery(msg chat.Message) *Delivery {
	return &Delivery{Message: msg, done: make(chan struct{})}
}

// Done is closed once the outcome is known.
func (d *Delivery) Done() <-chan struct{} { return d.done }

// Err returns the persistence error, or nil while pending or on success.
func (d *Delivery) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

// Wait blocks until the outcome is known or ctx ends.
func (d *Delivery) Wait(ctx context.Context) error {
	select {
	case <-d.done:
		return d.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Delivery) failed() bool {
	select {
	case <-d.done:
		return d.err != nil
	default:
		return false
	}
}

func (d *Delivery) finish(err error) {
	d.err = err
	close(d.done)
}

type engineMetrics struct {
	attrs        metric.MeasurementOption
	sends        metric.Int64Counter
	rollbacks    metric.Int64Counter
	replacements metric.Int64Counter
	pollFailures metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter, logger *slog.Logger, role chat.Sender) engineMetrics {
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Warn("failed to create counter", "name", name, "error", err)
			return nil
		}
		return c
	}
	return engineMetrics{
		attrs:        metric.WithAttributes(attribute.String("role", string(role))),
		sends:        counter("chatsync.sends", "Messages sent optimistically"),
		rollbacks:    counter("chatsync.rollbacks", "Optimistic sends rolled back after a failed write"),
		replacements: counter("chatsync.poll.replacements", "Polls that replaced local state"),
		pollFailures: counter("chatsync.poll.failures", "Polls that failed to reach the store"),
	}
}

func (m engineMetrics) add(ctx context.Context, c metric.Int64Counter) {
	if c != nil {
		c.Add(ctx, 1, m.attrs)
	}
}
