package chatsync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/service/chatsync"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) chatsync.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, running due timers in order on the calling
// goroutine. Timers scheduled by a callback fire within the same Advance when
// they fall before the target time.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.at.After(target) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		due.fired = true
		if due.at.After(c.now) {
			c.now = due.at
		}
		c.mu.Unlock()
		due.f()
	}
}

func newCustomerEngine(store *hookStore, clock *fakeClock, opts ...chatsync.Option) *chatsync.Engine {
	base := []chatsync.Option{
		chatsync.WithClock(clock),
		chatsync.WithAutoReply(chatsync.DefaultAutoReply()),
	}
	return chatsync.New(store, testKey, append(base, opts...)...)
}

func sendAndWait(t *testing.T, e *chatsync.Engine, text string) {
	t.Helper()
	d, err := e.Send(context.Background(), text)
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if err := waitDelivery(t, d); err != nil {
		t.Fatalf("delivery err: %v", err)
	}
}

func TestAutoReplyStagesTypingThenReply(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	engine := newCustomerEngine(store, clock)
	defer engine.Close()

	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	sendAndWait(t, engine, "my card was declined")

	clock.Advance(time.Second)
	view := engine.Messages()
	if len(view) != 2 || view[1].Sender != chat.SenderTyping || view[1].Name != "Emma Thompson" {
		t.Fatalf("expected typing indicator, got %+v", view)
	}
	for _, m := range store.stored(t) {
		if m.Sender == chat.SenderTyping {
			t.Fatal("typing indicator reached the store")
		}
	}

	clock.Advance(2500 * time.Millisecond)
	view = engine.Messages()
	if len(view) != 2 {
		t.Fatalf("expected user message and reply, got %+v", view)
	}
	reply := view[1]
	if reply.Sender != chat.SenderAgent || reply.Text != chatsync.DefaultReplyText || reply.Name != "Emma Thompson" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if !chat.Equal(view, store.stored(t)) {
		t.Fatalf("local %+v differs from stored %+v", view, store.stored(t))
	}
}

func TestAutoReplyFiresOncePerSession(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	engine := newCustomerEngine(store, clock)
	defer engine.Close()

	sendAndWait(t, engine, "first")
	clock.Advance(5 * time.Second)
	sendAndWait(t, engine, "second")
	clock.Advance(5 * time.Second)
	sendAndWait(t, engine, "third")
	clock.Advance(5 * time.Second)

	replies := 0
	for _, m := range store.stored(t) {
		if m.Sender == chat.SenderAgent {
			replies++
		}
	}
	if replies != 1 {
		t.Fatalf("expected exactly one auto-reply, got %d", replies)
	}
}

func TestAutoReplyDoesNotStack(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	engine := newCustomerEngine(store, clock)
	defer engine.Close()

	sendAndWait(t, engine, "one")
	sendAndWait(t, engine, "two")
	sendAndWait(t, engine, "three")
	clock.Advance(5 * time.Second)

	stored := store.stored(t)
	if len(stored) != 4 || stored[3].Sender != chat.SenderAgent {
		t.Fatalf("expected three messages and one reply, got %+v", stored)
	}
}

func TestAutoReplyAfterQuietPeriod(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	engine := newCustomerEngine(store, clock)
	defer engine.Close()

	sendAndWait(t, engine, "hello")
	clock.Advance(5 * time.Second)

	clock.Advance(2*time.Hour + time.Minute)
	sendAndWait(t, engine, "anyone there?")
	clock.Advance(5 * time.Second)

	replies := 0
	for _, m := range store.stored(t) {
		if m.Sender == chat.SenderAgent {
			replies++
		}
	}
	if replies != 2 {
		t.Fatalf("expected a second reply after the quiet period, got %d", replies)
	}
}

func TestAutoReplySkippedWhenAgentAnsweredRecently(t *testing.T) {
	clock := newFakeClock()
	recent := chat.New("1", chat.SenderAgent, "Customer Support Agent", "Hi, how can I help?", clock.Now().Add(-time.Hour))
	store := newHookStore(recent)
	engine := newCustomerEngine(store, clock)
	defer engine.Close()

	if err := engine.Load(context.Background()); err != nil {
		t.Fatalf("Load err: %v", err)
	}
	// The first send of a session always gets an acknowledgement.
	sendAndWait(t, engine, "first")
	clock.Advance(5 * time.Second)
	sendAndWait(t, engine, "second")
	clock.Advance(5 * time.Second)

	if got := len(store.stored(t)); got != 4 {
		t.Fatalf("expected agent, first, reply, second; got %d messages", got)
	}
}

func TestAgentSurfaceNeverAutoReplies(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	engine := chatsync.New(store, testKey,
		chatsync.WithRole(chat.SenderAgent),
		chatsync.WithClock(clock),
		chatsync.WithAutoReply(chatsync.DefaultAutoReply()),
	)
	defer engine.Close()

	sendAndWait(t, engine, "we fixed it")
	clock.Advance(5 * time.Second)
	if got := len(store.stored(t)); got != 1 {
		t.Fatalf("expected only the agent message, got %d", got)
	}
}

func TestAutoReplyUsesComposer(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	composer := chatsync.ComposerFunc(func(_ context.Context, history []chat.Message) (string, error) {
		return "We got your message about: " + history[len(history)-1].Text, nil
	})
	engine := newCustomerEngine(store, clock, chatsync.WithComposer(composer))
	defer engine.Close()

	sendAndWait(t, engine, "refund")
	clock.Advance(5 * time.Second)

	stored := store.stored(t)
	if len(stored) != 2 || stored[1].Text != "We got your message about: refund" {
		t.Fatalf("unexpected stored messages %+v", stored)
	}
}

func TestAutoReplyComposerFailureFallsBack(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	composer := chatsync.ComposerFunc(func(context.Context, []chat.Message) (string, error) {
		return "", errors.New("model unavailable")
	})
	engine := newCustomerEngine(store, clock, chatsync.WithComposer(composer))
	defer engine.Close()

	sendAndWait(t, engine, "refund")
	clock.Advance(5 * time.Second)

	stored := store.stored(t)
	if len(stored) != 2 || stored[1].Text != chatsync.DefaultReplyText {
		t.Fatalf("unexpected stored messages %+v", stored)
	}
}

func TestAutoReplyCancelledWhenTriggerFails(t *testing.T) {
	store := newHookStore()
	store.beforeAppend = func() error { return errors.New("write timeout") }
	clock := newFakeClock()
	engine := newCustomerEngine(store, clock)
	defer engine.Close()

	d, err := engine.Send(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Send err: %v", err)
	}
	if err := waitDelivery(t, d); err == nil {
		t.Fatal("expected persistence error")
	}
	clock.Advance(5 * time.Second)
	if got := engine.Messages(); len(got) != 0 {
		t.Fatalf("expected empty view after failed trigger, got %+v", got)
	}
}

func TestCloseCancelsPendingReply(t *testing.T) {
	store := newHookStore()
	clock := newFakeClock()
	engine := newCustomerEngine(store, clock)
	rec := &recorder{}
	engine.On(rec.handle)

	sendAndWait(t, engine, "hello")
	clock.Advance(time.Second)
	before := rec.count(chatsync.EventMessagesChanged)

	engine.Close()
	clock.Advance(5 * time.Second)

	if got := len(store.stored(t)); got != 1 {
		t.Fatalf("reply persisted after Close, got %d messages", got)
	}
	if rec.count(chatsync.EventMessagesChanged) != before {
		t.Fatal("observers notified after Close")
	}
}
