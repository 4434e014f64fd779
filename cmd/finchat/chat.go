package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/finpulse/backend/internal/config"
	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
	"github.com/zhouzirui/finpulse/backend/internal/service/ai"
	"github.com/zhouzirui/finpulse/backend/internal/service/chatsync"
	"github.com/zhouzirui/finpulse/backend/internal/telemetry"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [customer-email]",
	Short: "Open a support conversation",
	Long: "Customers open their own conversation. Agents name the customer to answer.\n" +
		"Type a line to send it, /read to mark the conversation read, /quit to leave.",
	Args: cobra.MaximumNArgs(1),
	RunE: withApp(runChat),
}

func runChat(cmd *cobra.Command, a *app, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := a.restore(ctx); err != nil {
		return err
	}
	me, err := a.session.User()
	if err != nil {
		return err
	}
	role := a.session.Role()

	key := me.Key()
	if role == chat.SenderAgent {
		if len(args) == 0 {
			return errors.New("agents must name the customer, e.g. 'finchat chat jane.doe@example.com'")
		}
		key = args[0]
	} else if len(args) == 1 && !strings.EqualFold(args[0], me.Email) {
		return errors.New("customers can only open their own conversation")
	}

	interval, _ := a.cfg.pollInterval()
	mode, _ := a.cfg.writeMode()
	client := a.client()

	opts := []chatsync.Option{
		chatsync.WithRole(role),
		chatsync.WithSenderName(me.Name),
		chatsync.WithLogger(a.logger),
		chatsync.WithWriteMode(mode),
	}

	env, envErr := config.Load()
	if envErr != nil {
		a.logger.Warn("environment configuration ignored", "error", envErr)
	}
	if envErr == nil && env.Log.OTelEnabled {
		cleanup, err := telemetry.InitTelemetry(ctx, a.cfg.LogDir, "finchat")
		if err != nil {
			a.logger.Warn("telemetry disabled", "error", err)
		} else {
			defer cleanup()
		}
	}
	if role == chat.SenderUser {
		policy := chatsync.DefaultAutoReply()
		if envErr == nil {
			policy = env.Sync.AutoReply
		}
		opts = append(opts, chatsync.WithAutoReply(policy))
		if envErr == nil && env.AI.Enabled() {
			if composer := newComposer(ctx, a, env.AI); composer != nil {
				opts = append(opts, chatsync.WithComposer(composer))
			}
		}
	}

	engine := chatsync.New(client, key, opts...)
	defer engine.Close()

	out := cmd.OutOrStdout()
	view := newTranscript(out)
	engine.On(func(ev chatsync.Event) {
		view.handle(ev)
		if ev.Type == chatsync.EventMessagesChanged && role == chat.SenderUser {
			if err := a.session.MirrorMessages(context.Background(), ev.Messages); err != nil {
				a.logger.Warn("mirror messages failed", "error", err)
			}
		}
	})

	fmt.Fprintf(out, "Connected to %s as %s. /quit to leave.\n", a.cfg.Server, me.Name)
	if err := engine.Load(ctx); err != nil {
		if errors.Is(err, chatsync.ErrSessionUnavailable) && role == chat.SenderUser {
			fmt.Fprintln(out, "(offline, showing the last saved conversation)")
			view.render(me.Messages)
		}
	}
	if role == chat.SenderAgent {
		if _, err := client.MarkRead(ctx, key); err != nil {
			a.logger.Warn("mark read failed", "key", key, "error", err)
		}
	}
	engine.StartPolling(interval)

	return readLoop(ctx, cmd.InOrStdin(), func(line string) bool {
		switch line {
		case "":
			return true
		case "/quit", "/exit":
			return false
		case "/read":
			if _, err := client.MarkRead(ctx, key); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			return true
		}
		if _, err := engine.Send(ctx, line); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
		return true
	})
}

// readLoop feeds trimmed input lines to handle until it returns false, input
// ends or ctx is cancelled.
func readLoop(ctx context.Context, in io.Reader, handle func(string) bool) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			if !handle(line) {
				return nil
			}
		}
	}
}

func newComposer(ctx context.Context, a *app, cfg config.AIConfig) chatsync.Composer {
	profile, ok := agent.NewMemoryStore(agent.Seed()).FindByID(agent.AutoReplyID)
	if !ok {
		return nil
	}
	composer, err := ai.NewComposer(ctx, cfg, profile, a.logger)
	if err != nil {
		a.logger.Warn("AI composer unavailable, using canned replies", "error", err)
		return nil
	}
	a.logger.Info("AI composer enabled", "model", cfg.Model)
	return composer
}

// transcript prints conversation changes as they arrive. Messages are
// printed once; the typing indicator is announced when it appears.
type transcript struct {
	mu      sync.Mutex
	out     io.Writer
	seen    map[string]struct{}
	lastSeq uint64
	typing  bool
}

func newTranscript(out io.Writer) *transcript {
	return &transcript{out: out, seen: make(map[string]struct{})}
}

func (t *transcript) handle(ev chatsync.Event) {
	switch ev.Type {
	case chatsync.EventMessagesChanged:
		t.mu.Lock()
		if ev.Seq <= t.lastSeq {
			t.mu.Unlock()
			return
		}
		t.lastSeq = ev.Seq
		t.mu.Unlock()
		t.render(ev.Messages)
	case chatsync.EventSendFailed:
		text := ""
		if ev.Message != nil {
			text = ev.Message.Text
		}
		fmt.Fprintf(t.out, "! not delivered: %q (%v)\n", text, ev.Err)
	case chatsync.EventLoadDegraded:
		fmt.Fprintf(t.out, "! conversation unavailable: %v\n", ev.Err)
	}
}

func (t *transcript) render(msgs []chat.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	typing := false
	for _, m := range msgs {
		if m.Sender == chat.SenderTyping {
			typing = true
			if !t.typing {
				fmt.Fprintf(t.out, "  %s is typing...\n", displayName(m))
			}
			continue
		}
		id := messageKey(m)
		if _, ok := t.seen[id]; ok {
			continue
		}
		t.seen[id] = struct{}{}
		fmt.Fprintf(t.out, "[%s] %s: %s\n", m.Time, displayName(m), m.Text)
	}
	t.typing = typing
}

// messageKey identifies a message across the local id it is staged with and
// the id the server may assign.
func messageKey(m chat.Message) string {
	if m.Timestamp != 0 {
		return fmt.Sprintf("%s|%d|%s", m.Sender, m.Timestamp, m.Text)
	}
	return fmt.Sprintf("%s|%s|%s|%s", m.Sender, m.ID, m.Time, m.Text)
}

func displayName(m chat.Message) string {
	if m.Name != "" {
		return m.Name
	}
	switch m.Sender {
	case chat.SenderAgent, chat.SenderTyping:
		return "Support"
	}
	return "Customer"
}
