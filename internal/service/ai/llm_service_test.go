package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

type fakeModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeModel) BindTools([]*schema.ToolInfo) error { return nil }

func emma(t *testing.T) agent.Profile {
	t.Helper()
	p, ok := agent.NewMemoryStore(agent.Seed()).FindByID(agent.AutoReplyID)
	if !ok {
		t.Fatal("auto-reply profile missing")
	}
	return p
}

func TestComposeBuildsPromptFromHistory(t *testing.T) {
	fake := &fakeModel{reply: "  Thanks, Jane! An agent will look at your card shortly.  "}
	c, err := NewComposerWithModel(context.Background(), fake, emma(t), 2, nil)
	if err != nil {
		t.Fatalf("NewComposerWithModel err: %v", err)
	}

	history := []chat.Message{
		{ID: "1", Sender: chat.SenderAgent, Text: "Welcome"},
		{ID: "2", Sender: chat.SenderUser, Text: "hello"},
		{ID: "3", Sender: chat.SenderAgent, Text: "hi!"},
		{ID: "4", Sender: chat.SenderUser, Text: "my card was declined"},
		{ID: "typing-1", Sender: chat.SenderTyping},
	}
	text, err := c.Compose(context.Background(), history)
	if err != nil {
		t.Fatalf("Compose err: %v", err)
	}
	if text != "Thanks, Jane! An agent will look at your card shortly." {
		t.Fatalf("unexpected reply %q", text)
	}

	// system + two history messages + query
	if len(fake.input) != 4 {
		t.Fatalf("expected 4 prompt messages, got %d", len(fake.input))
	}
	if fake.input[0].Role != schema.System || !strings.Contains(fake.input[0].Content, "Emma Thompson") {
		t.Fatalf("unexpected system message %+v", fake.input[0])
	}
	if fake.input[1].Content != "hello" || fake.input[2].Role != schema.Assistant {
		t.Fatalf("unexpected history %+v %+v", fake.input[1], fake.input[2])
	}
	if fake.input[3].Role != schema.User || fake.input[3].Content != "my card was declined" {
		t.Fatalf("unexpected query %+v", fake.input[3])
	}
}

func TestComposeErrors(t *testing.T) {
	fake := &fakeModel{err: errors.New("quota exceeded")}
	c, err := NewComposerWithModel(context.Background(), fake, emma(t), 0, nil)
	if err != nil {
		t.Fatalf("NewComposerWithModel err: %v", err)
	}

	if _, err := c.Compose(context.Background(), []chat.Message{{ID: "1", Sender: chat.SenderAgent, Text: "hi"}}); !errors.Is(err, ErrNoCustomerMessage) {
		t.Fatalf("expected ErrNoCustomerMessage, got %v", err)
	}
	if _, err := c.Compose(context.Background(), []chat.Message{{ID: "1", Sender: chat.SenderUser, Text: "hi"}}); err == nil {
		t.Fatal("expected model error")
	}

	fake.err, fake.reply = nil, "   "
	if _, err := c.Compose(context.Background(), []chat.Message{{ID: "1", Sender: chat.SenderUser, Text: "hi"}}); err == nil {
		t.Fatal("expected error for empty reply")
	}
}

func TestBuildSystemPromptFallback(t *testing.T) {
	pm := NewPromptManager()
	custom := agent.Profile{ID: "night-shift", Name: "Sam", Title: "Night Agent", Tone: "calm", PromptHint: "Be brief."}
	got := pm.BuildSystemPrompt(custom)
	if !strings.Contains(got, "You are Sam, Night Agent") || !strings.Contains(got, "Be brief.") {
		t.Fatalf("unexpected fallback prompt %q", got)
	}
	if _, err := pm.Template("night-shift"); err == nil {
		t.Fatal("expected missing template error")
	}
}
