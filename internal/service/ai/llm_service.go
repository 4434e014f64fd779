// Package ai composes automatic support replies with an Ark chat model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/finpulse/backend/internal/config"
	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

var ErrNoCustomerMessage = errors.New("conversation has no customer message")

// DefaultTimeout bounds one model call so the typing indicator does not hang.
const DefaultTimeout = 8 * time.Second

// Composer writes auto-reply text for a support agent profile. It satisfies
// chatsync.Composer.
type Composer struct {
	profile      agent.Profile
	system       string
	historyLimit int
	timeout      time.Duration
	chain        compose.Runnable[map[string]any, *schema.Message]
	logger       *slog.Logger
}

// NewComposer creates a composer backed by the configured Ark model.
func NewComposer(ctx context.Context, cfg config.AIConfig, profile agent.Profile, logger *slog.Logger) (*Composer, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewComposerWithModel(ctx, chatModel, profile, cfg.HistorySize, logger)
}

// NewComposerWithModel builds the prompt chain around chatModel.
func NewComposerWithModel(ctx context.Context, chatModel model.ChatModel, profile agent.Profile, historyLimit int, logger *slog.Logger) (*Composer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit < 1 {
		historyLimit = 6
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reply chain: %w", err)
	}

	return &Composer{
		profile:      profile,
		system:       NewPromptManager().BuildSystemPrompt(profile),
		historyLimit: historyLimit,
		timeout:      DefaultTimeout,
		chain:        runnable,
		logger:       logger.With("component", "ai", "agent", profile.ID),
	}, nil
}

// Compose asks the model to acknowledge the latest customer message.
func (c *Composer) Compose(ctx context.Context, history []chat.Message) (string, error) {
	input, err := c.buildChainInput(history)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	response, err := c.chain.Invoke(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to run reply chain: %w", err)
	}
	text := strings.TrimSpace(response.Content)
	if text == "" {
		return "", errors.New("model returned an empty reply")
	}

	c.logger.Info("reply composed", "length", len(text), "elapsed", time.Since(start))
	return text, nil
}

// buildChainInput splits history into the prompt variables. The latest
// customer message becomes the query; earlier messages become history.
func (c *Composer) buildChainInput(messages []chat.Message) (map[string]any, error) {
	last := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender == chat.SenderUser {
			last = i
			break
		}
	}
	if last < 0 {
		return nil, ErrNoCustomerMessage
	}

	return map[string]any{
		"system":  c.system,
		"history": c.buildHistoryMessages(messages[:last]),
		"query":   messages[last].Text,
	}, nil
}

func (c *Composer) buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := max(len(messages)-c.historyLimit, 0)
	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderUser:
			history = append(history, schema.UserMessage(msg.Text))
		case chat.SenderAgent:
			history = append(history, schema.AssistantMessage(msg.Text, nil))
		}
	}
	return history
}
