package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/finpulse/backend/internal/model/agent"
)

// PromptTemplate holds the instructions for one support agent profile.
type PromptTemplate struct {
	SystemPrompt string
	Hints        []string
	Rules        []string
}

// PromptManager maps agent profiles to prompt templates.
type PromptManager struct {
	templates map[string]*PromptTemplate
}

// NewPromptManager returns a manager with the built-in templates loaded.
func NewPromptManager() *PromptManager {
	pm := &PromptManager{templates: make(map[string]*PromptTemplate)}
	pm.loadDefaultTemplates()
	return pm
}

// Template returns the template registered for profileID.
func (pm *PromptManager) Template(profileID string) (*PromptTemplate, error) {
	tpl, ok := pm.templates[profileID]
	if !ok {
		return nil, fmt.Errorf("prompt template not found for agent: %s", profileID)
	}
	return tpl, nil
}

// BuildSystemPrompt renders the system prompt for p, falling back to a
// generic one for profiles without a template.
func (pm *PromptManager) BuildSystemPrompt(p agent.Profile) string {
	tpl, err := pm.Template(p.ID)
	if err != nil {
		return buildBasicSystemPrompt(p)
	}

	return fmt.Sprintf(`%s

Agent:
- Name: %s
- Role: %s
- Tone: %s

Style:
- %s

Rules:
- %s

Reply in one or two short sentences, in the customer's language. Greeting for reference: %s`,
		tpl.SystemPrompt,
		p.Name,
		p.Title,
		p.Tone,
		strings.Join(tpl.Hints, "\n- "),
		strings.Join(tpl.Rules, "\n- "),
		p.Greeting,
	)
}

func buildBasicSystemPrompt(p agent.Profile) string {
	return fmt.Sprintf(`You are %s, %s at a personal finance app's customer support desk.

- Tone: %s
- Guidance: %s

Reply in one or two short sentences, in the customer's language.`,
		p.Name,
		p.Title,
		p.Tone,
		p.PromptHint,
	)
}

func (pm *PromptManager) loadDefaultTemplates() {
	pm.templates[agent.AutoReplyID] = &PromptTemplate{
		SystemPrompt: `You acknowledge customer messages on behalf of the support team of a personal finance app while a human agent is not yet available.`,
		Hints: []string{
			"Thank the customer and restate their request in a few words",
			"Say that an agent will review the request and respond shortly",
			"Stay warm and calm, especially when the customer is worried about money",
		},
		Rules: []string{
			"Never promise refunds, reversals or any specific outcome",
			"Never ask for passwords, card numbers or one-time codes",
			"Do not answer account-specific questions yourself",
		},
	}

	pm.templates[agent.DeskID] = &PromptTemplate{
		SystemPrompt: `You are the support desk of a personal finance app, answering questions about transactions, balances and spending categories.`,
		Hints: []string{
			"Answer directly and point to the relevant screen of the app",
			"Keep a professional, friendly tone",
		},
		Rules: []string{
			"Never ask for passwords, card numbers or one-time codes",
			"Escalate disputes and suspected fraud to a human agent",
		},
	}
}
