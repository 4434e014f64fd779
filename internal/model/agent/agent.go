package agent

// Profile describes a support agent identity as shown to customers.
type Profile struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Tone       string   `json:"tone"`
	PromptHint string   `json:"promptHint"`
	Greeting   string   `json:"greeting"`
	Expertise  []string `json:"expertise,omitempty"`
}

// DefaultAgentName signs greetings and automatic acknowledgements.
const DefaultAgentName = "Emma Thompson"

// AutoReplyID is the profile that answers customers while no human agent has.
const AutoReplyID = "emma-thompson"

// DeskID is the profile the agent console sends as.
const DeskID = "support-desk"

// Seed provides the built-in support profiles.
func Seed() []Profile {
	return []Profile{
		{
			ID:         AutoReplyID,
			Name:       DefaultAgentName,
			Title:      "Support Specialist",
			Tone:       "warm, concise, reassuring",
			PromptHint: "Acknowledge the request, set the expectation that an agent will follow up, and never promise a resolution.",
			Greeting:   "Hi there! Welcome to Our Support. How can I help you today?",
			Expertise:  []string{"accounts", "transactions", "budgeting"},
		},
		{
			ID:         DeskID,
			Name:       "Customer Support Agent",
			Title:      "Support Desk",
			Tone:       "professional, friendly",
			PromptHint: "Answer account and finance questions directly.",
			Greeting:   "Hello, this is the support desk. How can we help?",
		},
	}
}
