package user

import (
	"encoding/json"
	"fmt"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

// WelcomeText opens every new support conversation.
const WelcomeText = "Hi there! Welcome to Our Support. How can I help you today?"

// DecodeFixtures parses the JSON fixture file (an array of users).
func DecodeFixtures(raw []byte) ([]Fixture, error) {
	var items []Fixture
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decode fixtures: %v", ErrInvalid, err)
	}
	return items, nil
}

// DemoPassword is the plain password of the Seed accounts. Seeding hashes it.
const DemoPassword = "finpulse-demo"

// Seed provides demo accounts for a store started without fixtures.
func Seed() []User {
	return []User{
		{
			Email:        "jane.doe@example.com",
			Password:     DemoPassword,
			Name:         "Jane Doe",
			Avatar:       "JD",
			Type:         TypeUser,
			TotalBalance: 2450.75,
			SpendingByPeriod: SpendingByPeriod{
				Day: 42.5, Week: 310.2, Month: 1240.8, Year: 9800,
			},
			Categories: []Category{
				{Name: "Shopping", Color: "#7C3AED", Percentage: 15},
				{Name: "Food", Color: "#EF4444", Percentage: 22},
				{Name: "Entertainment", Color: "#3B82F6", Percentage: 8},
				{Name: "Housing", Color: "#F59E0B", Percentage: 35},
				{Name: "Others", Color: "#10B981", Percentage: 20},
			},
			Transactions: []Transaction{
				{ID: 1, Amount: 3200, Category: "Salary", Description: "Monthly salary", IsPositive: true, Date: "2025-05-01"},
				{ID: 2, Amount: 120.4, Category: "Food", Description: "Groceries", Date: "2025-05-03"},
				{ID: 3, Amount: 900, Category: "Housing", Description: "Rent", Date: "2025-05-05"},
			},
			Messages: []chat.Message{
				{ID: "1", Sender: chat.SenderAgent, Name: "Emma Thompson", Text: WelcomeText, Time: "09:00"},
			},
		},
		{
			Email:    "support@example.com",
			Password: DemoPassword,
			Name:     "Customer Support Agent",
			Avatar:   "CS",
			Type:     TypeAgent,
			Messages: []chat.Message{},
		},
	}
}
