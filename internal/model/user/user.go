package user

import (
	"strings"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/chat"
)

// Type separates customers from support staff.
type Type string

const (
	TypeUser  Type = "user"
	TypeAgent Type = "agent"
)

// SpendingByPeriod holds expense totals per reporting window.
type SpendingByPeriod struct {
	Day   float64 `json:"Day"`
	Week  float64 `json:"Week"`
	Month float64 `json:"Month"`
	Year  float64 `json:"Year"`
}

// Category is one slice of the spending breakdown.
type Category struct {
	Name       string `json:"name"`
	Color      string `json:"color"`
	Percentage int    `json:"percentage"`
}

// Transaction is a single ledger entry. Date uses DateLayout.
type Transaction struct {
	ID          int64   `json:"id"`
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	IsPositive  bool    `json:"isPositive"`
	Date        string  `json:"date"`
}

// DateLayout is the format of Transaction.Date.
const DateLayout = "2006-01-02"

// User is the per-customer record. The embedded message list is the system of
// record for the support conversation; Revision increments on every message
// write and acts as the optimistic-concurrency token.
type User struct {
	ID               string           `json:"id"`
	Email            string           `json:"email"`
	Password         string           `json:"-"`
	Name             string           `json:"name"`
	Avatar           string           `json:"avatar"`
	Type             Type             `json:"type,omitempty"`
	Status           string           `json:"status,omitempty"`
	TotalBalance     float64          `json:"totalBalance"`
	SpendingByPeriod SpendingByPeriod `json:"spendingByPeriod"`
	Categories       []Category       `json:"categories"`
	Transactions     []Transaction    `json:"transactions"`
	Messages         []chat.Message   `json:"messages"`
	Revision         int64            `json:"revision"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Fixture is the on-disk shape of a user, which still carries the password.
type Fixture struct {
	User
	Password string `json:"password,omitempty"`
}

// NormalizeKey returns the case-insensitive lookup key for an email.
func NormalizeKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Key is the record's lookup key.
func (u *User) Key() string {
	return NormalizeKey(u.Email)
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Categories = append([]Category(nil), u.Categories...)
	c.Transactions = append([]Transaction(nil), u.Transactions...)
	c.Messages = append([]chat.Message(nil), u.Messages...)
	return &c
}

// DefaultCategories is the breakdown assigned to new accounts.
func DefaultCategories() []Category {
	return []Category{
		{Name: "Shopping", Color: "#7C3AED", Percentage: 0},
		{Name: "Food", Color: "#EF4444", Percentage: 0},
		{Name: "Entertainment", Color: "#3B82F6", Percentage: 0},
		{Name: "Housing", Color: "#F59E0B", Percentage: 0},
		{Name: "Others", Color: "#10B981", Percentage: 100},
	}
}

// Initials derives an avatar from a display name, "NU" when empty.
func Initials(name string) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		b.WriteRune([]rune(part)[0])
	}
	if b.Len() == 0 {
		return "NU"
	}
	return b.String()
}

// ApplyDefaults fills the fields a freshly registered account needs.
func (u *User) ApplyDefaults() {
	if strings.TrimSpace(u.Name) == "" {
		u.Name = "New User"
	}
	if u.Avatar == "" {
		u.Avatar = Initials(u.Name)
	}
	if u.Type == "" {
		u.Type = TypeUser
	}
	if len(u.Categories) == 0 {
		u.Categories = DefaultCategories()
	}
	if u.Transactions == nil {
		u.Transactions = []Transaction{}
	}
	if u.Messages == nil {
		u.Messages = []chat.Message{}
	}
}
