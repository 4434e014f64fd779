package account

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/user"
)

const othersCategory = "Others"

// TransactionInput is a new ledger entry. An empty Date means today.
type TransactionInput struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	IsPositive  bool    `json:"isPositive"`
	Date        string  `json:"date,omitempty"`
}

// AddTransaction appends an entry with the next free id.
func (s *Service) AddTransaction(ctx context.Context, key string, in TransactionInput) (*user.User, error) {
	if in.Amount <= 0 || math.IsInf(in.Amount, 0) || math.IsNaN(in.Amount) {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	date := in.Date
	if date == "" {
		date = s.now().Format(user.DateLayout)
	} else if _, err := time.Parse(user.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}

	return s.store.Update(ctx, key, func(u *user.User) error {
		var maxID int64
		for _, t := range u.Transactions {
			maxID = max(maxID, t.ID)
		}
		u.Transactions = append(u.Transactions, user.Transaction{
			ID:          maxID + 1,
			Amount:      in.Amount,
			Category:    strings.TrimSpace(in.Category),
			Description: strings.TrimSpace(in.Description),
			IsPositive:  in.IsPositive,
			Date:        date,
		})
		return nil
	})
}

// RemoveTransaction drops the entry with id. Removing an unknown id is not an
// error.
func (s *Service) RemoveTransaction(ctx context.Context, key string, id int64) (*user.User, error) {
	return s.store.Update(ctx, key, func(u *user.User) error {
		kept := u.Transactions[:0]
		for _, t := range u.Transactions {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		u.Transactions = kept
		return nil
	})
}

// RecalculateBalance sets the balance to income minus expenses.
func (s *Service) RecalculateBalance(ctx context.Context, key string) (*user.User, error) {
	return s.store.Update(ctx, key, func(u *user.User) error {
		u.TotalBalance = Balance(u.Transactions)
		return nil
	})
}

// CalculateSpendingByPeriod recomputes the expense totals for the current
// day, week, month and year.
func (s *Service) CalculateSpendingByPeriod(ctx context.Context, key string) (*user.User, error) {
	now := s.now()
	return s.store.Update(ctx, key, func(u *user.User) error {
		u.SpendingByPeriod = Spending(u.Transactions, now)
		return nil
	})
}

// UpdateCategoryPercentages recomputes each category's share of expenses.
func (s *Service) UpdateCategoryPercentages(ctx context.Context, key string) (*user.User, error) {
	return s.store.Update(ctx, key, func(u *user.User) error {
		u.Categories = CategoryShares(u.Categories, u.Transactions)
		return nil
	})
}

// RefreshAnalytics recomputes balance, spending and categories in one write.
func (s *Service) RefreshAnalytics(ctx context.Context, key string) (*user.User, error) {
	now := s.now()
	return s.store.Update(ctx, key, func(u *user.User) error {
		u.TotalBalance = Balance(u.Transactions)
		u.SpendingByPeriod = Spending(u.Transactions, now)
		u.Categories = CategoryShares(u.Categories, u.Transactions)
		return nil
	})
}

// Balance sums income and subtracts expenses.
func Balance(txs []user.Transaction) float64 {
	var total float64
	for _, t := range txs {
		if t.IsPositive {
			total += t.Amount
		} else {
			total -= t.Amount
		}
	}
	return total
}

// Spending totals expenses dated on or after the start of the day, the week
// (Sunday), the month and the year containing now. Entries with an
// unparseable date are skipped.
func Spending(txs []user.Transaction, now time.Time) user.SpendingByPeriod {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	startOfWeek := today.AddDate(0, 0, -int(now.Weekday()))
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	startOfYear := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc)

	var out user.SpendingByPeriod
	for _, t := range txs {
		if t.IsPositive {
			continue
		}
		date, err := time.ParseInLocation(user.DateLayout, t.Date, loc)
		if err != nil {
			continue
		}
		if !date.Before(today) {
			out.Day += t.Amount
		}
		if !date.Before(startOfWeek) {
			out.Week += t.Amount
		}
		if !date.Before(startOfMonth) {
			out.Month += t.Amount
		}
		if !date.Before(startOfYear) {
			out.Year += t.Amount
		}
	}
	return out
}

// CategoryShares returns categories with percentages of total expenses,
// rounded. Expenses in a category that is not listed count towards Others.
// With no expenses Others takes 100 and the rest 0.
func CategoryShares(categories []user.Category, txs []user.Transaction) []user.Category {
	amounts := make(map[string]float64, len(categories))
	for _, c := range categories {
		amounts[c.Name] = 0
	}
	var total float64
	for _, t := range txs {
		if t.IsPositive {
			continue
		}
		total += t.Amount
		if _, ok := amounts[t.Category]; ok && t.Category != "" {
			amounts[t.Category] += t.Amount
		} else {
			amounts[othersCategory] += t.Amount
		}
	}

	out := make([]user.Category, len(categories))
	for i, c := range categories {
		switch {
		case total > 0:
			c.Percentage = int(math.Round(amounts[c.Name] / total * 100))
		case c.Name == othersCategory:
			c.Percentage = 100
		default:
			c.Percentage = 0
		}
		out[i] = c
	}
	return out
}
