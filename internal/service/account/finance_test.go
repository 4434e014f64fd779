package account_test

import (
	"testing"
	"time"

	"github.com/zhouzirui/finpulse/backend/internal/model/user"
	"github.com/zhouzirui/finpulse/backend/internal/service/account"
)

func TestSpendingWindows(t *testing.T) {
	// Wednesday; the week started on Sunday 2025-06-08.
	now := time.Date(2025, 6, 11, 15, 30, 0, 0, time.UTC)
	txs := []user.Transaction{
		{Amount: 10, Date: "2025-06-11"},
		{Amount: 20, Date: "2025-06-08"},
		{Amount: 40, Date: "2025-06-07"},
		{Amount: 80, Date: "2025-01-02"},
		{Amount: 160, Date: "2024-12-31"},
		{Amount: 999, Date: "2025-06-11", IsPositive: true},
		{Amount: 5, Date: "not a date"},
	}

	got := account.Spending(txs, now)
	want := user.SpendingByPeriod{Day: 10, Week: 30, Month: 70, Year: 150}
	if got != want {
		t.Fatalf("Spending = %+v, want %+v", got, want)
	}
}

func TestCategorySharesWithoutExpenses(t *testing.T) {
	cats := account.CategoryShares(user.DefaultCategories(), []user.Transaction{{Amount: 50, IsPositive: true}})
	for _, c := range cats {
		want := 0
		if c.Name == "Others" {
			want = 100
		}
		if c.Percentage != want {
			t.Fatalf("%s = %d, want %d", c.Name, c.Percentage, want)
		}
	}
}

func TestCategorySharesRounding(t *testing.T) {
	txs := []user.Transaction{
		{Amount: 1, Category: "Food"},
		{Amount: 1, Category: "Shopping"},
		{Amount: 1, Category: ""},
	}
	cats := account.CategoryShares(user.DefaultCategories(), txs)
	shares := map[string]int{}
	for _, c := range cats {
		shares[c.Name] = c.Percentage
	}
	if shares["Food"] != 33 || shares["Shopping"] != 33 || shares["Others"] != 33 || shares["Housing"] != 0 {
		t.Fatalf("unexpected shares %v", shares)
	}
	if account.Balance(txs) != -3 {
		t.Fatalf("unexpected balance %v", account.Balance(txs))
	}
}
