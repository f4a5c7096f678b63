package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"apotekita/backend/internal/domain"
)

// DemoInvoices is the sample sales data used by the in-memory store and by
// `returnsctl seed`.
func DemoInvoices(now time.Time) []domain.SourceInvoice {
	day := func(offset int) time.Time {
		return now.UTC().AddDate(0, 0, -offset).Truncate(time.Minute)
	}
	d := decimal.RequireFromString
	return []domain.SourceInvoice{
		{
			ID:        "INV-100",
			CreatedAt: day(3),
			Lines: []domain.SourceLineItem{
				{ID: "INV-100-1", ProductID: "OBT-PCM-500", ProductName: "Paracetamol 500mg (strip 10)", UnitPrice: d("100.00"), TaxRatePercent: d("12"), Qty: 5},
			},
		},
		{
			ID:           "INV-101",
			CustomerID:   "CUS-0007",
			CustomerName: "Siti Rahmawati",
			CreatedAt:    day(2),
			Lines: []domain.SourceLineItem{
				{ID: "INV-101-1", ProductID: "OBT-AMX-500", ProductName: "Amoxicillin 500mg", UnitPrice: d("18500.00"), TaxRatePercent: d("11"), Qty: 3},
				{ID: "INV-101-2", ProductID: "OBT-VTC-1000", ProductName: "Vitamin C 1000mg", UnitPrice: d("42000.00"), TaxRatePercent: d("11"), Qty: 1},
				{ID: "INV-101-3", ProductID: "ALK-MSK-3P", ProductName: "Masker Medis 3-ply", UnitPrice: d("1250.50"), TaxRatePercent: d("0"), Qty: 20},
			},
		},
		{
			ID:           "INV-102",
			CustomerID:   "CUS-0012",
			CustomerName: "Budi Santoso",
			CreatedAt:    day(1),
			Lines: []domain.SourceLineItem{
				{ID: "INV-102-1", ProductID: "OBT-ORS-200", ProductName: "Oralit 200ml", UnitPrice: d("0.333"), TaxRatePercent: d("0"), Qty: 3},
				{ID: "INV-102-2", ProductID: "OBT-ORS-201", ProductName: "Oralit Rasa Jeruk", UnitPrice: d("0.333"), TaxRatePercent: d("0"), Qty: 3},
				{ID: "INV-102-3", ProductID: "OBT-ORS-202", ProductName: "Oralit Anak", UnitPrice: d("0.333"), TaxRatePercent: d("0"), Qty: 3},
			},
		},
		{
			ID:        "INV-110",
			CreatedAt: day(0),
			Lines: []domain.SourceLineItem{
				{ID: "INV-110-1", ProductID: "ALK-TRM-DIG", ProductName: "Termometer Digital", UnitPrice: d("35000.00"), TaxRatePercent: d("11"), Qty: 1},
				{ID: "INV-110-2", ProductID: "OBT-BTD-60", ProductName: "Betadine 60ml", UnitPrice: d("27500.00"), TaxRatePercent: d("11"), Qty: 2},
			},
		},
	}
}

// DemoUsers returns one account per role with plaintext passwords read from
// SEED_*_PASSWORD via getenv. usedDefaults is true when any password fell
// back to the development default.
func DemoUsers(getenv func(string) string) (users []domain.UserAccount, usedDefaults bool) {
	seeds := []struct {
		username string
		envKey   string
		fallback string
		role     string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin123", domain.RoleAdmin},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", domain.RoleCashier},
		{"finance", "SEED_FINANCE_PASSWORD", "finance123", domain.RoleFinance},
	}
	for _, seed := range seeds {
		password := getenv(seed.envKey)
		if password == "" {
			password = seed.fallback
			usedDefaults = true
		}
		users = append(users, domain.UserAccount{
			Username: seed.username,
			Password: password,
			Role:     seed.role,
			Active:   true,
		})
	}
	return users, usedDefaults
}

// Seeder is what Seed needs from a repository.
type Seeder interface {
	InvoiceWriter
	CreateUser(ctx context.Context, user domain.UserAccount) error
}

type SeedResult struct {
	Invoices int
	Users    int
}

// Seed writes the demo invoices and the given users, skipping rows that
// already exist. Passwords are stored as given.
func Seed(ctx context.Context, repo Seeder, now time.Time, users []domain.UserAccount) (SeedResult, error) {
	var result SeedResult
	for _, invoice := range DemoInvoices(now) {
		err := repo.CreateInvoice(ctx, invoice)
		switch {
		case err == nil:
			result.Invoices++
		case errors.Is(err, ErrDuplicate):
		default:
			return result, fmt.Errorf("seed invoice %s: %w", invoice.ID, err)
		}
	}
	for _, user := range users {
		err := repo.CreateUser(ctx, user)
		switch {
		case err == nil:
			result.Users++
		case errors.Is(err, ErrDuplicate):
		default:
			return result, fmt.Errorf("seed user %s: %w", user.Username, err)
		}
	}
	return result, nil
}
