package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, invoice := range store.DemoInvoices(base) {
		if err := s.CreateInvoice(ctx, invoice); err != nil {
			t.Fatalf("seed %s: %v", invoice.ID, err)
		}
	}
	return s
}

func returnFor(id string, number string, qty int, at time.Time) domain.ReturnRecord {
	price := decimal.RequireFromString("100.00")
	tax := decimal.RequireFromString("12")
	subtotal := price.Mul(decimal.NewFromInt(int64(qty))).Mul(decimal.RequireFromString("1.12"))
	return domain.ReturnRecord{
		ID:           id,
		ReturnNumber: number,
		InvoiceID:    "INV-100",
		Lines: []domain.ReturnLineEntry{
			{LineID: "INV-100-1", ProductID: "OBT-PCM-500", ProductName: "Paracetamol 500mg (strip 10)", Qty: qty, UnitPrice: price, TaxRatePercent: tax, Subtotal: subtotal},
		},
		TotalRefund: subtotal.Round(2),
		Reason:      domain.NewReason(domain.ReasonDamage, ""),
		Evidence:    "0b5cf3c4-8f43-4a52-9a57-2d4c7b0f7a10.pdf",
		Status:      domain.ReturnStatusAwaitingReconciliation,
		CreatedAt:   at,
	}
}

func TestInvoiceRoundTripKeepsDecimals(t *testing.T) {
	s := newTestStore(t)
	invoice, err := s.FindInvoice(context.Background(), "INV-102")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(invoice.Lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(invoice.Lines))
	}
	if !invoice.Lines[0].UnitPrice.Equal(decimal.RequireFromString("0.333")) {
		t.Fatalf("expected exact price 0.333, got %s", invoice.Lines[0].UnitPrice)
	}

	if _, err := s.FindInvoice(context.Background(), "INV-999"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	found, err := s.SearchInvoices(context.Background(), "SITI", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != "INV-101" {
		t.Fatalf("expected case-insensitive match on INV-101, got %+v", found)
	}
}

func TestCreateReturnEnforcesCumulativeQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	created, err := s.CreateReturn(ctx, returnFor("ret-1", "RET-20260302-AAAA0001", 4, at))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.TotalRefund.Equal(decimal.RequireFromString("448")) {
		t.Fatalf("expected 448, got %s", created.TotalRefund)
	}

	if _, err := s.CreateReturn(ctx, returnFor("ret-2", "RET-20260302-AAAA0002", 2, at)); !errors.Is(err, store.ErrOverReturn) {
		t.Fatalf("expected over-return, got %v", err)
	}
	if _, err := s.CreateReturn(ctx, returnFor("ret-3", "RET-20260302-AAAA0001", 1, at)); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate return number, got %v", err)
	}

	if _, err := s.UpdateReturnStatus(ctx, "ret-1", domain.ReturnStatusVoided, "wrong invoice", at.Add(time.Hour)); err != nil {
		t.Fatalf("void: %v", err)
	}
	if _, err := s.CreateReturn(ctx, returnFor("ret-4", "RET-20260302-AAAA0004", 5, at)); err != nil {
		t.Fatalf("expected voided quantities to be released, got %v", err)
	}
}

func TestGetReturnByIDOrNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 10, 0, 0, 123456789, time.UTC)
	if _, err := s.CreateReturn(ctx, returnFor("ret-1", "RET-20260302-BBBB0001", 2, at)); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, key := range []string{"ret-1", "RET-20260302-BBBB0001"} {
		record, err := s.GetReturn(ctx, key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if !record.CreatedAt.Equal(at) {
			t.Fatalf("expected nanosecond timestamp %s, got %s", at, record.CreatedAt)
		}
		if len(record.Lines) != 1 || !record.Lines[0].Subtotal.Equal(decimal.RequireFromString("224")) {
			t.Fatalf("unexpected lines %+v", record.Lines)
		}
		if record.Reason.Code != domain.ReasonDamage || record.Status != domain.ReturnStatusAwaitingReconciliation {
			t.Fatalf("unexpected record %+v", record)
		}
	}
}

func TestQueryReturnsFiltersAndPages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record := returnFor("ret-"+string(rune('a'+i)), "RET-20260301-CCCC000"+string(rune('1'+i)), 1, base.Add(time.Duration(i)*time.Hour))
		if _, err := s.CreateReturn(ctx, record); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	records, total, err := s.QueryReturns(ctx, domain.ReturnFilter{Keyword: "WALK"}, 0, 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 5 || len(records) != 2 {
		t.Fatalf("expected 2 of 5, got %d of %d", len(records), total)
	}
	if records[0].ID != "ret-e" || records[1].ID != "ret-d" {
		t.Fatalf("expected newest first, got %s, %s", records[0].ID, records[1].ID)
	}

	start := base.Add(time.Hour)
	end := base.Add(3 * time.Hour)
	records, total, err = s.QueryReturns(ctx, domain.ReturnFilter{Start: &start, End: &end}, 0, 10)
	if err != nil {
		t.Fatalf("query range: %v", err)
	}
	if total != 3 || len(records) != 3 {
		t.Fatalf("expected inclusive range to match 3, got %d", total)
	}

	records, total, err = s.QueryReturns(ctx, domain.ReturnFilter{Keyword: "100%"}, 0, 10)
	if err != nil {
		t.Fatalf("query escaped: %v", err)
	}
	if total != 0 || len(records) != 0 {
		t.Fatalf("expected literal %% to match nothing, got %d", total)
	}

	records, _, err = s.QueryReturns(ctx, domain.ReturnFilter{}, 10, 5)
	if err != nil {
		t.Fatalf("query past end: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected an empty page past the end, got %d", len(records))
	}
}

func TestClearAllReturnsAndAudit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()
	if _, err := s.CreateReturn(ctx, returnFor("ret-1", "RET-X-1", 1, at)); err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := s.ClearAllReturns(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	returned, err := s.GetReturnedQtyByInvoice(ctx, "INV-100")
	if err != nil {
		t.Fatalf("returned qty: %v", err)
	}
	if len(returned) != 0 {
		t.Fatalf("expected no returned quantity after clear, got %v", returned)
	}

	if err := s.CreateAuditLog(ctx, domain.AuditLog{ActorUsername: "admin", ActorRole: domain.RoleAdmin, Action: "returns_clear_all", EntityType: "return", EntityID: "*", CreatedAt: at}); err != nil {
		t.Fatalf("audit: %v", err)
	}
	logs, err := s.ListAuditLogs(ctx, at.Add(-time.Minute), at.Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "returns_clear_all" {
		t.Fatalf("unexpected audit logs %+v", logs)
	}
}

func TestUsersUpgradePath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.CreateUser(ctx, domain.UserAccount{Username: " Finance ", Password: "plain", Role: domain.RoleFinance, Active: true}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "finance", Password: "again", Active: true}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate user, got %v", err)
	}
	if err := s.UpdateUserPassword(ctx, "finance", "$2a$10$hash"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Password != "$2a$10$hash" || !users[0].Active {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestKeywordMatchingFoldsNonASCII(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	err := s.CreateInvoice(ctx, domain.SourceInvoice{
		ID:           "INV-200",
		CustomerName: "Ömer Şahin",
		CreatedAt:    at,
		Lines: []domain.SourceLineItem{
			{ID: "INV-200-1", ProductID: "OBT-PCM-500", ProductName: "Paracetamol 500mg (strip 10)", UnitPrice: decimal.RequireFromString("100.00"), TaxRatePercent: decimal.RequireFromString("12"), Qty: 5},
		},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	found, err := s.SearchInvoices(ctx, "ömer", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != "INV-200" {
		t.Fatalf("expected INV-200 for a lowercase non-ASCII keyword, got %+v", found)
	}

	record := returnFor("ret-omer", "RET-20260303-DDDD0001", 1, at)
	record.InvoiceID = "INV-200"
	record.CustomerName = "Ömer Şahin"
	record.Lines[0].LineID = "INV-200-1"
	if _, err := s.CreateReturn(ctx, record); err != nil {
		t.Fatalf("create return: %v", err)
	}
	for _, keyword := range []string{"ömer", "şahin", "ÖMER"} {
		filter := domain.ReturnFilter{Keyword: keyword}
		records, total, err := s.QueryReturns(ctx, filter, 0, 10)
		if err != nil {
			t.Fatalf("query %q: %v", keyword, err)
		}
		if total != 1 || len(records) != 1 || !filter.Matches(records[0]) {
			t.Fatalf("keyword %q: expected the same match as the in-memory filter, got total=%d", keyword, total)
		}
	}
}
