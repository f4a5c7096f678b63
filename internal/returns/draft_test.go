package returns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/refund"
	"apotekita/backend/internal/store"
)

type fakeFinder struct {
	invoices map[string]domain.SourceInvoice
	err      error
}

func (f *fakeFinder) FindInvoice(_ context.Context, id string) (*domain.SourceInvoice, error) {
	if f.err != nil {
		return nil, f.err
	}
	inv, ok := f.invoices[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &inv, nil
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func newFinder() *fakeFinder {
	return &fakeFinder{invoices: map[string]domain.SourceInvoice{
		"INV-100": {
			ID:        "INV-100",
			CreatedAt: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
			Lines: []domain.SourceLineItem{
				{ID: "L1", ProductID: "P-PARA", ProductName: "Paracetamol 500mg", UnitPrice: dec("100.00"), TaxRatePercent: dec("12"), Qty: 5},
			},
		},
		"INV-200": {
			ID:           "INV-200",
			CustomerName: "Siti Rahma",
			CreatedAt:    time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC),
			Lines: []domain.SourceLineItem{
				{ID: "A", ProductID: "P-AMOX", ProductName: "Amoxicillin", UnitPrice: dec("0.333"), TaxRatePercent: dec("0"), Qty: 3},
				{ID: "B", ProductID: "P-VITC", ProductName: "Vitamin C", UnitPrice: dec("0.333"), TaxRatePercent: dec("0"), Qty: 3},
				{ID: "C", ProductID: "P-ORS", ProductName: "Oralit", UnitPrice: dec("0.333"), TaxRatePercent: dec("0"), Qty: 3},
			},
		},
	}}
}

func loadedDraft(t *testing.T, invoiceID string) (*Draft, *fakeFinder) {
	t.Helper()
	finder := newFinder()
	d := NewDraft(finder)
	if err := d.LoadInvoice(context.Background(), invoiceID); err != nil {
		t.Fatalf("load invoice: %v", err)
	}
	return d, finder
}

func TestLoadInvoiceNotFoundKeepsDraft(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	if err := d.ToggleLine("L1"); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	err := d.LoadInvoice(context.Background(), "INV-404")
	if !errors.Is(err, ErrInvoiceNotFound) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected invoice not found, got %v", err)
	}
	inv, ok := d.Invoice()
	if !ok || inv.ID != "INV-100" {
		t.Fatalf("expected INV-100 to stay loaded, got %+v", inv)
	}
	if _, ok := d.Selection("L1"); !ok {
		t.Fatalf("expected selection to survive failed load")
	}
}

func TestLoadInvoiceResetsSelectionReasonAndEvidence(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	_ = d.ToggleLine("L1")
	d.SetReason(domain.Reason{Code: domain.ReasonDamage})
	d.AttachEvidence("ev-1.pdf")

	if err := d.LoadInvoice(context.Background(), "INV-200"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(d.Selections()) != 0 || d.Reason().Code != "" || !d.Evidence().IsZero() {
		t.Fatalf("expected a fresh draft, got %+v", d.View())
	}
}

func TestToggleLineAddsAndRemoves(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	if err := d.ToggleLine("L1"); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	sel, ok := d.Selection("L1")
	if !ok || sel.Qty != 1 {
		t.Fatalf("expected L1 selected at qty 1, got %+v", sel)
	}
	if err := d.ToggleLine("L1"); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if _, ok := d.Selection("L1"); ok {
		t.Fatalf("expected L1 removed")
	}
	if err := d.ToggleLine("nope"); !errors.Is(err, ErrUnknownLine) {
		t.Fatalf("expected unknown line, got %v", err)
	}
}

func TestToggleWithoutInvoice(t *testing.T) {
	d := NewDraft(newFinder())
	if err := d.ToggleLine("L1"); !errors.Is(err, ErrNoInvoice) {
		t.Fatalf("expected no invoice, got %v", err)
	}
}

func TestSetQuantityKeepsBounds(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	_ = d.ToggleLine("L1")
	if err := d.SetQuantity("L1", 3); err != nil {
		t.Fatalf("set qty: %v", err)
	}
	for _, qty := range []int{0, 6, -1} {
		if err := d.SetQuantity("L1", qty); !errors.Is(err, ErrQuantityRejected) {
			t.Fatalf("expected rejection for %d, got %v", qty, err)
		}
		if sel, _ := d.Selection("L1"); sel.Qty != 3 {
			t.Fatalf("expected qty 3 retained after %d, got %d", qty, sel.Qty)
		}
	}
	if err := d.SetQuantity("L1", 5); err != nil {
		t.Fatalf("expected upper bound accepted: %v", err)
	}
}

func TestSetQuantityOnUnselectedLine(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	if err := d.SetQuantity("L1", 2); !errors.Is(err, ErrLineNotSelected) {
		t.Fatalf("expected line not selected, got %v", err)
	}
}

func TestSelectAllMatchesFullInvoiceRefund(t *testing.T) {
	d, finder := loadedDraft(t, "INV-200")
	if err := d.SelectAll(); err != nil {
		t.Fatalf("select all: %v", err)
	}
	var lines []refund.Line
	for _, line := range finder.invoices["INV-200"].Lines {
		lines = append(lines, refund.Line{UnitPrice: line.UnitPrice, Qty: line.Qty, TaxRatePercent: line.TaxRatePercent})
	}
	want := refund.Total(lines)
	if got := d.CurrentRefundTotal(); !got.Equal(want) || !got.Equal(dec("3.00")) {
		t.Fatalf("expected %s (3.00), got %s", want, got)
	}
}

func TestClearAllKeepsReasonAndEvidence(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	_ = d.SelectAll()
	d.SetReason(domain.Reason{Code: domain.ReasonExpired})
	d.AttachEvidence("ev-1.jpg")

	d.ClearAll()
	if len(d.Selections()) != 0 {
		t.Fatalf("expected empty selection")
	}
	if d.Reason().Code != domain.ReasonExpired || d.Evidence() != "ev-1.jpg" {
		t.Fatalf("expected reason and evidence retained, got %v %v", d.Reason(), d.Evidence())
	}
	if !d.CurrentRefundTotal().IsZero() {
		t.Fatalf("expected zero total, got %s", d.CurrentRefundTotal())
	}
}

func TestSelectionFrozenAgainstSourceChanges(t *testing.T) {
	d, finder := loadedDraft(t, "INV-100")
	_ = d.ToggleLine("L1")

	inv := finder.invoices["INV-100"]
	inv.Lines[0].UnitPrice = dec("150.00")
	finder.invoices["INV-100"] = inv

	sel, _ := d.Selection("L1")
	if !sel.UnitPrice.Equal(dec("100.00")) {
		t.Fatalf("expected frozen price 100.00, got %s", sel.UnitPrice)
	}
}

func TestSetReasonDropsDetailUnlessOther(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	d.SetReason(domain.Reason{Code: domain.ReasonDamage, Detail: "box crushed"})
	if d.Reason().Detail != "" {
		t.Fatalf("expected detail dropped, got %q", d.Reason().Detail)
	}
	d.SetReason(domain.Reason{Code: domain.ReasonOther, Detail: "  wrong strength  "})
	if d.Reason().Detail != "wrong strength" {
		t.Fatalf("expected trimmed detail, got %q", d.Reason().Detail)
	}
}

func TestViewReportsBlocker(t *testing.T) {
	d, _ := loadedDraft(t, "INV-100")
	view := d.View()
	if view.CanSubmit || view.Blocker != ReasonEmptySelection {
		t.Fatalf("expected empty selection blocker, got %+v", view)
	}
	if view.CustomerName != domain.WalkInLabel || len(view.Lines) != 1 {
		t.Fatalf("unexpected view header: %+v", view)
	}

	_ = d.ToggleLine("L1")
	_ = d.SetQuantity("L1", 2)
	d.SetReason(domain.Reason{Code: domain.ReasonDamage})
	d.AttachEvidence("ev-1.pdf")
	view = d.View()
	if !view.CanSubmit || !view.RefundTotal.Equal(dec("224.00")) {
		t.Fatalf("expected submittable view at 224.00, got %+v", view)
	}
	if !view.Lines[0].Selected || view.Lines[0].RequestedQty != 2 {
		t.Fatalf("unexpected line view: %+v", view.Lines[0])
	}
}

func TestViewKeepsSelectionOrder(t *testing.T) {
	d, _ := loadedDraft(t, "INV-200")
	for _, id := range []string{"C", "A"} {
		if err := d.ToggleLine(id); err != nil {
			t.Fatalf("toggle %s: %v", id, err)
		}
	}

	view := d.View()
	if len(view.SelectedOrder) != 2 || view.SelectedOrder[0] != "C" || view.SelectedOrder[1] != "A" {
		t.Fatalf("expected selection order [C A], got %v", view.SelectedOrder)
	}
	want := map[string]int{"A": 2, "B": 0, "C": 1}
	for _, line := range view.Lines {
		if line.Position != want[line.LineID] {
			t.Fatalf("line %s: expected position %d, got %d", line.LineID, want[line.LineID], line.Position)
		}
	}
	if view.Lines[0].LineID != "A" {
		t.Fatalf("expected lines to stay in invoice order, got %s first", view.Lines[0].LineID)
	}

	_ = d.ToggleLine("C")
	view = d.View()
	if len(view.SelectedOrder) != 1 || view.SelectedOrder[0] != "A" || view.Lines[0].Position != 1 {
		t.Fatalf("expected A to move up after C was dropped, got %v", view.SelectedOrder)
	}
}
