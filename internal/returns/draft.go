// Package returns holds the in-progress return for one operator session and
// the gate that turns it into an immutable submission.
package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/refund"
	"apotekita/backend/internal/store"
)

type InvoiceFinder interface {
	FindInvoice(ctx context.Context, id string) (*domain.SourceInvoice, error)
}

// Selection is one chosen invoice line. Price, tax rate and the sold quantity
// are copied from the invoice when the line is selected.
type Selection struct {
	LineID         string
	ProductID      string
	ProductName    string
	UnitPrice      decimal.Decimal
	TaxRatePercent decimal.Decimal
	OriginalQty    int
	Qty            int
}

func (s Selection) refundLine() refund.Line {
	return refund.Line{UnitPrice: s.UnitPrice, Qty: s.Qty, TaxRatePercent: s.TaxRatePercent}
}

// Draft is the single active return of one session. It is not safe for
// concurrent use; callers keep one writer per draft.
type Draft struct {
	finder     InvoiceFinder
	invoice    *domain.SourceInvoice
	selections map[string]*Selection
	order      []string
	reason     domain.Reason
	evidence   domain.EvidenceRef
}

func NewDraft(finder InvoiceFinder) *Draft {
	return &Draft{
		finder:     finder,
		selections: map[string]*Selection{},
	}
}

// LoadInvoice binds the draft to an invoice and discards everything else the
// draft held. When the invoice cannot be found the draft is left untouched.
func (d *Draft) LoadInvoice(ctx context.Context, invoiceID string) error {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return ErrInvoiceNotFound
	}
	invoice, err := d.finder.FindInvoice(ctx, invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
		}
		return fmt.Errorf("load invoice %s: %w", invoiceID, err)
	}
	d.invoice = cloneInvoice(invoice)
	d.Reset()
	return nil
}

// Reset empties the selection set and drops reason and evidence but keeps the
// loaded invoice.
func (d *Draft) Reset() {
	d.selections = map[string]*Selection{}
	d.order = nil
	d.reason = domain.Reason{}
	d.evidence = ""
}

// Discard unbinds the invoice as well.
func (d *Draft) Discard() {
	d.invoice = nil
	d.Reset()
}

func (d *Draft) ToggleLine(lineID string) error {
	line, err := d.sourceLine(lineID)
	if err != nil {
		return err
	}
	if _, ok := d.selections[line.ID]; ok {
		delete(d.selections, line.ID)
		d.order = removeID(d.order, line.ID)
		return nil
	}
	d.selections[line.ID] = selectLine(line, 1)
	d.order = append(d.order, line.ID)
	return nil
}

// SetQuantity changes a selected line's quantity. Values outside
// [1, original quantity] are rejected and the previous value is kept.
func (d *Draft) SetQuantity(lineID string, qty int) error {
	if d.invoice == nil {
		return ErrNoInvoice
	}
	sel, ok := d.selections[lineID]
	if !ok {
		if _, onInvoice := d.invoice.Line(lineID); !onInvoice {
			return fmt.Errorf("%w: %s", ErrUnknownLine, lineID)
		}
		return fmt.Errorf("%w: %s", ErrLineNotSelected, lineID)
	}
	if qty < 1 || qty > sel.OriginalQty {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrQuantityRejected, qty, sel.OriginalQty)
	}
	sel.Qty = qty
	return nil
}

func (d *Draft) SelectAll() error {
	if d.invoice == nil {
		return ErrNoInvoice
	}
	d.selections = make(map[string]*Selection, len(d.invoice.Lines))
	d.order = make([]string, 0, len(d.invoice.Lines))
	for _, line := range d.invoice.Lines {
		d.selections[line.ID] = selectLine(line, line.Qty)
		d.order = append(d.order, line.ID)
	}
	return nil
}

// ClearAll drops every selection. Reason and evidence stay attached.
func (d *Draft) ClearAll() {
	d.selections = map[string]*Selection{}
	d.order = nil
}

func (d *Draft) SetReason(reason domain.Reason) {
	d.reason = domain.NewReason(reason.Code, reason.Detail)
}

func (d *Draft) AttachEvidence(ref domain.EvidenceRef) {
	d.evidence = domain.EvidenceRef(strings.TrimSpace(string(ref)))
}

// CurrentRefundTotal is recomputed from the selections on every call.
func (d *Draft) CurrentRefundTotal() decimal.Decimal {
	lines := make([]refund.Line, 0, len(d.order))
	for _, id := range d.order {
		lines = append(lines, d.selections[id].refundLine())
	}
	return refund.Total(lines)
}

func (d *Draft) Invoice() (domain.SourceInvoice, bool) {
	if d.invoice == nil {
		return domain.SourceInvoice{}, false
	}
	return *cloneInvoice(d.invoice), true
}

// Selections returns copies in display order.
func (d *Draft) Selections() []Selection {
	out := make([]Selection, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.selections[id])
	}
	return out
}

func (d *Draft) Selection(lineID string) (Selection, bool) {
	sel, ok := d.selections[lineID]
	if !ok {
		return Selection{}, false
	}
	return *sel, true
}

func (d *Draft) Reason() domain.Reason {
	return d.reason
}

func (d *Draft) Evidence() domain.EvidenceRef {
	return d.evidence
}

func (d *Draft) sourceLine(lineID string) (domain.SourceLineItem, error) {
	if d.invoice == nil {
		return domain.SourceLineItem{}, ErrNoInvoice
	}
	line, ok := d.invoice.Line(lineID)
	if !ok {
		return domain.SourceLineItem{}, fmt.Errorf("%w: %s", ErrUnknownLine, lineID)
	}
	return line, nil
}

func selectLine(line domain.SourceLineItem, qty int) *Selection {
	return &Selection{
		LineID:         line.ID,
		ProductID:      line.ProductID,
		ProductName:    line.ProductName,
		UnitPrice:      line.UnitPrice.Copy(),
		TaxRatePercent: line.TaxRatePercent.Copy(),
		OriginalQty:    line.Qty,
		Qty:            qty,
	}
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func cloneInvoice(in *domain.SourceInvoice) *domain.SourceInvoice {
	out := *in
	out.Lines = append([]domain.SourceLineItem(nil), in.Lines...)
	return &out
}
