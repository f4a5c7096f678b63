package returns

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/refund"
)

// SourceState is what the gate knows about the invoice at submission time.
type SourceState struct {
	// Current is the invoice as refetched just before submission. A nil value
	// means the invoice no longer exists.
	Current *domain.SourceInvoice
	// Returned holds quantities already returned per line on non-voided
	// returns of the same invoice.
	Returned map[string]int
}

// Validate runs the submission checks in order and stops at the first
// failure. On success the returned Submission is detached from the draft.
func Validate(d *Draft, state SourceState) (*Submission, error) {
	if err := CheckLocal(d); err != nil {
		return nil, err
	}
	if err := checkSource(d, state.Current); err != nil {
		return nil, err
	}
	for _, id := range d.order {
		sel := d.selections[id]
		if state.Returned[id]+sel.Qty > sel.OriginalQty {
			return nil, validationError(ReasonExceedsReturnable, id)
		}
	}
	return newSubmission(d), nil
}

// CheckLocal runs the checks that need nothing but the draft itself.
func CheckLocal(d *Draft) error {
	if d.invoice == nil || len(d.order) == 0 {
		return validationError(ReasonEmptySelection, "")
	}
	if !d.reason.IsComplete() {
		return validationError(ReasonMissingReason, "")
	}
	if d.evidence.IsZero() {
		return validationError(ReasonMissingEvidence, "")
	}
	for _, id := range d.order {
		sel := d.selections[id]
		if sel.Qty < 1 || sel.Qty > sel.OriginalQty {
			return validationError(ReasonQuantityOutOfRange, id)
		}
	}
	return nil
}

func checkSource(d *Draft, current *domain.SourceInvoice) error {
	invoiceID := d.invoice.ID
	if current == nil || current.ID != invoiceID {
		return &StaleSourceError{InvoiceID: invoiceID, Detail: "invoice no longer available"}
	}
	for _, id := range d.order {
		sel := d.selections[id]
		line, ok := current.Line(id)
		switch {
		case !ok:
			return &StaleSourceError{InvoiceID: invoiceID, LineID: id, Detail: "line removed"}
		case line.Qty != sel.OriginalQty:
			return &StaleSourceError{InvoiceID: invoiceID, LineID: id, Detail: fmt.Sprintf("sold quantity changed from %d to %d", sel.OriginalQty, line.Qty)}
		case !line.UnitPrice.Equal(sel.UnitPrice):
			return &StaleSourceError{InvoiceID: invoiceID, LineID: id, Detail: "unit price changed"}
		case !line.TaxRatePercent.Equal(sel.TaxRatePercent):
			return &StaleSourceError{InvoiceID: invoiceID, LineID: id, Detail: "tax rate changed"}
		}
	}
	return nil
}

// Submission is the validated, immutable payload that gets persisted.
type Submission struct {
	invoiceID    string
	customerName string
	lines        []domain.ReturnLineEntry
	total        decimal.Decimal
	reason       domain.Reason
	evidence     domain.EvidenceRef
}

func newSubmission(d *Draft) *Submission {
	lines := make([]domain.ReturnLineEntry, 0, len(d.order))
	calc := make([]refund.Line, 0, len(d.order))
	for _, id := range d.order {
		sel := d.selections[id]
		lines = append(lines, domain.ReturnLineEntry{
			LineID:         sel.LineID,
			ProductID:      sel.ProductID,
			ProductName:    sel.ProductName,
			Qty:            sel.Qty,
			UnitPrice:      sel.UnitPrice,
			TaxRatePercent: sel.TaxRatePercent,
			Subtotal:       refund.Subtotal(sel.refundLine()),
		})
		calc = append(calc, sel.refundLine())
	}
	return &Submission{
		invoiceID:    d.invoice.ID,
		customerName: d.invoice.CustomerName,
		lines:        lines,
		total:        refund.Total(calc),
		reason:       d.reason,
		evidence:     d.evidence,
	}
}

func (s *Submission) InvoiceID() string { return s.invoiceID }
func (s *Submission) CustomerName() string { return s.customerName }
func (s *Submission) TotalRefund() decimal.Decimal { return s.total }
func (s *Submission) Reason() domain.Reason { return s.reason }
func (s *Submission) Evidence() domain.EvidenceRef { return s.evidence }
func (s *Submission) Lines() []domain.ReturnLineEntry {
	return append([]domain.ReturnLineEntry(nil), s.lines...)
}

// Record builds the persisted form in its initial lifecycle state.
func (s *Submission) Record(id string, returnNumber string, processedBy string, at time.Time) domain.ReturnRecord {
	return domain.ReturnRecord{
		ID:           id,
		ReturnNumber: returnNumber,
		InvoiceID:    s.invoiceID,
		CustomerName: s.customerName,
		Lines:        s.Lines(),
		TotalRefund:  s.total,
		Reason:       s.reason,
		Evidence:     s.evidence,
		Status:       domain.ReturnStatusAwaitingReconciliation,
		ProcessedBy:  processedBy,
		CreatedAt:    at.UTC(),
	}
}
