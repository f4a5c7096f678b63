package returns

import (
	"time"

	"github.com/shopspring/decimal"

	"apotekita/backend/internal/domain"
	"apotekita/backend/internal/refund"
)

type LineView struct {
	LineID         string          `json:"line_id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
	OriginalQty    int             `json:"original_qty"`
	Selected       bool            `json:"selected"`
	// Position is the 1-based order in which the line was selected, 0 when
	// unselected.
	Position       int             `json:"position,omitempty"`
	RequestedQty   int             `json:"requested_qty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// View is the read model the counter screen renders.
type View struct {
	InvoiceID    string     `json:"invoice_id,omitempty"`
	CustomerName string     `json:"customer_name,omitempty"`
	InvoiceDate  *time.Time `json:"invoice_date,omitempty"`
	Lines        []LineView `json:"lines"`
	// SelectedOrder lists selected line ids in the order they were chosen.
	SelectedOrder []string           `json:"selected_order"`
	Reason        *domain.Reason     `json:"reason,omitempty"`
	Evidence      domain.EvidenceRef `json:"evidence,omitempty"`
	RefundTotal   decimal.Decimal    `json:"refund_total"`
	CanSubmit     bool               `json:"can_submit"`
	// Blocker is the first local check that would stop submission.
	Blocker ValidationReason `json:"blocker,omitempty"`
}

func (d *Draft) View() View {
	view := View{
		Lines:         []LineView{},
		SelectedOrder: append([]string{}, d.order...),
		Evidence:      d.evidence,
		RefundTotal:   d.CurrentRefundTotal(),
	}
	if d.reason.Code != "" {
		reason := d.reason
		view.Reason = &reason
	}
	if d.invoice != nil {
		created := d.invoice.CreatedAt
		view.InvoiceID = d.invoice.ID
		view.CustomerName = d.invoice.CustomerLabel()
		view.InvoiceDate = &created
		positions := make(map[string]int, len(d.order))
		for i, id := range d.order {
			positions[id] = i + 1
		}
		for _, line := range d.invoice.Lines {
			lv := LineView{
				LineID:         line.ID,
				ProductID:      line.ProductID,
				ProductName:    line.ProductName,
				UnitPrice:      line.UnitPrice,
				TaxRatePercent: line.TaxRatePercent,
				OriginalQty:    line.Qty,
				Subtotal:       decimal.Zero,
			}
			if sel, ok := d.selections[line.ID]; ok {
				lv.Selected = true
				lv.Position = positions[line.ID]
				lv.RequestedQty = sel.Qty
				lv.UnitPrice = sel.UnitPrice
				lv.TaxRatePercent = sel.TaxRatePercent
				lv.Subtotal = refund.Round(refund.Subtotal(sel.refundLine()))
			}
			view.Lines = append(view.Lines, lv)
		}
	}
	if reason, blocked := ReasonOf(CheckLocal(d)); blocked {
		view.Blocker = reason
	}
	view.CanSubmit = view.Blocker == ""
	return view
}
