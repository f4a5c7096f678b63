package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WalkInLabel is shown (and matched by keyword search) for sales without a customer.
const WalkInLabel = "Walk-in"

const (
	RoleCashier = "cashier"
	RoleFinance = "finance"
	RoleAdmin   = "admin"
)

type SourceLineItem struct {
	ID             string          `json:"id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
	Qty            int             `json:"qty"`
}

// SourceInvoice is a completed sale. It is owned by the sales side of the
// back office; the returns core only ever reads it.
type SourceInvoice struct {
	ID           string           `json:"id"`
	CustomerID   string           `json:"customer_id,omitempty"`
	CustomerName string           `json:"customer_name,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Lines        []SourceLineItem `json:"lines"`
}

func (inv SourceInvoice) Line(lineID string) (SourceLineItem, bool) {
	for _, line := range inv.Lines {
		if line.ID == lineID {
			return line, true
		}
	}
	return SourceLineItem{}, false
}

func (inv SourceInvoice) CustomerLabel() string {
	return CustomerLabel(inv.CustomerName)
}

func CustomerLabel(name string) string {
	if strings.TrimSpace(name) == "" {
		return WalkInLabel
	}
	return name
}

type InvoiceSummary struct {
	ID           string          `json:"id"`
	CustomerName string          `json:"customer_name"`
	CreatedAt    time.Time       `json:"created_at"`
	LineCount    int             `json:"line_count"`
	Total        decimal.Decimal `json:"total"`
}

type ReasonCode string

const (
	ReasonDamage          ReasonCode = "Damage"
	ReasonExpired         ReasonCode = "Expired"
	ReasonWrongItem       ReasonCode = "WrongItem"
	ReasonRecall          ReasonCode = "Recall"
	ReasonAdverseReaction ReasonCode = "AdverseReaction"
	ReasonOther           ReasonCode = "Other"
)

func (c ReasonCode) IsValid() bool {
	switch c {
	case ReasonDamage, ReasonExpired, ReasonWrongItem, ReasonRecall, ReasonAdverseReaction, ReasonOther:
		return true
	default:
		return false
	}
}

// Reason is the tagged return reason. Detail is carried only for ReasonOther,
// where it is mandatory.
type Reason struct {
	Code   ReasonCode `json:"code"`
	Detail string     `json:"detail,omitempty"`
}

func NewReason(code ReasonCode, detail string) Reason {
	reason := Reason{Code: ReasonCode(strings.TrimSpace(string(code)))}
	if reason.Code == ReasonOther {
		reason.Detail = strings.TrimSpace(detail)
	}
	return reason
}

func (r Reason) IsComplete() bool {
	if !r.Code.IsValid() {
		return false
	}
	if r.Code == ReasonOther {
		return strings.TrimSpace(r.Detail) != ""
	}
	return true
}

func (r Reason) String() string {
	if r.Code == ReasonOther && r.Detail != "" {
		return string(r.Code) + ": " + r.Detail
	}
	return string(r.Code)
}

// EvidenceRef is the opaque handle returned by the evidence file store.
type EvidenceRef string

func (r EvidenceRef) IsZero() bool {
	return strings.TrimSpace(string(r)) == ""
}

type ReturnLineEntry struct {
	LineID         string          `json:"line_id"`
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	Qty            int             `json:"qty"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TaxRatePercent decimal.Decimal `json:"tax_rate_percent"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// ReturnRecord is a persisted return. TotalRefund is frozen at creation and is
// never recomputed from Lines afterwards.
type ReturnRecord struct {
	ID              string            `json:"id"`
	ReturnNumber    string            `json:"return_number"`
	InvoiceID       string            `json:"invoice_id"`
	CustomerName    string            `json:"customer_name"`
	Lines           []ReturnLineEntry `json:"lines"`
	TotalRefund     decimal.Decimal   `json:"total_refund"`
	Reason          Reason            `json:"reason"`
	Evidence        EvidenceRef       `json:"evidence"`
	Status          ReturnStatus      `json:"status"`
	StatusNote      string            `json:"status_note,omitempty"`
	StatusChangedAt *time.Time        `json:"status_changed_at,omitempty"`
	ProcessedBy     string            `json:"processed_by"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (r ReturnRecord) CustomerLabel() string {
	return CustomerLabel(r.CustomerName)
}

// ReturnFilter is the storage-level filter; paging is applied separately.
type ReturnFilter struct {
	Keyword string
	Start   *time.Time
	End     *time.Time
}

// Matches reports whether the record passes the filter. Stores that cannot
// push the filter down to a query engine use it directly.
func (f ReturnFilter) Matches(rec ReturnRecord) bool {
	if f.Start != nil && rec.CreatedAt.Before(*f.Start) {
		return false
	}
	if f.End != nil && rec.CreatedAt.After(*f.End) {
		return false
	}
	keyword := strings.ToLower(strings.TrimSpace(f.Keyword))
	if keyword == "" {
		return true
	}
	for _, field := range []string{rec.ReturnNumber, rec.InvoiceID, rec.CustomerLabel()} {
		if strings.Contains(strings.ToLower(field), keyword) {
			return true
		}
	}
	return false
}

type ReturnQuery struct {
	Keyword  string     `json:"keyword,omitempty"`
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type ReturnPage struct {
	Records    []ReturnRecord `json:"records"`
	TotalCount int64          `json:"total_count"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
	From       int            `json:"from"`
	To         int            `json:"to"`
	HasNext    bool           `json:"has_next"`
	HasPrev    bool           `json:"has_prev"`
}

type LoadInvoiceRequest struct {
	InvoiceID string `json:"invoice_id" jsonschema:"required,minLength=1"`
}

type ToggleLineRequest struct {
	LineID string `json:"line_id" jsonschema:"required,minLength=1"`
}

type SetQuantityRequest struct {
	LineID string `json:"line_id" jsonschema:"required,minLength=1"`
	Qty    int    `json:"qty" jsonschema:"required,minimum=1"`
}

type SetReasonRequest struct {
	Code   ReasonCode `json:"code" jsonschema:"required,enum=Damage,enum=Expired,enum=WrongItem,enum=Recall,enum=AdverseReaction,enum=Other"`
	Detail string     `json:"detail,omitempty" jsonschema_description:"Required and non-empty when code is Other"`
}

type StatusTransitionRequest struct {
	Status ReturnStatus `json:"status" jsonschema:"required,enum=settled,enum=voided"`
	Note   string       `json:"note,omitempty"`
}

type ClearReturnsRequest struct {
	ManagerPIN string `json:"manager_pin" jsonschema:"required"`
	Confirm    string `json:"confirm" jsonschema:"required"`
}

type ClearReturnsResponse struct {
	Deleted int64 `json:"deleted"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
