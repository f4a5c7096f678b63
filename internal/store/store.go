package store

import (
	"context"
	"errors"
	"time"

	"apotekita/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrOverReturn is reported when a return would push a line's cumulative
	// returned quantity past the quantity originally sold.
	ErrOverReturn              = errors.New("returned quantity exceeds sold quantity")
	ErrInvalidStatusTransition = errors.New("invalid return status transition")
	ErrDuplicate               = errors.New("duplicate record")
	ErrUnknownStatus           = domain.ErrUnknownStatus
)

// InvoiceReader is the read-only view of completed sales that the returns
// workflow consumes.
type InvoiceReader interface {
	FindInvoice(ctx context.Context, id string) (*domain.SourceInvoice, error)
	SearchInvoices(ctx context.Context, keyword string, limit int) ([]domain.SourceInvoice, error)
}

// InvoiceWriter is used by seeding and tests; the returns workflow never
// writes invoices.
type InvoiceWriter interface {
	CreateInvoice(ctx context.Context, invoice domain.SourceInvoice) error
}

type ReturnRepository interface {
	// CreateReturn writes the header and every line entry atomically. The
	// cumulative returned quantity per invoice line is re-checked inside the
	// same write and ErrOverReturn is reported when it would be exceeded.
	CreateReturn(ctx context.Context, record domain.ReturnRecord) (*domain.ReturnRecord, error)
	GetReturn(ctx context.Context, id string) (*domain.ReturnRecord, error)
	// GetReturnedQtyByInvoice sums line quantities over the invoice's
	// non-voided returns, keyed by line id.
	GetReturnedQtyByInvoice(ctx context.Context, invoiceID string) (map[string]int, error)
	// QueryReturns returns one window of matching records, newest first,
	// together with the total number of matches.
	QueryReturns(ctx context.Context, filter domain.ReturnFilter, offset int, limit int) ([]domain.ReturnRecord, int64, error)
	UpdateReturnStatus(ctx context.Context, id string, target domain.ReturnStatus, note string, at time.Time) (*domain.ReturnRecord, error)
	ClearAllReturns(ctx context.Context) (int64, error)
}

type Repository interface {
	InvoiceReader
	ReturnRepository
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// ValidateInvoice checks the invariants of a completed sale before it is
// stored.
func ValidateInvoice(invoice domain.SourceInvoice) error {
	if invoice.ID == "" || len(invoice.Lines) == 0 {
		return ErrInvalidTransaction
	}
	seen := make(map[string]struct{}, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if line.ID == "" || line.Qty < 1 || line.UnitPrice.IsNegative() || line.TaxRatePercent.IsNegative() {
			return ErrInvalidTransaction
		}
		if _, dup := seen[line.ID]; dup {
			return ErrInvalidTransaction
		}
		seen[line.ID] = struct{}{}
	}
	return nil
}

// ValidateReturn checks the fields every persisted return must carry.
func ValidateReturn(record domain.ReturnRecord) error {
	if record.ID == "" || record.ReturnNumber == "" || record.InvoiceID == "" || len(record.Lines) == 0 {
		return ErrInvalidTransaction
	}
	if record.Evidence.IsZero() || !record.Reason.IsComplete() || !record.Status.IsValid() {
		return ErrInvalidTransaction
	}
	for _, line := range record.Lines {
		if line.LineID == "" || line.Qty < 1 {
			return ErrInvalidTransaction
		}
	}
	return nil
}

// CheckReturnable reports ErrOverReturn when adding lines to the already
// returned quantities would exceed what was sold. Lines missing from sold are
// rejected as ErrInvalidTransaction.
func CheckReturnable(sold map[string]int, returned map[string]int, lines []domain.ReturnLineEntry) error {
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		requested[line.LineID] += line.Qty
	}
	for lineID, qty := range requested {
		soldQty, ok := sold[lineID]
		if !ok {
			return ErrInvalidTransaction
		}
		if returned[lineID]+qty > soldQty {
			return ErrOverReturn
		}
	}
	return nil
}
