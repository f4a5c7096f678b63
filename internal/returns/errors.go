package returns

import (
	"errors"
	"fmt"

	"apotekita/backend/internal/store"
)

var (
	ErrInvoiceNotFound  = fmt.Errorf("source invoice %w", store.ErrNotFound)
	ErrNoInvoice        = errors.New("no invoice loaded")
	ErrUnknownLine      = errors.New("line is not on the loaded invoice")
	ErrLineNotSelected  = errors.New("line is not selected")
	ErrQuantityRejected = errors.New("quantity outside returnable range")

	ErrValidationFailed = errors.New("return validation failed")
	ErrStaleQuantity    = errors.New("source invoice changed since it was loaded")
	ErrUploadFailed     = errors.New("evidence upload failed")
	ErrPersistFailed    = errors.New("return could not be saved")
)

type ValidationReason string

const (
	ReasonEmptySelection     ValidationReason = "EmptySelection"
	ReasonMissingReason      ValidationReason = "MissingReason"
	ReasonMissingEvidence    ValidationReason = "MissingEvidence"
	ReasonQuantityOutOfRange ValidationReason = "QuantityOutOfRange"
	ReasonExceedsReturnable  ValidationReason = "ExceedsReturnable"
)

// ValidationError is a user-correctable submission block. The draft stays
// editable and nothing has been written.
type ValidationError struct {
	Reason ValidationReason
	LineID string
}

func (e *ValidationError) Error() string {
	if e.LineID != "" {
		return fmt.Sprintf("%s: %s (line %s)", ErrValidationFailed, e.Reason, e.LineID)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func validationError(reason ValidationReason, lineID string) error {
	return &ValidationError{Reason: reason, LineID: lineID}
}

// StaleSourceError reports that the invoice no longer matches the copy the
// draft was built from. The operator has to reload the invoice.
type StaleSourceError struct {
	InvoiceID string
	LineID    string
	Detail    string
}

func (e *StaleSourceError) Error() string {
	if e.LineID != "" {
		return fmt.Sprintf("%s: invoice %s line %s: %s", ErrStaleQuantity, e.InvoiceID, e.LineID, e.Detail)
	}
	return fmt.Sprintf("%s: invoice %s: %s", ErrStaleQuantity, e.InvoiceID, e.Detail)
}

func (e *StaleSourceError) Is(target error) bool {
	return target == ErrStaleQuantity
}

// ReasonOf extracts the validation reason from err, if any.
func ReasonOf(err error) (ValidationReason, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return "", false
}
