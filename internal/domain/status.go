package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownStatus marks a stored or submitted status value outside the
// lifecycle. It is a data-integrity failure and is never coerced.
var ErrUnknownStatus = errors.New("unknown return status")

// ReturnStatus is the settlement lifecycle of a persisted return:
//
//	AwaitingReconciliation → Settled
//	AwaitingReconciliation → Voided
//
// Submission only ever creates AwaitingReconciliation; the other transitions
// are driven by downstream inventory and finance processes.
type ReturnStatus string

const (
	ReturnStatusAwaitingReconciliation ReturnStatus = "awaiting_reconciliation"
	ReturnStatusSettled                ReturnStatus = "settled"
	ReturnStatusVoided                 ReturnStatus = "voided"
)

func ParseReturnStatus(raw string) (ReturnStatus, error) {
	status := ReturnStatus(strings.TrimSpace(raw))
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

func (s ReturnStatus) IsValid() bool {
	switch s {
	case ReturnStatusAwaitingReconciliation, ReturnStatusSettled, ReturnStatusVoided:
		return true
	default:
		return false
	}
}

func (s ReturnStatus) IsTerminal() bool {
	return s == ReturnStatusSettled || s == ReturnStatusVoided
}

func (s ReturnStatus) CanTransitionTo(target ReturnStatus) bool {
	switch s {
	case ReturnStatusAwaitingReconciliation:
		return target == ReturnStatusSettled || target == ReturnStatusVoided
	default:
		return false
	}
}

// CountsTowardReturned reports whether quantities on a return in this status
// still consume the invoice's returnable quantity.
func (s ReturnStatus) CountsTowardReturned() bool {
	return s != ReturnStatusVoided
}

func (s ReturnStatus) Label() string {
	switch s {
	case ReturnStatusAwaitingReconciliation:
		return "Awaiting reconciliation"
	case ReturnStatusSettled:
		return "Settled"
	case ReturnStatusVoided:
		return "Voided"
	default:
		return string(s)
	}
}

func (s ReturnStatus) String() string {
	return string(s)
}

func (s *ReturnStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseReturnStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s ReturnStatus) Value() (driver.Value, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

func (s *ReturnStatus) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case nil:
		return fmt.Errorf("%w: null", ErrUnknownStatus)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrUnknownStatus, value)
	}
	parsed, err := ParseReturnStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
