package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestReturnStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ReturnStatus
		ok       bool
	}{
		{ReturnStatusAwaitingReconciliation, ReturnStatusSettled, true},
		{ReturnStatusAwaitingReconciliation, ReturnStatusVoided, true},
		{ReturnStatusAwaitingReconciliation, ReturnStatusAwaitingReconciliation, false},
		{ReturnStatusSettled, ReturnStatusVoided, false},
		{ReturnStatusVoided, ReturnStatusSettled, false},
		{ReturnStatusSettled, ReturnStatusAwaitingReconciliation, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestParseReturnStatusRejectsUnknown(t *testing.T) {
	if _, err := ParseReturnStatus("refunded"); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected unknown status, got %v", err)
	}
	var s ReturnStatus
	if err := s.Scan([]byte("settled")); err != nil || s != ReturnStatusSettled {
		t.Fatalf("expected settled, got %q %v", s, err)
	}
	if err := s.Scan(nil); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected unknown status for NULL, got %v", err)
	}
	if err := json.Unmarshal([]byte(`"pending"`), &s); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("expected json decode to reject pending, got %v", err)
	}
}

func TestReasonCompleteness(t *testing.T) {
	if (Reason{}).IsComplete() {
		t.Fatalf("empty reason must be incomplete")
	}
	if NewReason(ReasonOther, "   ").IsComplete() {
		t.Fatalf("Other without detail must be incomplete")
	}
	if !NewReason(ReasonOther, "label misprint").IsComplete() {
		t.Fatalf("Other with detail must be complete")
	}
	if r := NewReason(ReasonRecall, "batch 7"); !r.IsComplete() || r.Detail != "" {
		t.Fatalf("unexpected recall reason: %+v", r)
	}
	if (Reason{Code: "Broken"}).IsComplete() {
		t.Fatalf("unknown code must be incomplete")
	}
}

func TestReturnFilterFallsBackToWalkIn(t *testing.T) {
	rec := ReturnRecord{ReturnNumber: "RET-20260101-AAAA0000", InvoiceID: "INV-7"}
	if !(ReturnFilter{Keyword: "walk-IN"}).Matches(rec) {
		t.Fatalf("expected walk-in keyword to match a record without a customer")
	}
	if (ReturnFilter{Keyword: "siti"}).Matches(rec) {
		t.Fatalf("unexpected match")
	}
}
