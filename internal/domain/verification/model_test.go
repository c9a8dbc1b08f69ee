package verification

import (
	"errors"
	"testing"
	"time"

	"github.com/redecare/redecare/internal/domain"
)

var testNow = time.Date(2025, 8, 10, 14, 0, 0, 0, time.UTC)

func threshold(v float64) *float64 { return &v }

func TestVerifyDefaultsToOriginalValue(t *testing.T) {
	v := &ValueVerification{Status: StatusPending, OriginalValue: 250}
	if err := v.Verify(8, nil, "price confirmed", testNow); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if v.Status != StatusVerified {
		t.Errorf("status = %s", v.Status)
	}
	if v.VerifiedValue == nil || *v.VerifiedValue != 250 {
		t.Errorf("VerifiedValue = %v, want 250 (original confirmed)", v.VerifiedValue)
	}
	if v.VerifiedBy == nil || *v.VerifiedBy != 8 {
		t.Errorf("VerifiedBy = %v", v.VerifiedBy)
	}
}

func TestVerifyWithExplicitValue(t *testing.T) {
	proposed := 240.0
	v := &ValueVerification{Status: StatusPending, OriginalValue: 250, VerifiedValue: &proposed}

	corrected := 230.0
	if err := v.Verify(8, &corrected, "", testNow); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if *v.VerifiedValue != 230 {
		t.Errorf("VerifiedValue = %v, want explicit 230", *v.VerifiedValue)
	}
}

func TestVerifyWithoutValueDiscardsProposal(t *testing.T) {
	// A resolver-proposed value pre-seeds VerifiedValue at creation. A
	// verifier confirming without entering a value confirms the ORIGINAL,
	// not the proposal.
	proposed := 240.0
	v := &ValueVerification{Status: StatusPending, OriginalValue: 250, VerifiedValue: &proposed}
	if err := v.Verify(8, nil, "", testNow); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if *v.VerifiedValue != 250 {
		t.Errorf("VerifiedValue = %v, want original 250", *v.VerifiedValue)
	}
}

func TestVerifyOnlyFromPending(t *testing.T) {
	for _, status := range []string{StatusVerified, StatusRejected, StatusAutoApproved} {
		v := &ValueVerification{Status: status, OriginalValue: 100}
		if err := v.Verify(8, nil, "", testNow); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("verify from %s: got %v", status, err)
		}
	}
}

func TestReject(t *testing.T) {
	v := &ValueVerification{Status: StatusPending, OriginalValue: 100}
	if err := v.Reject(8, "invoice mismatch", testNow); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if v.Status != StatusRejected || v.Notes != "invoice mismatch" {
		t.Errorf("after reject: %+v", v)
	}
	if err := v.Reject(8, "", testNow); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double reject: got %v", err)
	}
}

func TestCanBeAutoApproved(t *testing.T) {
	tests := []struct {
		name      string
		original  float64
		verified  *float64
		threshold *float64
		want      bool
	}{
		{"within threshold", 100, threshold(104), threshold(5.0), true},
		{"at threshold", 100, threshold(105), threshold(5.0), true},
		{"above threshold", 100, threshold(106), threshold(5.0), false},
		{"below original within threshold", 100, threshold(96), threshold(5.0), true},
		{"no threshold", 100, threshold(100), nil, false},
		{"no verified value", 100, nil, threshold(5.0), false},
		{"zero original", 0, threshold(0), threshold(5.0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &ValueVerification{
				Status:               StatusPending,
				OriginalValue:        tt.original,
				VerifiedValue:        tt.verified,
				AutoApproveThreshold: tt.threshold,
			}
			if got := v.CanBeAutoApproved(); got != tt.want {
				t.Errorf("CanBeAutoApproved() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAutoApprove(t *testing.T) {
	v := &ValueVerification{
		Status:               StatusPending,
		OriginalValue:        100,
		VerifiedValue:        threshold(104),
		AutoApproveThreshold: threshold(5.0),
	}
	if err := v.AutoApprove(testNow); err != nil {
		t.Fatalf("auto-approve: %v", err)
	}
	if v.Status != StatusAutoApproved {
		t.Errorf("status = %s", v.Status)
	}
	// Machine decision: no human verifier recorded.
	if v.VerifiedBy != nil {
		t.Errorf("VerifiedBy = %v, want nil", v.VerifiedBy)
	}
	if v.VerifiedAt == nil {
		t.Error("VerifiedAt not stamped")
	}
}

func TestAutoApproveRequiresThreshold(t *testing.T) {
	v := &ValueVerification{Status: StatusPending, OriginalValue: 100, VerifiedValue: threshold(100)}
	if err := v.AutoApprove(testNow); !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("got %v, want invariant violation", err)
	}
}

func TestAutoApproveAboveThreshold(t *testing.T) {
	v := &ValueVerification{
		Status:               StatusPending,
		OriginalValue:        100,
		VerifiedValue:        threshold(106),
		AutoApproveThreshold: threshold(5.0),
	}
	if err := v.AutoApprove(testNow); !errors.Is(err, ErrNotAutoApprovable) {
		t.Fatalf("got %v, want not auto-approvable", err)
	}
	if v.Status != StatusPending {
		t.Error("failed auto-approval mutated status")
	}
}
