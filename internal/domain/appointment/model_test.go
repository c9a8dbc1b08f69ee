package appointment

import (
	"errors"
	"testing"
	"time"

	"github.com/redecare/redecare/internal/domain"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func TestConfirmTransitions(t *testing.T) {
	tests := []struct {
		from    string
		wantErr bool
	}{
		{StatusScheduled, false},
		{StatusConfirmed, true},
		{StatusCompleted, true},
		{StatusCancelled, true},
		{StatusMissed, true},
	}

	for _, tt := range tests {
		a := &Appointment{Status: tt.from}
		err := a.Confirm(7, testNow)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("Confirm from %s: got %v, want invalid transition", tt.from, err)
			}
			if a.Status != tt.from {
				t.Errorf("Confirm from %s mutated status to %s", tt.from, a.Status)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Confirm from %s: %v", tt.from, err)
		}
		if a.Status != StatusConfirmed {
			t.Errorf("status = %s, want confirmed", a.Status)
		}
		if a.ConfirmedBy == nil || *a.ConfirmedBy != 7 {
			t.Errorf("ConfirmedBy = %v, want 7", a.ConfirmedBy)
		}
		if a.ConfirmedAt == nil || !a.ConfirmedAt.Equal(testNow) {
			t.Errorf("ConfirmedAt = %v, want %v", a.ConfirmedAt, testNow)
		}
	}
}

func TestConfirmIsNotIdempotent(t *testing.T) {
	a := &Appointment{Status: StatusScheduled}
	if err := a.Confirm(7, testNow); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if err := a.Confirm(7, testNow); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second confirm: got %v, want invalid transition", err)
	}
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	a := &Appointment{Status: StatusScheduled}
	if err := a.Complete(7, testNow); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("complete from scheduled: got %v, want invalid transition", err)
	}
}

func TestCompleteBillingEligibility(t *testing.T) {
	attended := true
	notAttended := false

	tests := []struct {
		name         string
		attended     *bool
		wantEligible bool
	}{
		{"attended", &attended, true},
		{"not attended", &notAttended, false},
		{"attendance unknown", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Appointment{Status: StatusConfirmed, PatientAttended: tt.attended}
			if err := a.Complete(7, testNow); err != nil {
				t.Fatalf("complete: %v", err)
			}
			if a.Status != StatusCompleted {
				t.Errorf("status = %s, want completed", a.Status)
			}
			if a.EligibleForBilling != tt.wantEligible {
				t.Errorf("EligibleForBilling = %v, want %v", a.EligibleForBilling, tt.wantEligible)
			}
		})
	}
}

func TestCancelFromAnyNonTerminal(t *testing.T) {
	for _, from := range []string{StatusScheduled, StatusConfirmed} {
		a := &Appointment{Status: from, EligibleForBilling: true}
		if err := a.Cancel(9, "patient moved", testNow); err != nil {
			t.Fatalf("cancel from %s: %v", from, err)
		}
		if a.Status != StatusCancelled {
			t.Errorf("status = %s, want cancelled", a.Status)
		}
		if a.EligibleForBilling {
			t.Error("cancel must clear billing eligibility")
		}
		if a.CancelNotes != "patient moved" {
			t.Errorf("CancelNotes = %q", a.CancelNotes)
		}
	}

	for _, from := range []string{StatusCompleted, StatusCancelled, StatusMissed} {
		a := &Appointment{Status: from}
		if err := a.Cancel(9, "", testNow); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("cancel from %s: got %v, want invalid transition", from, err)
		}
	}
}

func TestMarkAsMissed(t *testing.T) {
	a := &Appointment{Status: StatusConfirmed}
	if err := a.MarkAsMissed(); err != nil {
		t.Fatalf("mark as missed: %v", err)
	}
	if a.Status != StatusMissed {
		t.Errorf("status = %s, want missed", a.Status)
	}
	if a.PatientAttended == nil || *a.PatientAttended {
		t.Errorf("PatientAttended = %v, want false", a.PatientAttended)
	}

	b := &Appointment{Status: StatusScheduled}
	if err := b.MarkAsMissed(); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("mark as missed from scheduled: got %v, want invalid transition", err)
	}
}

func TestMarkAsAttendedForcesCompleted(t *testing.T) {
	// Attendance correction applies even to terminal states.
	for _, from := range []string{StatusScheduled, StatusConfirmed, StatusMissed, StatusCancelled} {
		a := &Appointment{Status: from}
		a.MarkAsAttended(3, "confirmed by clinic", testNow)
		if a.Status != StatusCompleted {
			t.Errorf("from %s: status = %s, want completed", from, a.Status)
		}
		if a.PatientAttended == nil || !*a.PatientAttended {
			t.Errorf("from %s: PatientAttended = %v, want true", from, a.PatientAttended)
		}
		if !a.EligibleForBilling {
			t.Errorf("from %s: expected billing eligibility", from)
		}
	}
}

func TestMarkAsAttendedKeepsOriginalCompletion(t *testing.T) {
	earlier := testNow.Add(-time.Hour)
	by := int64(5)
	a := &Appointment{Status: StatusCompleted, CompletedAt: &earlier, CompletedBy: &by}
	a.MarkAsAttended(3, "", testNow)
	if !a.CompletedAt.Equal(earlier) {
		t.Errorf("CompletedAt = %v, want original %v", a.CompletedAt, earlier)
	}
	if *a.CompletedBy != 5 {
		t.Errorf("CompletedBy = %d, want original 5", *a.CompletedBy)
	}
}

func TestMarkAsMissedAttendanceUndoesCompletion(t *testing.T) {
	by := int64(5)
	a := &Appointment{Status: StatusCompleted, CompletedAt: &testNow, CompletedBy: &by, EligibleForBilling: true}
	a.MarkAsMissedAttendance("patient never arrived")
	if a.Status != StatusMissed {
		t.Errorf("status = %s, want missed", a.Status)
	}
	if a.PatientAttended == nil || *a.PatientAttended {
		t.Error("attendance must be recorded as false")
	}
	if a.CompletedAt != nil || a.CompletedBy != nil {
		t.Error("completion stamps must be cleared by the correction")
	}
	if a.EligibleForBilling {
		t.Error("a missed appointment cannot stay billable")
	}
}

func TestCloneForReschedule(t *testing.T) {
	confirmed := testNow
	by := int64(7)
	attended := true
	original := &Appointment{
		Status:             StatusConfirmed,
		Provider:           ProviderRef{Kind: "clinic", ID: 12},
		TUSSCode:           "10101012",
		Amount:             250,
		ConfirmedAt:        &confirmed,
		ConfirmedBy:        &by,
		PatientAttended:    &attended,
		EligibleForBilling: true,
		GuideStatus:        GuideAuthorized,
	}
	newDate := testNow.AddDate(0, 0, 7)

	clone := original.CloneForReschedule(newDate, nil)
	if clone.Status != StatusScheduled {
		t.Errorf("clone status = %s, want scheduled", clone.Status)
	}
	if !clone.ScheduledAt.Equal(newDate) {
		t.Errorf("clone ScheduledAt = %v, want %v", clone.ScheduledAt, newDate)
	}
	if clone.Provider != original.Provider {
		t.Errorf("clone provider = %+v, want original", clone.Provider)
	}
	if clone.Amount != 250 || clone.TUSSCode != "10101012" {
		t.Errorf("clone pricing fields not carried: %+v", clone)
	}
	if clone.ConfirmedAt != nil || clone.PatientAttended != nil || clone.EligibleForBilling {
		t.Error("clone must reset confirmation, attendance and billing marks")
	}
	if clone.GuideStatus != GuidePending {
		t.Errorf("clone guide status = %s, want pending", clone.GuideStatus)
	}

	moved := original.CloneForReschedule(newDate, &ProviderRef{Kind: "professional", ID: 44})
	if moved.Provider.Kind != "professional" || moved.Provider.ID != 44 {
		t.Errorf("clone provider override = %+v", moved.Provider)
	}
}

func TestProviderRefValid(t *testing.T) {
	tests := []struct {
		ref  ProviderRef
		want bool
	}{
		{ProviderRef{Kind: "clinic", ID: 1}, true},
		{ProviderRef{Kind: "professional", ID: 9}, true},
		{ProviderRef{Kind: "clinic", ID: 0}, false},
		{ProviderRef{Kind: "hospital", ID: 1}, false},
		{ProviderRef{}, false},
	}
	for _, tt := range tests {
		if got := tt.ref.Valid(); got != tt.want {
			t.Errorf("Valid(%+v) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber(2025, 42); got != "REAG-2025-0042" {
		t.Errorf("FormatNumber = %s", got)
	}
	if got := FormatNumber(2025, 12345); got != "REAG-2025-12345" {
		t.Errorf("FormatNumber overflow = %s", got)
	}
}

func TestReschedulingApprovalFlow(t *testing.T) {
	r := &Rescheduling{ApprovalStatus: ApprovalPending}

	if err := r.Complete(2, testNow); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("complete before approval: got %v, want invalid transition", err)
	}
	if err := r.Approve(2, "ok", testNow); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if r.ApprovalStatus != ApprovalApproved || r.DecidedBy == nil || *r.DecidedBy != 2 {
		t.Errorf("after approve: %+v", r)
	}
	if err := r.Reject(2, "", testNow); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("reject after approve: got %v, want invalid transition", err)
	}
	if err := r.Complete(2, testNow); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if r.ApprovalStatus != ApprovalCompleted {
		t.Errorf("status = %s, want completed", r.ApprovalStatus)
	}
}

func TestReschedulingReject(t *testing.T) {
	r := &Rescheduling{ApprovalStatus: ApprovalPending}
	if err := r.Reject(4, "payer refused", testNow); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if r.ApprovalStatus != ApprovalRejected || r.DecisionNotes != "payer refused" {
		t.Errorf("after reject: %+v", r)
	}
}
