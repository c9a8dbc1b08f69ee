package verification

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/platform/events"
)

// Verification statuses. AutoApproved is distinguished from Verified so a
// machine decision is never mistaken for a human one.
const (
	StatusPending      = "pending"
	StatusVerified     = "verified"
	StatusRejected     = "rejected"
	StatusAutoApproved = "auto_approved"
)

// ErrNotAutoApprovable reports a deviation above the configured tolerance.
var ErrNotAutoApprovable = errors.New("deviation exceeds auto-approval threshold")

// SubjectRef is the tagged union naming the disputed entity.
type SubjectRef struct {
	Kind string    `db:"subject_kind" json:"kind"`
	ID   uuid.UUID `db:"subject_id" json:"id"`
}

func (s SubjectRef) Valid() bool {
	switch s.Kind {
	case events.PayableBillingItem, events.PayableAppointment:
		return s.ID != uuid.Nil
	}
	return false
}

// ValueVerification is an independent evaluation of a disputed monetary
// value. VerifiedValue starts as the proposed value (the resolved expected
// price, when known) and is settled by a verifier or by auto-approval.
type ValueVerification struct {
	ID      uuid.UUID  `db:"id" json:"id"`
	Subject SubjectRef `json:"subject"`

	OriginalValue float64  `db:"original_value" json:"original_value"`
	VerifiedValue *float64 `db:"verified_value" json:"verified_value,omitempty"`

	Status string `db:"status" json:"status"`
	// AutoApproveThreshold is a percentage tolerance; nil disables
	// auto-approval for this verification.
	AutoApproveThreshold *float64 `db:"auto_approve_threshold" json:"auto_approve_threshold,omitempty"`

	RequestedBy int64 `db:"requested_by" json:"requested_by"`
	// VerifiedBy stays nil on auto-approval to mark a machine decision.
	VerifiedBy *int64     `db:"verified_by" json:"verified_by,omitempty"`
	VerifiedAt *time.Time `db:"verified_at" json:"verified_at,omitempty"`
	Notes      string     `db:"notes" json:"notes,omitempty"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

func (v *ValueVerification) IsOpen() bool {
	return v.Status == StatusPending
}

// Verify settles the verification by a human verifier. A nil verifiedValue
// confirms the original value is correct, discarding any resolver-proposed
// value still sitting in VerifiedValue.
func (v *ValueVerification) Verify(verifier int64, verifiedValue *float64, notes string, now time.Time) error {
	if v.Status != StatusPending {
		return domain.NewTransitionError("value verification", v.Status, "verify")
	}
	if verifiedValue != nil {
		v.VerifiedValue = verifiedValue
	} else {
		original := v.OriginalValue
		v.VerifiedValue = &original
	}
	v.Status = StatusVerified
	v.VerifiedBy = &verifier
	v.VerifiedAt = &now
	v.Notes = notes
	return nil
}

// Reject settles the verification negatively. Item fields already touched by
// a provisional value stay as they are.
func (v *ValueVerification) Reject(verifier int64, notes string, now time.Time) error {
	if v.Status != StatusPending {
		return domain.NewTransitionError("value verification", v.Status, "reject")
	}
	v.Status = StatusRejected
	v.VerifiedBy = &verifier
	v.VerifiedAt = &now
	v.Notes = notes
	return nil
}

// CanBeAutoApproved reports whether the deviation between original and
// verified value lies within the configured tolerance.
func (v *ValueVerification) CanBeAutoApproved() bool {
	if v.AutoApproveThreshold == nil || v.VerifiedValue == nil || v.OriginalValue <= 0 {
		return false
	}
	deviation := math.Abs(v.OriginalValue-*v.VerifiedValue) / v.OriginalValue * 100
	return deviation <= *v.AutoApproveThreshold
}

// AutoApprove settles the verification by machine. Legal only when a
// threshold is configured; VerifiedBy stays nil to record the decision as
// machine-made.
func (v *ValueVerification) AutoApprove(now time.Time) error {
	if v.Status != StatusPending {
		return domain.NewTransitionError("value verification", v.Status, "auto-approve")
	}
	if v.AutoApproveThreshold == nil {
		return domain.Invariant("verification %s has no auto-approval threshold configured", v.ID)
	}
	if !v.CanBeAutoApproved() {
		return ErrNotAutoApprovable
	}
	v.Status = StatusAutoApproved
	v.VerifiedAt = &now
	return nil
}
