package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redecare/redecare/internal/domain"
	"github.com/redecare/redecare/internal/domain/pricing"
)

// Appointment statuses. Completed, cancelled and missed are terminal.
const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusMissed    = "missed"
)

// Guide (authorization form) sub-status, tracked independently of the
// lifecycle status.
const (
	GuidePending    = "pending"
	GuideIssued     = "issued"
	GuideAuthorized = "authorized"
	GuideDenied     = "denied"
)

var terminalStatuses = map[string]bool{
	StatusCompleted: true, StatusCancelled: true, StatusMissed: true,
}

// ProviderRef is the tagged union pointing at the contracted provider
// delivering the care: a clinic or an individual professional.
type ProviderRef struct {
	Kind string `db:"provider_kind" json:"kind"`
	ID   int64  `db:"provider_id" json:"id"`
}

func (p ProviderRef) Valid() bool {
	return (p.Kind == pricing.KindClinic || p.Kind == pricing.KindProfessional) && p.ID > 0
}

func (p ProviderRef) PricingKey() pricing.ProviderKey {
	return pricing.ProviderKey{Kind: p.Kind, ID: p.ID}
}

// Appointment is the scheduled delivery of a solicitation by a provider. Its
// status changes only through the verbs below; a rejected verb returns a
// typed failure and leaves every field untouched.
type Appointment struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	SolicitationID uuid.UUID   `db:"solicitation_id" json:"solicitation_id"`
	Provider       ProviderRef `json:"provider"`
	ScheduledAt    time.Time   `db:"scheduled_at" json:"scheduled_at"`
	Status         string      `db:"status" json:"status"`
	TUSSCode       string      `db:"tuss_code" json:"tuss_code"`
	Amount         float64     `db:"amount" json:"amount"`

	ConfirmedAt *time.Time `db:"confirmed_at" json:"confirmed_at,omitempty"`
	ConfirmedBy *int64     `db:"confirmed_by" json:"confirmed_by,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CompletedBy *int64     `db:"completed_by" json:"completed_by,omitempty"`
	CancelledAt *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy *int64     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelNotes string     `db:"cancel_notes" json:"cancel_notes,omitempty"`

	// PatientAttended stays nil until attendance is recorded.
	PatientAttended    *bool      `db:"patient_attended" json:"patient_attended,omitempty"`
	AttendanceNotes    string     `db:"attendance_notes" json:"attendance_notes,omitempty"`
	EligibleForBilling bool       `db:"eligible_for_billing" json:"eligible_for_billing"`
	BillingBatchID     *uuid.UUID `db:"billing_batch_id" json:"billing_batch_id,omitempty"`
	GuideStatus        string     `db:"guide_status" json:"guide_status"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

func (a *Appointment) IsTerminal() bool {
	return terminalStatuses[a.Status]
}

// Confirm moves scheduled → confirmed.
func (a *Appointment) Confirm(actor int64, now time.Time) error {
	if a.Status != StatusScheduled {
		return domain.NewTransitionError("appointment", a.Status, "confirm")
	}
	a.Status = StatusConfirmed
	a.ConfirmedAt = &now
	a.ConfirmedBy = &actor
	return nil
}

// Complete moves confirmed → completed. Billing eligibility requires the
// patient to have attended.
func (a *Appointment) Complete(actor int64, now time.Time) error {
	if a.Status != StatusConfirmed {
		return domain.NewTransitionError("appointment", a.Status, "complete")
	}
	a.Status = StatusCompleted
	a.CompletedAt = &now
	a.CompletedBy = &actor
	if a.PatientAttended != nil && *a.PatientAttended {
		a.EligibleForBilling = true
	}
	return nil
}

// Cancel is valid from any non-terminal state.
func (a *Appointment) Cancel(actor int64, notes string, now time.Time) error {
	if a.IsTerminal() {
		return domain.NewTransitionError("appointment", a.Status, "cancel")
	}
	a.Status = StatusCancelled
	a.CancelledAt = &now
	a.CancelledBy = &actor
	a.CancelNotes = notes
	a.EligibleForBilling = false
	return nil
}

// MarkAsMissed records a no-show: confirmed → missed.
func (a *Appointment) MarkAsMissed() error {
	if a.Status != StatusConfirmed {
		return domain.NewTransitionError("appointment", a.Status, "mark as missed")
	}
	attended := false
	a.Status = StatusMissed
	a.PatientAttended = &attended
	a.EligibleForBilling = false
	return nil
}

// MarkAsAttended is the back-office attendance correction: it records
// attended=true and forces completed regardless of the prior status,
// bypassing the confirmed guard that Complete enforces. Operator-recorded
// attendance is authoritative; both paths converge on the same state.
func (a *Appointment) MarkAsAttended(actor int64, notes string, now time.Time) {
	attended := true
	a.PatientAttended = &attended
	a.AttendanceNotes = notes
	a.Status = StatusCompleted
	if a.CompletedAt == nil {
		a.CompletedAt = &now
		a.CompletedBy = &actor
	}
	a.EligibleForBilling = true
}

// MarkAsMissedAttendance records attended=false and forces missed. An
// earlier attendance correction is undone in full, completion stamps
// included.
func (a *Appointment) MarkAsMissedAttendance(notes string) {
	attended := false
	a.PatientAttended = &attended
	a.AttendanceNotes = notes
	a.Status = StatusMissed
	a.CompletedAt = nil
	a.CompletedBy = nil
	a.EligibleForBilling = false
}

// CloneForReschedule builds the replacement appointment: fresh identity,
// back to scheduled, every confirmation, attendance and billing mark reset.
func (a *Appointment) CloneForReschedule(newDate time.Time, newProvider *ProviderRef) *Appointment {
	clone := &Appointment{
		SolicitationID: a.SolicitationID,
		Provider:       a.Provider,
		ScheduledAt:    newDate,
		Status:         StatusScheduled,
		TUSSCode:       a.TUSSCode,
		Amount:         a.Amount,
		GuideStatus:    GuidePending,
	}
	if newProvider != nil {
		clone.Provider = *newProvider
	}
	return clone
}

// Rescheduling reasons.
const (
	ReasonPatientRequest      = "patient_request"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonOperational         = "operational"
	ReasonWeather             = "weather"
	ReasonOther               = "other"
)

var validReasons = map[string]bool{
	ReasonPatientRequest: true, ReasonProviderUnavailable: true,
	ReasonOperational: true, ReasonWeather: true, ReasonOther: true,
}

// Rescheduling approval statuses.
const (
	ApprovalPending   = "pending"
	ApprovalApproved  = "approved"
	ApprovalRejected  = "rejected"
	ApprovalCompleted = "completed"
)

// Rescheduling links the cancelled original appointment to its replacement
// and tracks the financial impact and payer approval of the change.
type Rescheduling struct {
	ID                    uuid.UUID `db:"id" json:"id"`
	Number                string    `db:"number" json:"number"`
	OriginalAppointmentID uuid.UUID `db:"original_appointment_id" json:"original_appointment_id"`
	NewAppointmentID      uuid.UUID `db:"new_appointment_id" json:"new_appointment_id"`
	Reason                string    `db:"reason" json:"reason"`
	ReasonDescription     string    `db:"reason_description" json:"reason_description,omitempty"`
	RequestedBy           int64     `db:"requested_by" json:"requested_by"`
	Notes                 string    `db:"notes" json:"notes,omitempty"`

	FinancialImpact bool    `db:"financial_impact" json:"financial_impact"`
	OriginalAmount  float64 `db:"original_amount" json:"original_amount"`
	NewAmount       float64 `db:"new_amount" json:"new_amount"`

	ApprovalStatus string     `db:"approval_status" json:"approval_status"`
	DecidedBy      *int64     `db:"decided_by" json:"decided_by,omitempty"`
	DecidedAt      *time.Time `db:"decided_at" json:"decided_at,omitempty"`
	DecisionNotes  string     `db:"decision_notes" json:"decision_notes,omitempty"`
	WhatsAppSentAt *time.Time `db:"whatsapp_sent_at" json:"whatsapp_sent_at,omitempty"`

	VersionID int        `db:"version_id" json:"version_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// FormatNumber renders a rescheduling business number, e.g. REAG-2025-0042.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("REAG-%d-%04d", year, seq)
}

// Approve moves pending → approved.
func (r *Rescheduling) Approve(actor int64, notes string, now time.Time) error {
	if r.ApprovalStatus != ApprovalPending {
		return domain.NewTransitionError("rescheduling", r.ApprovalStatus, "approve")
	}
	r.ApprovalStatus = ApprovalApproved
	r.DecidedBy = &actor
	r.DecidedAt = &now
	r.DecisionNotes = notes
	return nil
}

// Reject moves pending → rejected.
func (r *Rescheduling) Reject(actor int64, notes string, now time.Time) error {
	if r.ApprovalStatus != ApprovalPending {
		return domain.NewTransitionError("rescheduling", r.ApprovalStatus, "reject")
	}
	r.ApprovalStatus = ApprovalRejected
	r.DecidedBy = &actor
	r.DecidedAt = &now
	r.DecisionNotes = notes
	return nil
}

// Complete moves approved → completed.
func (r *Rescheduling) Complete(actor int64, now time.Time) error {
	if r.ApprovalStatus != ApprovalApproved {
		return domain.NewTransitionError("rescheduling", r.ApprovalStatus, "complete")
	}
	r.ApprovalStatus = ApprovalCompleted
	r.DecidedBy = &actor
	r.DecidedAt = &now
	return nil
}

// MarkWhatsAppSent stamps the coordinator notification dispatch.
func (r *Rescheduling) MarkWhatsAppSent(now time.Time) {
	r.WhatsAppSentAt = &now
}
