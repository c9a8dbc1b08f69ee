package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update persists the aggregate with an optimistic version check and
	// increments VersionID on success.
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListBySolicitation(ctx context.Context, solicitationID uuid.UUID) ([]*Appointment, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Appointment, int, error)
	CountActiveBySolicitation(ctx context.Context, solicitationID uuid.UUID) (int, error)
	// ListEligibleUnbatched returns billing-eligible completed appointments
	// for a provider within a period that are not yet in a batch.
	ListEligibleUnbatched(ctx context.Context, provider ProviderRef, from, to time.Time) ([]*Appointment, error)
	// ListBillableProviders returns the distinct providers having eligible
	// un-batched appointments within the period.
	ListBillableProviders(ctx context.Context, from, to time.Time) ([]ProviderRef, error)
	AssignBatch(ctx context.Context, appointmentID, batchID uuid.UUID) error
}

type ReschedulingRepository interface {
	Create(ctx context.Context, r *Rescheduling) error
	GetByID(ctx context.Context, id uuid.UUID) (*Rescheduling, error)
	Update(ctx context.Context, r *Rescheduling) error
	ListByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Rescheduling, error)
	List(ctx context.Context, approvalStatus string, limit, offset int) ([]*Rescheduling, int, error)
}
