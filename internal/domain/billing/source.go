package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/redecare/redecare/internal/domain/appointment"
)

// BillableAppointment is the slice of an appointment the aggregator needs to
// turn it into a billing item.
type BillableAppointment struct {
	ID       uuid.UUID
	TUSSCode string
	Amount   float64
}

// AppointmentSource feeds the batch generator with billable work and lets it
// stamp consumed appointments with their batch.
type AppointmentSource interface {
	ListBillableProviders(ctx context.Context, from, to time.Time) ([]EntityRef, error)
	ListEligibleUnbatched(ctx context.Context, entity EntityRef, from, to time.Time) ([]BillableAppointment, error)
	AssignBatch(ctx context.Context, appointmentID, batchID uuid.UUID) error
}

type appointmentSource struct {
	repo appointment.Repository
}

// NewAppointmentSource adapts the appointment repository into the
// aggregator's source interface.
func NewAppointmentSource(repo appointment.Repository) AppointmentSource {
	return &appointmentSource{repo: repo}
}

func (s *appointmentSource) ListBillableProviders(ctx context.Context, from, to time.Time) ([]EntityRef, error) {
	providers, err := s.repo.ListBillableProviders(ctx, from, to)
	if err != nil {
		return nil, err
	}
	result := make([]EntityRef, 0, len(providers))
	for _, p := range providers {
		result = append(result, EntityRef{Kind: p.Kind, ID: p.ID})
	}
	return result, nil
}

func (s *appointmentSource) ListEligibleUnbatched(ctx context.Context, entity EntityRef, from, to time.Time) ([]BillableAppointment, error) {
	appts, err := s.repo.ListEligibleUnbatched(ctx,
		appointment.ProviderRef{Kind: entity.Kind, ID: entity.ID}, from, to)
	if err != nil {
		return nil, err
	}
	result := make([]BillableAppointment, 0, len(appts))
	for _, a := range appts {
		result = append(result, BillableAppointment{
			ID:       a.ID,
			TUSSCode: a.TUSSCode,
			Amount:   a.Amount,
		})
	}
	return result, nil
}

func (s *appointmentSource) AssignBatch(ctx context.Context, appointmentID, batchID uuid.UUID) error {
	if err := s.repo.AssignBatch(ctx, appointmentID, batchID); err != nil {
		return fmt.Errorf("assign appointment %s to batch %s: %w", appointmentID, batchID, err)
	}
	return nil
}
