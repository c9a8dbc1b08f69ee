package solicitation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, sol *Solicitation) error {
	if sol.PatientID == 0 {
		return fmt.Errorf("patient_id is required")
	}
	if sol.TUSSCode == "" {
		return fmt.Errorf("tuss_code is required")
	}
	if sol.Status == "" {
		sol.Status = StatusPending
	}
	if !validStatuses[sol.Status] {
		return fmt.Errorf("invalid solicitation status: %s", sol.Status)
	}
	return s.repo.Create(ctx, sol)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Solicitation, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Solicitation, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, fmt.Errorf("invalid solicitation status: %s", status)
	}
	return s.repo.List(ctx, status, limit, offset)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
