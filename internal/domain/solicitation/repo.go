package solicitation

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, s *Solicitation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Solicitation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	List(ctx context.Context, status string, limit, offset int) ([]*Solicitation, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
