package verification

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *ValueVerification) error
	GetByID(ctx context.Context, id uuid.UUID) (*ValueVerification, error)
	Update(ctx context.Context, v *ValueVerification) error
	List(ctx context.Context, status string, limit, offset int) ([]*ValueVerification, int, error)
	// HasOpenForSubject reports whether a pending verification exists for the
	// subject, feeding the item-level verification heuristic.
	HasOpenForSubject(ctx context.Context, subject SubjectRef) (bool, error)
}
