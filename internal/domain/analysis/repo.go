package analysis

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists analyses keyed by encounter.
type Repository interface {
	// Create inserts a new analysis. It returns ErrDuplicate when the
	// encounter already has one.
	Create(ctx context.Context, a *Analysis) error
	GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Analysis, error)
	Update(ctx context.Context, a *Analysis) error
}
