package encounter

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists encounters. Implementations return ErrNotFound for
// unknown ids.
type Repository interface {
	Create(ctx context.Context, enc *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, enc *Encounter) error
	// List returns encounters newest first along with the total count.
	List(ctx context.Context, limit, offset int) ([]*Encounter, int, error)
}
