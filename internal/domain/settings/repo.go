package settings

import "context"

// Repository reads and writes the single settings row. Get returns the
// defaults when nothing has been saved yet.
type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
}
