package settings

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var ErrInvalid = errors.New("invalid settings")

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "settings").Logger()}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

// Update applies p to the stored settings.
func (s *Service) Update(ctx context.Context, p Patch) (*Settings, error) {
	cur, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Apply(cur); err != nil {
		return nil, errors.Join(ErrInvalid, err)
	}
	if err := s.repo.Save(ctx, cur); err != nil {
		return nil, err
	}
	s.logger.Info().Str("theme", cur.Theme).Str("language", cur.Language).Msg("settings updated")
	return cur, nil
}
