package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Get(ctx context.Context) (*Settings, error) {
	var s Settings
	err := r.pool.QueryRow(ctx, `SELECT theme, language, updated_at FROM settings WHERE id = 1`).
		Scan(&s.Theme, &s.Language, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *repoPG) Save(ctx context.Context, s *Settings) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO settings (id, theme, language, updated_at)
		VALUES (1, $1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET theme = EXCLUDED.theme, language = EXCLUDED.language, updated_at = NOW()
		RETURNING updated_at`,
		s.Theme, s.Language,
	).Scan(&s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
