package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medscribe/medscribe/internal/platform/sqlite"
)

type repoSQLite struct {
	db *sqlite.DB
}

func NewSQLiteRepo(db *sqlite.DB) Repository {
	return &repoSQLite{db: db}
}

func (r *repoSQLite) Get(ctx context.Context) (*Settings, error) {
	var s Settings
	err := r.db.QueryRowContext(ctx, `SELECT theme, language, updated_at FROM settings WHERE id = 1`).
		Scan(&s.Theme, &s.Language, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}

func (r *repoSQLite) Save(ctx context.Context, s *Settings) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings (id, theme, language, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET theme = excluded.theme, language = excluded.language, updated_at = excluded.updated_at`,
		s.Theme, s.Language, now,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.UpdatedAt = now
	return nil
}
