package encounter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medscribe/medscribe/internal/platform/sqlite"
)

type repoSQLite struct {
	db *sqlite.DB
}

// NewSQLiteRepo stores encounters in SQLite. Attachment paths are kept as a
// JSON array in a TEXT column.
func NewSQLiteRepo(db *sqlite.DB) Repository {
	return &repoSQLite{db: db}
}

func (r *repoSQLite) Create(ctx context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	now := time.Now().UTC()
	enc.CreatedAt, enc.UpdatedAt = now, now

	paths, err := encodePaths(enc.ClinicalFilePaths)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO encounters (id, title, audio_path, clinical_file_paths, text_notes, transcript, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		enc.ID.String(), enc.Title, enc.AudioPath, paths, enc.TextNotes, enc.Transcript, string(enc.Status),
		enc.CreatedAt, enc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *repoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+encCols+` FROM encounters WHERE id = ?`, id.String())
	enc, err := scanSQLiteEnc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan encounter: %w", err)
	}
	return enc, nil
}

func (r *repoSQLite) Update(ctx context.Context, enc *Encounter) error {
	paths, err := encodePaths(enc.ClinicalFilePaths)
	if err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE encounters SET title = ?, audio_path = ?, clinical_file_paths = ?,
			text_notes = ?, transcript = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		enc.Title, enc.AudioPath, paths, enc.TextNotes, enc.Transcript, string(enc.Status), updatedAt,
		enc.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update encounter %s: %w", enc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	enc.UpdatedAt = updatedAt
	return nil
}

func (r *repoSQLite) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM encounters`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+encCols+` FROM encounters
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	var items []*Encounter
	for rows.Next() {
		enc, err := scanSQLiteEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, enc)
	}
	return items, total, rows.Err()
}

func scanSQLiteEnc(row scanner) (*Encounter, error) {
	var (
		enc    Encounter
		id     string
		status string
		paths  string
	)
	err := row.Scan(&id, &enc.Title, &enc.AudioPath, &paths, &enc.TextNotes, &enc.Transcript,
		&status, &enc.CreatedAt, &enc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if enc.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse encounter id %q: %w", id, err)
	}
	enc.Status = Status(status)
	if err := json.Unmarshal([]byte(paths), &enc.ClinicalFilePaths); err != nil {
		return nil, fmt.Errorf("decode clinical_file_paths for %s: %w", id, err)
	}
	if enc.ClinicalFilePaths == nil {
		enc.ClinicalFilePaths = []string{}
	}
	return &enc, nil
}

func encodePaths(paths []string) (string, error) {
	if paths == nil {
		paths = []string{}
	}
	b, err := json.Marshal(paths)
	if err != nil {
		return "", fmt.Errorf("encode clinical_file_paths: %w", err)
	}
	return string(b), nil
}
