package encounter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscribe/medscribe/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const encCols = `id, title, audio_path, clinical_file_paths, text_notes, transcript,
	status, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, enc *Encounter) error {
	enc.ID = uuid.New()
	if enc.ClinicalFilePaths == nil {
		enc.ClinicalFilePaths = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounters (id, title, audio_path, clinical_file_paths, text_notes, transcript, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		enc.ID, enc.Title, enc.AudioPath, enc.ClinicalFilePaths, enc.TextNotes, enc.Transcript, enc.Status,
	).Scan(&enc.CreatedAt, &enc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert encounter: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return r.scanOne(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounters WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, enc *Encounter) error {
	if enc.ClinicalFilePaths == nil {
		enc.ClinicalFilePaths = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE encounters SET title = $2, audio_path = $3, clinical_file_paths = $4,
			text_notes = $5, transcript = $6, status = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		enc.ID, enc.Title, enc.AudioPath, enc.ClinicalFilePaths, enc.TextNotes, enc.Transcript, enc.Status,
	).Scan(&enc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update encounter %s: %w", enc.ID, err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Encounter, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounters`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+encCols+` FROM encounters
		ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	defer rows.Close()

	var items []*Encounter
	for rows.Next() {
		enc, err := scanEnc(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, enc)
	}
	return items, total, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEnc(row scanner) (*Encounter, error) {
	var enc Encounter
	err := row.Scan(&enc.ID, &enc.Title, &enc.AudioPath, &enc.ClinicalFilePaths,
		&enc.TextNotes, &enc.Transcript, &enc.Status, &enc.CreatedAt, &enc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if enc.ClinicalFilePaths == nil {
		enc.ClinicalFilePaths = []string{}
	}
	return &enc, nil
}

func (r *repoPG) scanOne(row pgx.Row) (*Encounter, error) {
	enc, err := scanEnc(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan encounter: %w", err)
	}
	return enc, nil
}
