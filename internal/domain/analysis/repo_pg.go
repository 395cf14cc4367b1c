package analysis

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

const pgUniqueViolation = "23505"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const analysisCols = `id, encounter_id, kind, differential, plan, visual_findings, report,
	status, error, final_note, task_id, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Analysis) error {
	a.ID = uuid.New()
	cols, err := encodeResult(a)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO analyses (id, encounter_id, kind, differential, plan, visual_findings, report,
			status, error, final_note, task_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		a.ID, a.EncounterID, a.Kind, cols.differential, cols.plan, cols.visualFindings, a.Report,
		a.Status, a.Error, a.FinalNote, a.TaskID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (r *repoPG) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Analysis, error) {
	var (
		a    Analysis
		cols resultColumns
	)
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+analysisCols+` FROM analyses WHERE encounter_id = $1`, encounterID).
		Scan(&a.ID, &a.EncounterID, &a.Kind, &cols.differential, &cols.plan, &cols.visualFindings, &a.Report,
			&a.Status, &a.Error, &a.FinalNote, &a.TaskID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis for encounter %s: %w", encounterID, err)
	}
	if err := cols.decodeInto(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoPG) Update(ctx context.Context, a *Analysis) error {
	cols, err := encodeResult(a)
	if err != nil {
		return err
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE analyses SET kind = $2, differential = $3, plan = $4, visual_findings = $5, report = $6,
			status = $7, error = $8, final_note = $9, task_id = $10, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.Kind, cols.differential, cols.plan, cols.visualFindings, a.Report,
		a.Status, a.Error, a.FinalNote, a.TaskID,
	).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update analysis %s: %w", a.ID, err)
	}
	return nil
}
