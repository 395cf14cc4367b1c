package analysis

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medscribe/medscribe/internal/platform/sqlite"
)

type repoSQLite struct {
	db *sqlite.DB
}

func NewSQLiteRepo(db *sqlite.DB) Repository {
	return &repoSQLite{db: db}
}

func (r *repoSQLite) Create(ctx context.Context, a *Analysis) error {
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	cols, err := encodeResult(a)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO analyses (id, encounter_id, kind, differential, plan, visual_findings, report,
			status, error, final_note, task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.EncounterID.String(), string(a.Kind),
		nullText(cols.differential), nullText(cols.plan), nullText(cols.visualFindings), a.Report,
		string(a.Status), a.Error, a.FinalNote, a.TaskID, a.CreatedAt, a.UpdatedAt,
	)
	if sqlite.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

func (r *repoSQLite) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*Analysis, error) {
	var (
		a                          Analysis
		id, encID, kind, status    string
		differential, plan, visual sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT `+analysisCols+` FROM analyses WHERE encounter_id = ?`, encounterID.String()).
		Scan(&id, &encID, &kind, &differential, &plan, &visual, &a.Report,
			&status, &a.Error, &a.FinalNote, &a.TaskID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis for encounter %s: %w", encounterID, err)
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse analysis id %q: %w", id, err)
	}
	if a.EncounterID, err = uuid.Parse(encID); err != nil {
		return nil, fmt.Errorf("parse encounter id %q: %w", encID, err)
	}
	a.Kind = Kind(kind)
	a.Status = Status(status)

	cols := resultColumns{
		differential:   []byte(differential.String),
		plan:           []byte(plan.String),
		visualFindings: []byte(visual.String),
	}
	if err := cols.decodeInto(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repoSQLite) Update(ctx context.Context, a *Analysis) error {
	cols, err := encodeResult(a)
	if err != nil {
		return err
	}
	updatedAt := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE analyses SET kind = ?, differential = ?, plan = ?, visual_findings = ?, report = ?,
			status = ?, error = ?, final_note = ?, task_id = ?, updated_at = ?
		WHERE id = ?`,
		string(a.Kind), nullText(cols.differential), nullText(cols.plan), nullText(cols.visualFindings), a.Report,
		string(a.Status), a.Error, a.FinalNote, a.TaskID, updatedAt, a.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update analysis %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	a.UpdatedAt = updatedAt
	return nil
}

func nullText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
