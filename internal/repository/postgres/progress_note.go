package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

const progressNoteColumns = `id, patient_record_id, visit_id, note_text, author_id, created_at`

type progressNoteRepository struct{}

func NewProgressNoteRepository() repository.ProgressNoteRepository {
	return &progressNoteRepository{}
}

func (r *progressNoteRepository) Create(ctx context.Context, q sqlx.ExtContext, n *model.ProgressNote) error {
	query := `
		INSERT INTO progress_notes (patient_record_id, visit_id, note_text, author_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	row := q.QueryRowxContext(ctx, query, n.PatientRecordID, n.VisitID, n.NoteText, n.AuthorID)
	if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("failed to append progress note: %w", err)
	}
	return nil
}

func (r *progressNoteRepository) ListByPatientRecord(ctx context.Context, q sqlx.ExtContext, patientRecordID int64) ([]*model.ProgressNote, error) {
	query := `
		SELECT ` + progressNoteColumns + `
		FROM progress_notes
		WHERE patient_record_id = $1
		ORDER BY created_at ASC, id ASC
	`
	var notes []*model.ProgressNote
	if err := sqlx.SelectContext(ctx, q, &notes, query, patientRecordID); err != nil {
		return nil, fmt.Errorf("failed to list progress notes: %w", err)
	}
	return notes, nil
}

func (r *progressNoteRepository) ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.ProgressNote, error) {
	query := `SELECT ` + progressNoteColumns + ` FROM progress_notes WHERE id > $1 ORDER BY id ASC LIMIT $2`
	var notes []*model.ProgressNote
	if err := sqlx.SelectContext(ctx, q, &notes, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list progress notes: %w", err)
	}
	return notes, nil
}

func (r *progressNoteRepository) UpdateNoteText(ctx context.Context, q sqlx.ExtContext, id int64, noteText string) error {
	if _, err := q.ExecContext(ctx, `UPDATE progress_notes SET note_text = $1 WHERE id = $2`, noteText, id); err != nil {
		return fmt.Errorf("failed to rewrite progress note %d: %w", id, err)
	}
	return nil
}
