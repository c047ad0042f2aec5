package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

const admissionColumns = `
	id, patient_id, source_visit_id, admission_reason, initial_notes, requested_by,
	admission_status, admitted_at, discharged_at, created_at, updated_at`

type admissionRepository struct{}

func NewAdmissionRepository() repository.AdmissionRepository {
	return &admissionRepository{}
}

func (r *admissionRepository) Create(ctx context.Context, q sqlx.ExtContext, a *model.Admission) error {
	query := `
		INSERT INTO admissions (
			patient_id, source_visit_id, admission_reason, initial_notes,
			requested_by, admission_status
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	row := q.QueryRowxContext(ctx, query,
		a.PatientID,
		a.SourceVisitID,
		a.AdmissionReason,
		a.InitialNotes,
		a.RequestedBy,
		a.AdmissionStatus,
	)
	if err := row.Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return errActiveAdmissionExists
		}
		return fmt.Errorf("failed to create admission: %w", err)
	}
	return nil
}

func (r *admissionRepository) Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Admission, error) {
	var a model.Admission
	if err := getOne(ctx, q, &a, "admission", `SELECT `+admissionColumns+` FROM admissions WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *admissionRepository) FindActiveBySourceVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.Admission, error) {
	statuses := make([]string, len(model.ActiveAdmissionStatuses))
	for i, s := range model.ActiveAdmissionStatuses {
		statuses[i] = string(s)
	}
	query := `
		SELECT ` + admissionColumns + ` FROM admissions
		WHERE source_visit_id = $1 AND admission_status = ANY($2)
		ORDER BY id DESC LIMIT 1
	`
	var a model.Admission
	if err := getOne(ctx, q, &a, "admission", query, visitID, pq.Array(statuses)); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *admissionRepository) GetLatestBySourceVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.Admission, error) {
	query := `SELECT ` + admissionColumns + ` FROM admissions WHERE source_visit_id = $1 ORDER BY id DESC LIMIT 1`
	var a model.Admission
	if err := getOne(ctx, q, &a, "admission", query, visitID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *admissionRepository) UpdateStatus(ctx context.Context, q sqlx.ExtContext, id int64, from, to model.AdmissionStatus, at time.Time) (bool, error) {
	query := `
		UPDATE admissions
		SET admission_status = $1,
			admitted_at = CASE WHEN $1 = 'admitted' THEN $2 ELSE admitted_at END,
			discharged_at = CASE WHEN $1 = 'discharged' THEN $2 ELSE discharged_at END,
			updated_at = $2
		WHERE id = $3 AND admission_status = $4
	`
	ok, err := execAffected(ctx, q, query, string(to), at, id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to update admission status: %w", err)
	}
	return ok, nil
}

func (r *admissionRepository) ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.Admission, error) {
	query := `SELECT ` + admissionColumns + ` FROM admissions WHERE id > $1 ORDER BY id ASC LIMIT $2`
	var admissions []*model.Admission
	if err := sqlx.SelectContext(ctx, q, &admissions, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list admissions: %w", err)
	}
	return admissions, nil
}

// UpdateSensitiveFields rewrites the encrypted clinical text. Status columns are untouched.
func (r *admissionRepository) UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, a *model.Admission) error {
	query := `UPDATE admissions SET admission_reason = $1, initial_notes = $2 WHERE id = $3`
	if _, err := q.ExecContext(ctx, query, a.AdmissionReason, a.InitialNotes, a.ID); err != nil {
		return fmt.Errorf("failed to rewrite admission %d: %w", a.ID, err)
	}
	return nil
}
