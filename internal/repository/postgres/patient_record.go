package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

const patientRecordColumns = `id, patient_name, contact_number, address, name_hash, created_at, updated_at`

type patientRecordRepository struct{}

func NewPatientRecordRepository() repository.PatientRecordRepository {
	return &patientRecordRepository{}
}

func (r *patientRecordRepository) Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.PatientRecord, error) {
	var rec model.PatientRecord
	if err := getOne(ctx, q, &rec, "patient record", `SELECT `+patientRecordColumns+` FROM patient_records WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByNameHash returns the oldest match. There is no unique constraint on the hash.
func (r *patientRecordRepository) FindByNameHash(ctx context.Context, q sqlx.ExtContext, hash string) (*model.PatientRecord, error) {
	query := `SELECT ` + patientRecordColumns + ` FROM patient_records WHERE name_hash = $1 ORDER BY id ASC LIMIT 1`
	var rec model.PatientRecord
	if err := getOne(ctx, q, &rec, "patient record", query, hash); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *patientRecordRepository) Create(ctx context.Context, q sqlx.ExtContext, rec *model.PatientRecord) error {
	query := `
		INSERT INTO patient_records (patient_name, contact_number, address, name_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	row := q.QueryRowxContext(ctx, query, rec.PatientName, rec.ContactNumber, rec.Address, rec.NameHash)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create patient record: %w", err)
	}
	return nil
}

func (r *patientRecordRepository) ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.PatientRecord, error) {
	query := `SELECT ` + patientRecordColumns + ` FROM patient_records WHERE id > $1 ORDER BY id ASC LIMIT $2`
	var recs []*model.PatientRecord
	if err := sqlx.SelectContext(ctx, q, &recs, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list patient records: %w", err)
	}
	return recs, nil
}

// UpdateSensitiveFields rewrites the encrypted identity columns. name_hash is
// computed from plaintext and does not change.
func (r *patientRecordRepository) UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, rec *model.PatientRecord) error {
	query := `
		UPDATE patient_records
		SET patient_name = $1, contact_number = $2, address = $3
		WHERE id = $4
	`
	if _, err := q.ExecContext(ctx, query, rec.PatientName, rec.ContactNumber, rec.Address, rec.ID); err != nil {
		return fmt.Errorf("failed to rewrite patient record %d: %w", rec.ID, err)
	}
	return nil
}
