package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

const inpatientColumns = `id, full_name, name_hash, contact_number, address, gender, age, created_at, updated_at`

type inpatientRepository struct{}

func NewInpatientRepository() repository.InpatientRepository {
	return &inpatientRepository{}
}

func (r *inpatientRepository) FindByNameHash(ctx context.Context, q sqlx.ExtContext, hash string) (*model.InpatientPatient, error) {
	query := `
		SELECT ` + inpatientColumns + `
		FROM patients
		WHERE name_hash = $1
		ORDER BY id ASC LIMIT 1
	`
	var p model.InpatientPatient
	if err := getOne(ctx, q, &p, "patient", query, hash); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *inpatientRepository) Create(ctx context.Context, q sqlx.ExtContext, p *model.InpatientPatient) error {
	query := `
		INSERT INTO patients (full_name, name_hash, contact_number, address, gender, age)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	row := q.QueryRowxContext(ctx, query, p.FullName, p.NameHash, p.ContactNumber, p.Address, p.Gender, p.Age)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create patient: %w", err)
	}
	return nil
}

func (r *inpatientRepository) ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.InpatientPatient, error) {
	query := `SELECT ` + inpatientColumns + ` FROM patients WHERE id > $1 ORDER BY id ASC LIMIT $2`
	var patients []*model.InpatientPatient
	if err := sqlx.SelectContext(ctx, q, &patients, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	return patients, nil
}

func (r *inpatientRepository) UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, p *model.InpatientPatient) error {
	query := `
		UPDATE patients
		SET full_name = $1, contact_number = $2, address = $3
		WHERE id = $4
	`
	if _, err := q.ExecContext(ctx, query, p.FullName, p.ContactNumber, p.Address, p.ID); err != nil {
		return fmt.Errorf("failed to rewrite patient %d: %w", p.ID, err)
	}
	return nil
}
