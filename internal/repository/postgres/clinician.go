package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

type clinicianRepository struct{}

func NewClinicianRepository() repository.ClinicianRepository {
	return &clinicianRepository{}
}

func (r *clinicianRepository) Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Clinician, error) {
	query := `SELECT id, full_name, role, specialty, active FROM clinicians WHERE id = $1`
	var c model.Clinician
	if err := getOne(ctx, q, &c, "clinician", query, id); err != nil {
		return nil, err
	}
	return &c, nil
}
