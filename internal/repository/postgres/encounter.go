package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

const encounterColumns = `
	id, patient_record_id, patient_name, contact_number, address, age, gender,
	blood_pressure, temperature, pulse_rate, weight,
	symptoms, diagnosis, treatment_plan, prescription, notes,
	visit_type, visit_status, doctor_id, requested_specialty,
	arrival_time, consultation_start, consultation_end, follow_up_date,
	cancel_reason, created_at, updated_at`

type encounterRepository struct{}

func NewEncounterRepository() repository.EncounterRepository {
	return &encounterRepository{}
}

func (r *encounterRepository) Create(ctx context.Context, q sqlx.ExtContext, e *model.Encounter) error {
	query := `
		INSERT INTO opd_visits (
			patient_record_id, patient_name, contact_number, address, age, gender,
			blood_pressure, temperature, pulse_rate, weight, symptoms,
			visit_type, visit_status, doctor_id, requested_specialty, arrival_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at
	`
	row := q.QueryRowxContext(ctx, query,
		e.PatientRecordID,
		e.PatientName,
		e.ContactNumber,
		e.Address,
		e.Age,
		e.Gender,
		e.BloodPressure,
		e.Temperature,
		e.PulseRate,
		e.Weight,
		e.Symptoms,
		e.VisitType,
		e.VisitStatus,
		e.DoctorID,
		e.RequestedSpecialty,
		e.ArrivalTime,
	)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	return nil
}

func (r *encounterRepository) Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Encounter, error) {
	var e model.Encounter
	query := `SELECT ` + encounterColumns + ` FROM opd_visits WHERE id = $1`
	if err := getOne(ctx, q, &e, "visit", query, id); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *encounterRepository) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Encounter, error) {
	var e model.Encounter
	query := `SELECT ` + encounterColumns + ` FROM opd_visits WHERE id = $1 FOR UPDATE`
	if err := getOne(ctx, q, &e, "visit", query, id); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *encounterRepository) Start(ctx context.Context, q sqlx.ExtContext, id, doctorID int64, at time.Time) (bool, error) {
	query := `
		UPDATE opd_visits
		SET visit_status = $1, doctor_id = $2, consultation_start = $3, updated_at = $3
		WHERE id = $4
		AND visit_status = $5
		AND (doctor_id IS NULL OR doctor_id = $2)
	`
	ok, err := execAffected(ctx, q, query,
		model.VisitStatusInProgress, doctorID, at, id, model.VisitStatusWaiting)
	if err != nil {
		return false, fmt.Errorf("failed to start visit: %w", err)
	}
	return ok, nil
}

// Complete expects fields to hold ciphertext already.
func (r *encounterRepository) Complete(ctx context.Context, q sqlx.ExtContext, id, doctorID int64, fields model.ClinicalFields, at time.Time) (bool, error) {
	query := `
		UPDATE opd_visits
		SET visit_status = $1,
			diagnosis = $2,
			treatment_plan = $3,
			prescription = $4,
			notes = $5,
			follow_up_date = $6,
			consultation_end = $7,
			updated_at = $7
		WHERE id = $8
		AND visit_status = $9
		AND doctor_id = $10
	`
	ok, err := execAffected(ctx, q, query,
		model.VisitStatusCompleted,
		fields.Diagnosis,
		fields.TreatmentPlan,
		fields.Prescription,
		fields.Notes,
		fields.FollowUpDate,
		at,
		id,
		model.VisitStatusInProgress,
		doctorID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete visit: %w", err)
	}
	return ok, nil
}

func (r *encounterRepository) Cancel(ctx context.Context, q sqlx.ExtContext, id int64, reason string, at time.Time) (bool, error) {
	query := `
		UPDATE opd_visits
		SET visit_status = $1, cancel_reason = NULLIF($2, ''), updated_at = $3
		WHERE id = $4 AND visit_status = $5
	`
	ok, err := execAffected(ctx, q, query,
		model.VisitStatusCancelled, reason, at, id, model.VisitStatusWaiting)
	if err != nil {
		return false, fmt.Errorf("failed to cancel visit: %w", err)
	}
	return ok, nil
}

// AttachPatientRecord only fills an empty link; an existing link is kept.
func (r *encounterRepository) AttachPatientRecord(ctx context.Context, q sqlx.ExtContext, id, patientRecordID int64) error {
	query := `
		UPDATE opd_visits
		SET patient_record_id = $1, updated_at = NOW()
		WHERE id = $2 AND patient_record_id IS NULL
	`
	if _, err := q.ExecContext(ctx, query, patientRecordID, id); err != nil {
		return fmt.Errorf("failed to link patient record: %w", err)
	}
	return nil
}

func (r *encounterRepository) CountInProgressForDoctor(ctx context.Context, q sqlx.ExtContext, doctorID int64, day time.Time, excludeID int64) (int, error) {
	start, end := dayBounds(day)
	query := `
		SELECT COUNT(*) FROM opd_visits
		WHERE doctor_id = $1
		AND visit_status = $2
		AND consultation_start >= $3 AND consultation_start < $4
		AND id <> $5
	`
	var n int
	if err := sqlx.GetContext(ctx, q, &n, query, doctorID, model.VisitStatusInProgress, start, end, excludeID); err != nil {
		return 0, fmt.Errorf("failed to count active consultations: %w", err)
	}
	return n, nil
}

func (r *encounterRepository) ListQueue(ctx context.Context, q sqlx.ExtContext, filter model.QueueFilter) ([]*model.Encounter, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.DoctorID != nil {
		args = append(args, *filter.DoctorID)
		conditions = append(conditions, fmt.Sprintf("(doctor_id = $%d OR doctor_id IS NULL)", len(args)))
	}

	if !filter.Day.IsZero() {
		start, end := dayBounds(filter.Day)
		args = append(args, start, end)
		conditions = append(conditions, fmt.Sprintf("arrival_time >= $%d AND arrival_time < $%d", len(args)-1, len(args)))
	}

	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []model.VisitStatus{model.VisitStatusWaiting, model.VisitStatusInProgress}
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	args = append(args, pq.Array(names))
	conditions = append(conditions, fmt.Sprintf("visit_status = ANY($%d)", len(args)))

	query := `SELECT ` + encounterColumns + ` FROM opd_visits WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY arrival_time ASC, id ASC`

	var visits []*model.Encounter
	if err := sqlx.SelectContext(ctx, q, &visits, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return visits, nil
}

func (r *encounterRepository) ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.Encounter, error) {
	query := `SELECT ` + encounterColumns + ` FROM opd_visits WHERE id > $1 ORDER BY id ASC LIMIT $2`
	var visits []*model.Encounter
	if err := sqlx.SelectContext(ctx, q, &visits, query, afterID, limit); err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return visits, nil
}

// UpdateSensitiveFields rewrites encrypted columns only. Status and linkage stay untouched.
func (r *encounterRepository) UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, e *model.Encounter) error {
	query := `
		UPDATE opd_visits
		SET patient_name = $1,
			contact_number = $2,
			address = $3,
			symptoms = $4,
			diagnosis = $5,
			treatment_plan = $6,
			prescription = $7,
			notes = $8
		WHERE id = $9
	`
	_, err := q.ExecContext(ctx, query,
		e.PatientName,
		e.ContactNumber,
		e.Address,
		e.Symptoms,
		e.Diagnosis,
		e.TreatmentPlan,
		e.Prescription,
		e.Notes,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to rewrite visit %d: %w", e.ID, err)
	}
	return nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
