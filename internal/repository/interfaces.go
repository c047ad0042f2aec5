package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
)

// Every repository method takes the executor explicitly so the same call
// works on the pool and inside a unit of work. Missing rows surface as
// errors.NotFound from pkg/errors.
type (
	// Transactor hands out the pool and scopes units of work.
	Transactor interface {
		DB() sqlx.ExtContext
		WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	}

	EncounterRepository interface {
		Create(ctx context.Context, q sqlx.ExtContext, e *model.Encounter) error
		Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Encounter, error)
		GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Encounter, error)
		// Start, Complete and Cancel re-check the source status in their WHERE
		// clause and report whether a row was changed.
		Start(ctx context.Context, q sqlx.ExtContext, id, doctorID int64, at time.Time) (bool, error)
		Complete(ctx context.Context, q sqlx.ExtContext, id, doctorID int64, fields model.ClinicalFields, at time.Time) (bool, error)
		Cancel(ctx context.Context, q sqlx.ExtContext, id int64, reason string, at time.Time) (bool, error)
		AttachPatientRecord(ctx context.Context, q sqlx.ExtContext, id, patientRecordID int64) error
		CountInProgressForDoctor(ctx context.Context, q sqlx.ExtContext, doctorID int64, day time.Time, excludeID int64) (int, error)
		ListQueue(ctx context.Context, q sqlx.ExtContext, filter model.QueueFilter) ([]*model.Encounter, error)
		ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.Encounter, error)
		UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, e *model.Encounter) error
	}

	ClinicianRepository interface {
		Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Clinician, error)
	}

	PaymentRepository interface {
		Upsert(ctx context.Context, q sqlx.ExtContext, visitID int64, patientRecordID *int64, amount model.Money) (int64, error)
		Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.PaymentEntry, error)
		GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (*model.PaymentEntry, error)
		GetByVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.PaymentEntry, error)
		MarkPaid(ctx context.Context, q sqlx.ExtContext, id int64, amountPaid, tendered model.Money, receivedBy int64, at time.Time) (bool, error)
		DeletePendingByVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (int64, error)
		AttachPatientRecord(ctx context.Context, q sqlx.ExtContext, visitID, patientRecordID int64) error
		BackfillMissing(ctx context.Context, q sqlx.ExtContext) (int64, error)
	}

	AdmissionRepository interface {
		Create(ctx context.Context, q sqlx.ExtContext, a *model.Admission) error
		Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Admission, error)
		FindActiveBySourceVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.Admission, error)
		GetLatestBySourceVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.Admission, error)
		UpdateStatus(ctx context.Context, q sqlx.ExtContext, id int64, from, to model.AdmissionStatus, at time.Time) (bool, error)
		ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.Admission, error)
		UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, a *model.Admission) error
	}

	InpatientRepository interface {
		FindByNameHash(ctx context.Context, q sqlx.ExtContext, hash string) (*model.InpatientPatient, error)
		Create(ctx context.Context, q sqlx.ExtContext, p *model.InpatientPatient) error
		ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.InpatientPatient, error)
		UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, p *model.InpatientPatient) error
	}

	PatientRecordRepository interface {
		Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.PatientRecord, error)
		FindByNameHash(ctx context.Context, q sqlx.ExtContext, hash string) (*model.PatientRecord, error)
		Create(ctx context.Context, q sqlx.ExtContext, r *model.PatientRecord) error
		ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.PatientRecord, error)
		UpdateSensitiveFields(ctx context.Context, q sqlx.ExtContext, r *model.PatientRecord) error
	}

	ProgressNoteRepository interface {
		Create(ctx context.Context, q sqlx.ExtContext, n *model.ProgressNote) error
		ListByPatientRecord(ctx context.Context, q sqlx.ExtContext, patientRecordID int64) ([]*model.ProgressNote, error)
		ListAfter(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]*model.ProgressNote, error)
		// UpdateNoteText rewrites ciphertext only. Notes are otherwise append-only.
		UpdateNoteText(ctx context.Context, q sqlx.ExtContext, id int64, noteText string) error
	}

	MedicineRepository interface {
		GetForShare(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Medicine, error)
		CreateOrder(ctx context.Context, q sqlx.ExtContext, order *model.PharmacyOrder) error
	}

	OutboxRepository interface {
		Create(ctx context.Context, q sqlx.ExtContext, event *model.OutboxEvent) error
		GetPendingForUpdate(ctx context.Context, q sqlx.ExtContext, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error
		MarkRetry(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, errorMessage string, retryAt time.Time) error
		MarkFailed(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, errorMessage string) error
		DeleteProcessedBefore(ctx context.Context, q sqlx.ExtContext, before time.Time) (int64, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, q sqlx.ExtContext, log *model.AuditLog) error
		ListByEntity(ctx context.Context, q sqlx.ExtContext, entityType string, entityID int64) ([]*model.AuditLog, error)
		DeleteBefore(ctx context.Context, q sqlx.ExtContext, cutoff time.Time) (int64, error)
	}
)

// Executor returns tx when a unit of work is open and the pool otherwise.
func Executor(t Transactor, tx *sqlx.Tx) sqlx.ExtContext {
	if tx == nil {
		return t.DB()
	}
	return tx
}
