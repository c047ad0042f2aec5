package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
)

func TestEncounterRepository_StartIsStatusQualified(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEncounterRepository()
	now := time.Now()

	mock.ExpectExec(`UPDATE opd_visits\s+SET visit_status = \$1, doctor_id = \$2`).
		WithArgs(model.VisitStatusInProgress, int64(1), now, int64(42), model.VisitStatusWaiting).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE opd_visits`).
		WithArgs(model.VisitStatusInProgress, int64(2), now, int64(42), model.VisitStatusWaiting).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Start(context.Background(), db, 42, 1, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Start(context.Background(), db, 42, 2, now)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEncounterRepository_GetMissingIsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEncounterRepository()

	mock.ExpectQuery(`SELECT .* FROM opd_visits WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), db, 99)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPaymentRepository_UpsertReturnsExistingPaidEntry(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository()

	// The conditional DO UPDATE skips paid rows, so RETURNING yields nothing.
	mock.ExpectQuery(`INSERT INTO opd_payments .* ON CONFLICT \(visit_id\) DO UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT id FROM opd_payments WHERE visit_id = \$1`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	id, err := repo.Upsert(context.Background(), db, 8, nil, model.Money(15000))
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_UpsertInsertsPending(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository()

	mock.ExpectQuery(`INSERT INTO opd_payments`).
		WithArgs(int64(8), nil, "150.00", model.PaymentStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := repo.Upsert(context.Background(), db, 8, nil, model.Money(15000))
	require.NoError(t, err)
	assert.Equal(t, int64(11), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_BackfillSkipsAdmittedVisits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaymentRepository()

	mock.ExpectExec(`NOT EXISTS \(SELECT 1 FROM admissions a WHERE a.source_visit_id = v.id\)\s+ON CONFLICT \(visit_id\) DO NOTHING`).
		WithArgs(model.PaymentStatusPending, model.VisitStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.BackfillMissing(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmissionRepository_CreateMapsUniqueViolationToConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAdmissionRepository()
	visitID := int64(7)

	mock.ExpectQuery(`INSERT INTO admissions`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})

	err := repo.Create(context.Background(), db, &model.Admission{
		PatientID:       1,
		SourceVisitID:   &visitID,
		RequestedBy:     3,
		AdmissionStatus: model.AdmissionStatusPending,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
}

func TestSensitiveRewritesTouchOnlyEncryptedColumns(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE admissions SET admission_reason = \$1, initial_notes = \$2 WHERE id = \$3`).
		WithArgs("reason-ct", "notes-ct", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE progress_notes SET note_text = \$1 WHERE id = \$2`).
		WithArgs("note-ct", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE patients\s+SET full_name = \$1, contact_number = \$2, address = \$3\s+WHERE id = \$4`).
		WithArgs("name-ct", "contact-ct", "address-ct", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewAdmissionRepository().UpdateSensitiveFields(ctx, db,
		&model.Admission{ID: 3, AdmissionReason: "reason-ct", InitialNotes: "notes-ct", AdmissionStatus: model.AdmissionStatusAdmitted}))
	require.NoError(t, NewProgressNoteRepository().UpdateNoteText(ctx, db, 4, "note-ct"))
	require.NoError(t, NewInpatientRepository().UpdateSensitiveFields(ctx, db,
		&model.InpatientPatient{ID: 5, FullName: "name-ct", ContactNumber: "contact-ct", Address: "address-ct"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPatientRecordRepository_ListAfterPagesByID(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT .* FROM patient_records WHERE id > \$1 ORDER BY id ASC LIMIT \$2`).
		WithArgs(int64(10), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "patient_name", "contact_number", "address", "name_hash", "created_at", "updated_at"}).
			AddRow(int64(11), "a", "b", "c", "h", time.Now(), time.Now()))

	recs, err := NewPatientRecordRepository().ListAfter(context.Background(), db, 10, 2)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(11), recs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
