package reencrypt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/memory"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
)

func newTestCipher(t *testing.T) *security.FieldCipher {
	t.Helper()
	key, err := security.GenerateKey()
	require.NoError(t, err)
	raw, err := security.ParseKey(key)
	require.NoError(t, err)
	cipher, err := security.NewFieldCipher(raw)
	require.NoError(t, err)
	return cipher
}

func sources(store *memory.Store) Sources {
	return Sources{
		Visits:     store.Encounters(),
		Records:    store.Records(),
		Inpatients: store.InpatientPatients(),
		Admissions: store.Admissions(),
		Notes:      store.Notes(),
	}
}

// layered encrypts value n times.
func layered(t *testing.T, c *security.FieldCipher, value string, n int) string {
	t.Helper()
	for i := 0; i < n; i++ {
		var err error
		value, err = c.Encrypt(value)
		require.NoError(t, err)
	}
	return value
}

func TestNormalizeVisits(t *testing.T) {
	cipher := newTestCipher(t)
	single := layered(t, cipher, "Tuberculosis", 1)
	double := layered(t, cipher, "Tuberculosis", 2)

	store := memory.NewStore()
	for id := int64(1); id <= 5; id++ {
		store.PutVisit(model.Encounter{ID: id, PatientName: single, Diagnosis: single, VisitStatus: model.VisitStatusCompleted})
	}
	store.PutVisit(model.Encounter{ID: 6, PatientName: "Plain Name", Diagnosis: double, VisitStatus: model.VisitStatusCompleted})

	svc := NewService(store, sources(store), cipher, logger.Nop(), metrics.NewTestMetrics(), 2)
	report, err := svc.Normalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, report.Scanned)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Fields)
	assert.Equal(t, TableReport{Scanned: 6, Updated: 1, Fields: 2}, report.Tables["opd_visits"])

	v, _ := store.Visit(6)
	assert.Equal(t, "Tuberculosis", cipher.DecryptSafe(v.Diagnosis))
	assert.Equal(t, "Plain Name", cipher.DecryptSafe(v.PatientName))

	again, err := svc.Normalize(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestNormalizeCoversEveryEncryptedTable(t *testing.T) {
	cipher := newTestCipher(t)
	store := memory.NewStore()
	visitID := int64(1)

	store.PutRecord(model.PatientRecord{
		ID:            10,
		PatientName:   layered(t, cipher, "Gabriela Silang", 2),
		ContactNumber: "0917-555-0199",
		Address:       layered(t, cipher, "Vigan", 1),
	})
	store.PutInpatient(model.InpatientPatient{
		ID:            20,
		FullName:      "Gabriela Silang",
		ContactNumber: layered(t, cipher, "0917-555-0199", 3),
		Address:       layered(t, cipher, "Vigan", 1),
	})
	store.PutAdmission(model.Admission{
		ID:              30,
		PatientID:       20,
		SourceVisitID:   &visitID,
		AdmissionReason: layered(t, cipher, "Dehydration", 2),
		InitialNotes:    "IV fluids started",
		AdmissionStatus: model.AdmissionStatusPending,
	})
	store.PutNote(model.ProgressNote{
		ID:              40,
		PatientRecordID: 10,
		NoteText:        layered(t, cipher, "Diagnosis: dehydration", 2),
		AuthorID:        1,
	})

	svc := NewService(store, sources(store), cipher, logger.Nop(), metrics.NewTestMetrics(), 50)
	report, err := svc.Normalize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Updated)
	assert.Equal(t, 7, report.Fields)
	assert.Equal(t, 2, report.Tables["patient_records"].Fields)
	assert.Equal(t, 2, report.Tables["patients"].Fields)
	assert.Equal(t, 2, report.Tables["admissions"].Fields)
	assert.Equal(t, 1, report.Tables["progress_notes"].Fields)

	single := func(value, want string) {
		t.Helper()
		assert.NotEqual(t, want, value)
		assert.Equal(t, want, cipher.DecryptSafe(value))
	}

	recs := store.PatientRecords()
	require.Len(t, recs, 1)
	single(recs[0].PatientName, "Gabriela Silang")
	single(recs[0].ContactNumber, "0917-555-0199")
	single(recs[0].Address, "Vigan")

	patients := store.Inpatients()
	require.Len(t, patients, 1)
	single(patients[0].FullName, "Gabriela Silang")
	single(patients[0].ContactNumber, "0917-555-0199")
	single(patients[0].Address, "Vigan")

	adm, ok := store.Admission(30)
	require.True(t, ok)
	single(adm.AdmissionReason, "Dehydration")
	single(adm.InitialNotes, "IV fluids started")
	assert.Equal(t, model.AdmissionStatusPending, adm.AdmissionStatus)

	notes := store.ProgressNotes()
	require.Len(t, notes, 1)
	single(notes[0].NoteText, "Diagnosis: dehydration")

	again, err := svc.Normalize(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Updated)
}

func TestNormalizeCountsOnlyCommittedBatches(t *testing.T) {
	cipher := newTestCipher(t)
	store := memory.NewStore()

	first := layered(t, cipher, "Migraine", 2)
	store.PutVisit(model.Encounter{ID: 1, Diagnosis: first, VisitStatus: model.VisitStatusCompleted})
	store.PutVisit(model.Encounter{ID: 2, Diagnosis: layered(t, cipher, "Migraine", 5), VisitStatus: model.VisitStatusCompleted})

	svc := NewService(store, sources(store), cipher, logger.Nop(), metrics.NewTestMetrics(), 10)
	report, err := svc.Normalize(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCipher(err))
	assert.ErrorIs(t, err, security.ErrTooManyLayers)
	assert.Contains(t, err.Error(), "opd_visits")

	require.NotNil(t, report)
	assert.Zero(t, report.Updated)
	assert.Zero(t, report.Fields)

	v, _ := store.Visit(1)
	assert.Equal(t, first, v.Diagnosis)
}

func TestNormalizeNeedsKey(t *testing.T) {
	cipher, err := security.NewFieldCipher(nil)
	require.NoError(t, err)
	store := memory.NewStore()

	_, err = NewService(store, sources(store), cipher, logger.Nop(), metrics.NewTestMetrics(), 0).Normalize(context.Background())
	assert.Error(t, err)
}
