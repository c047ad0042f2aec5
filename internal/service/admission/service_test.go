package admission

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/memory"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/billing"
	"github.com/jwalitptl/opd-api/internal/service/event"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

var doctor = model.Actor{UserID: 1, Role: model.RoleDoctor}

func newTestService(t *testing.T) (*Service, *billing.Service, *memory.Store, *security.FieldCipher) {
	t.Helper()
	key, err := security.GenerateKey()
	require.NoError(t, err)
	raw, err := security.ParseKey(key)
	require.NoError(t, err)
	cipher, err := security.NewFieldCipher(raw)
	require.NoError(t, err)

	store := memory.NewStore()
	log := logger.Nop()
	m := metrics.NewTestMetrics()
	v := validator.New()
	auditor := audit.NewService(store.Audit())
	events := event.NewEmitter(store.Outbox())
	billingSvc := billing.NewService(store, store.Payments(), auditor, events, v, log, m)
	svc := NewService(store, store.Encounters(), store.Admissions(), store.InpatientPatients(), billingSvc,
		cipher, auditor, events, v, log, m)
	return svc, billingSvc, store, cipher
}

func (s *Service) createInTx(ctx context.Context, store *memory.Store, visitID int64) (*model.Admission, error) {
	var adm *model.Admission
	err := store.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		adm, err = s.CreateFromEncounterTx(ctx, store.DB(), visitID, model.AdmissionRequest{Reason: "observation"}, doctor)
		return err
	})
	return adm, err
}

func TestCreateFromEncounterTx(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a completed visit", func(t *testing.T) {
		svc, _, store, _ := newTestService(t)
		store.PutVisit(model.Encounter{ID: 1, VisitStatus: model.VisitStatusInProgress})

		_, err := svc.createInTx(ctx, store, 1)
		assert.True(t, apperrors.IsNotFound(err))
		_, err = svc.createInTx(ctx, store, 2)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("removes pending entry and reuses inpatient identity", func(t *testing.T) {
		svc, billingSvc, store, cipher := newTestService(t)
		name, err := cipher.Encrypt("Teresa Magbanua")
		require.NoError(t, err)
		store.PutVisit(model.Encounter{ID: 1, PatientName: name, Age: 60, VisitStatus: model.VisitStatusCompleted})
		store.PutVisit(model.Encounter{ID: 2, PatientName: "teresa  magbanua", VisitStatus: model.VisitStatusCompleted})
		_, err = billingSvc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(150))
		require.NoError(t, err)

		first, err := svc.createInTx(ctx, store, 1)
		require.NoError(t, err)
		assert.Equal(t, model.AdmissionStatusPending, first.AdmissionStatus)
		_, hasEntry := store.PaymentForVisit(1)
		assert.False(t, hasEntry)

		second, err := svc.createInTx(ctx, store, 2)
		require.NoError(t, err)
		assert.Equal(t, first.PatientID, second.PatientID)
		assert.Len(t, store.Inpatients(), 1)
	})

	t.Run("one active admission per visit", func(t *testing.T) {
		svc, _, store, _ := newTestService(t)
		store.PutVisit(model.Encounter{ID: 1, PatientName: "A", VisitStatus: model.VisitStatusCompleted})

		_, err := svc.createInTx(ctx, store, 1)
		require.NoError(t, err)
		_, err = svc.createInTx(ctx, store, 1)
		assert.True(t, apperrors.IsConflict(err))
		assert.Len(t, store.AdmissionsForVisit(1), 1)
	})

	t.Run("paid entry blocks admission", func(t *testing.T) {
		svc, billingSvc, store, _ := newTestService(t)
		store.PutVisit(model.Encounter{ID: 1, PatientName: "A", VisitStatus: model.VisitStatusCompleted})
		id, err := billingSvc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(10))
		require.NoError(t, err)
		_, err = billingSvc.MarkPaid(ctx, model.Actor{UserID: 9, Role: model.RoleCashier}, id, model.MarkPaidRequest{TenderedAmount: model.NewMoney(10)})
		require.NoError(t, err)

		_, err = svc.createInTx(ctx, store, 1)
		assert.True(t, apperrors.IsConflict(err))
		assert.Empty(t, store.AdmissionsForVisit(1))
		assert.Empty(t, store.Inpatients())
	})
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	svc, _, store, _ := newTestService(t)
	store.PutVisit(model.Encounter{ID: 1, PatientName: "A", VisitStatus: model.VisitStatusCompleted})
	adm, err := svc.createInTx(ctx, store, 1)
	require.NoError(t, err)

	nurse := model.Actor{UserID: 4, Role: model.RoleNurse}

	_, err = svc.UpdateStatus(ctx, model.Actor{UserID: 9, Role: model.RoleCashier}, adm.ID,
		model.UpdateAdmissionStatusRequest{Status: model.AdmissionStatusAdmitted})
	assert.True(t, apperrors.IsForbidden(err))

	_, err = svc.UpdateStatus(ctx, nurse, adm.ID, model.UpdateAdmissionStatusRequest{Status: model.AdmissionStatusDischarged})
	assert.True(t, apperrors.IsConflict(err))

	_, err = svc.UpdateStatus(ctx, nurse, adm.ID, model.UpdateAdmissionStatusRequest{Status: "pending"})
	assert.True(t, apperrors.IsValidation(err))

	admitted, err := svc.UpdateStatus(ctx, nurse, adm.ID, model.UpdateAdmissionStatusRequest{Status: model.AdmissionStatusAdmitted})
	require.NoError(t, err)
	assert.Equal(t, model.AdmissionStatusAdmitted, admitted.AdmissionStatus)
	assert.NotNil(t, admitted.AdmittedAt)
	assert.Equal(t, "observation", admitted.AdmissionReason)

	discharged, err := svc.UpdateStatus(ctx, doctor, adm.ID, model.UpdateAdmissionStatusRequest{Status: model.AdmissionStatusDischarged})
	require.NoError(t, err)
	assert.NotNil(t, discharged.DischargedAt)

	_, err = svc.UpdateStatus(ctx, doctor, adm.ID, model.UpdateAdmissionStatusRequest{Status: model.AdmissionStatusCancelled})
	assert.True(t, apperrors.IsConflict(err))

	latest, err := svc.ForVisit(ctx, store.DB(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.AdmissionStatusDischarged, latest.AdmissionStatus)
}
