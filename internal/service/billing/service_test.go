package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/memory"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/event"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

func newTestService() (*Service, *memory.Store) {
	store := memory.NewStore()
	svc := NewService(store, store.Payments(), audit.NewService(store.Audit()), event.NewEmitter(store.Outbox()),
		validator.New(), logger.Nop(), metrics.NewTestMetrics())
	return svc, store
}

func TestEnsurePendingEntryTx(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	_, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(-1))
	assert.True(t, apperrors.IsValidation(err))
	_, err = svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.MaxMoney+1)
	assert.True(t, apperrors.IsValidation(err))
	_, hasEntry := store.PaymentForVisit(1)
	assert.False(t, hasEntry)

	id, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(100))
	require.NoError(t, err)
	again, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(120))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	entry, ok := store.PaymentForVisit(1)
	require.True(t, ok)
	assert.Equal(t, "120.00", entry.AmountDue.String())
	assert.Equal(t, model.PaymentStatusPending, entry.PaymentStatus)
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()
	cashier := model.Actor{UserID: 30, Role: model.RoleCashier}

	t.Run("role check", func(t *testing.T) {
		svc, store := newTestService()
		id, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(100))
		require.NoError(t, err)

		_, err = svc.MarkPaid(ctx, model.Actor{UserID: 5, Role: model.RoleNurse}, id, model.MarkPaidRequest{TenderedAmount: model.NewMoney(100)})
		assert.True(t, apperrors.IsForbidden(err))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		svc, store := newTestService()
		id, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(100))
		require.NoError(t, err)

		_, err = svc.MarkPaid(ctx, cashier, id, model.MarkPaidRequest{TenderedAmount: model.NewMoney(99.99)})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Contains(t, err.Error(), "insufficient funds")

		entry, _ := store.PaymentForVisit(1)
		assert.Equal(t, model.PaymentStatusPending, entry.PaymentStatus)
	})

	t.Run("tendered beyond column range", func(t *testing.T) {
		svc, store := newTestService()
		id, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(100))
		require.NoError(t, err)

		_, err = svc.MarkPaid(ctx, cashier, id, model.MarkPaidRequest{TenderedAmount: model.NewMoney(1e12)})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Contains(t, err.Error(), "tendered_amount must be at most")

		entry, _ := store.PaymentForVisit(1)
		assert.Equal(t, model.PaymentStatusPending, entry.PaymentStatus)
	})

	t.Run("exact amount", func(t *testing.T) {
		svc, store := newTestService()
		id, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(100))
		require.NoError(t, err)

		receipt, err := svc.MarkPaid(ctx, model.Actor{UserID: 20, Role: model.RoleReceptionist}, id,
			model.MarkPaidRequest{TenderedAmount: model.NewMoney(100)})
		require.NoError(t, err)
		assert.Equal(t, model.Money(0), receipt.Change)

		entry, _ := store.PaymentForVisit(1)
		assert.Equal(t, model.PaymentStatusPaid, entry.PaymentStatus)
		assert.Equal(t, "100.00", entry.AmountPaid.String())
		require.NotNil(t, entry.ReceivedBy)
		assert.Equal(t, int64(20), *entry.ReceivedBy)

		require.Len(t, store.OutboxEvents(), 1)
		assert.Equal(t, model.EventPaymentReceived, store.OutboxEvents()[0].EventType)
		require.Len(t, store.AuditLogs(), 1)
		assert.Equal(t, model.AuditActionPay, store.AuditLogs()[0].Action)
	})

	t.Run("unknown entry", func(t *testing.T) {
		svc, _ := newTestService()
		_, err := svc.MarkPaid(ctx, cashier, 404, model.MarkPaidRequest{TenderedAmount: model.NewMoney(1)})
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("paid entry keeps its amount", func(t *testing.T) {
		svc, store := newTestService()
		id, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(100))
		require.NoError(t, err)
		_, err = svc.MarkPaid(ctx, cashier, id, model.MarkPaidRequest{TenderedAmount: model.NewMoney(100)})
		require.NoError(t, err)

		_, err = svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(500))
		require.NoError(t, err)
		entry, _ := store.PaymentForVisit(1)
		assert.Equal(t, "100.00", entry.AmountDue.String())
		assert.Equal(t, model.PaymentStatusPaid, entry.PaymentStatus)
	})
}

func TestRemoveEntryForVisitTx(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	assert.NoError(t, svc.RemoveEntryForVisitTx(ctx, store.DB(), 1))

	_, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 1, nil, model.NewMoney(100))
	require.NoError(t, err)
	require.NoError(t, svc.RemoveEntryForVisitTx(ctx, store.DB(), 1))
	_, ok := store.PaymentForVisit(1)
	assert.False(t, ok)

	id, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 2, nil, model.NewMoney(100))
	require.NoError(t, err)
	_, err = svc.MarkPaid(ctx, model.Actor{UserID: 30, Role: model.RoleCashier}, id, model.MarkPaidRequest{TenderedAmount: model.NewMoney(100)})
	require.NoError(t, err)
	assert.True(t, apperrors.IsConflict(svc.RemoveEntryForVisitTx(ctx, store.DB(), 2)))
}

func TestBackfillMissingEntries(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	store.PutVisit(model.Encounter{ID: 1, VisitStatus: model.VisitStatusCompleted})
	store.PutVisit(model.Encounter{ID: 2, VisitStatus: model.VisitStatusCompleted})
	store.PutVisit(model.Encounter{ID: 3, VisitStatus: model.VisitStatusWaiting})
	_, err := svc.EnsurePendingEntryTx(ctx, store.DB(), 2, nil, model.NewMoney(80))
	require.NoError(t, err)
	source := int64(4)
	store.PutVisit(model.Encounter{ID: 4, VisitStatus: model.VisitStatusCompleted})
	require.NoError(t, store.Admissions().Create(ctx, store.DB(), &model.Admission{
		PatientID:       1,
		SourceVisitID:   &source,
		AdmissionStatus: model.AdmissionStatusPending,
	}))

	n, err := svc.BackfillMissingEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entry, ok := store.PaymentForVisit(1)
	require.True(t, ok)
	assert.Equal(t, model.Money(0), entry.AmountDue)
	assert.Equal(t, model.PaymentStatusPending, entry.PaymentStatus)
	_, ok = store.PaymentForVisit(4)
	assert.False(t, ok)

	n, err = svc.BackfillMissingEntries(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
