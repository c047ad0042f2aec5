package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/memory"
)

func TestRecordCarriesActorAndRequestID(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Audit())
	ctx := WithRequestID(context.Background(), "req-1")

	actor := model.Actor{UserID: 9, Role: model.RoleCashier}
	err := svc.Record(ctx, store.DB(), actor, model.AuditActionPay, model.AuditEntityPayment, 5,
		map[string]string{"payment_status": "paid"})
	require.NoError(t, err)

	logs, err := svc.History(ctx, store.DB(), model.AuditEntityPayment, 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int64(9), logs[0].UserID)
	assert.Equal(t, model.RoleCashier, logs[0].UserRole)
	assert.Equal(t, "req-1", logs[0].RequestID)
	assert.JSONEq(t, `{"payment_status":"paid"}`, string(logs[0].Changes))
}
