package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository/memory"
	"github.com/jwalitptl/opd-api/pkg/logger"
)

func TestAuditCleanup(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Audit().Create(ctx, store.DB(), &model.AuditLog{EntityID: 1, CreatedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, store.Audit().Create(ctx, store.DB(), &model.AuditLog{EntityID: 2, CreatedAt: now.AddDate(0, 0, -5)}))

	w := NewAuditCleanupWorker(store, store.Audit(), 30, time.Hour, logger.Nop())
	w.now = func() time.Time { return now }

	n, err := w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, int64(2), logs[0].EntityID)

	w.retentionDays = 0
	n, err = w.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
