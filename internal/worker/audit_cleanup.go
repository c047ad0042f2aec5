package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/pkg/logger"
)

// AuditCleanupWorker deletes audit rows past the retention window.
type AuditCleanupWorker struct {
	tx              repository.Transactor
	repo            repository.AuditRepository
	retentionDays   int
	cleanupInterval time.Duration
	logger          *logger.Logger
	now             func() time.Time
}

func NewAuditCleanupWorker(tx repository.Transactor, repo repository.AuditRepository, retentionDays int, cleanupInterval time.Duration, log *logger.Logger) *AuditCleanupWorker {
	return &AuditCleanupWorker{
		tx:              tx,
		repo:            repo,
		retentionDays:   retentionDays,
		cleanupInterval: cleanupInterval,
		logger:          log,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (w *AuditCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				// Log error but continue
				w.logger.Error(err, "Error cleaning up audit logs")
			}
		}
	}
}

// Cleanup runs one retention pass. A non-positive retention disables it.
func (w *AuditCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	if w.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := w.now().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.DeleteBefore(ctx, w.tx.DB(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup audit logs: %w", err)
	}

	w.logger.Info("Cleaned up audit logs", "count", rows, "cutoff", cutoff.Format(time.RFC3339))
	return rows, nil
}
