package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/event"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

// Service owns opd_payments. No other component writes ledger rows.
type Service struct {
	tx       repository.Transactor
	payments repository.PaymentRepository
	auditor  *audit.Service
	events   *event.Emitter
	validate validator.Validator
	logger   *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewService(
	tx repository.Transactor,
	payments repository.PaymentRepository,
	auditor *audit.Service,
	events *event.Emitter,
	validate validator.Validator,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		tx:       tx,
		payments: payments,
		auditor:  auditor,
		events:   events,
		validate: validate,
		logger:   log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EnsurePendingEntryTx creates the visit's pending entry or refreshes its
// amount while it is still pending. Status is never changed here.
func (s *Service) EnsurePendingEntryTx(ctx context.Context, q sqlx.ExtContext, visitID int64, patientRecordID *int64, amount model.Money) (int64, error) {
	if amount < 0 {
		return 0, apperrors.Validation("fee amount cannot be negative", nil)
	}
	if amount > model.MaxMoney {
		return 0, apperrors.Validation("fee amount exceeds "+model.MaxMoney.String(), nil)
	}
	return s.payments.Upsert(ctx, q, visitID, patientRecordID, amount)
}

// MarkPaid settles a pending entry. The whole amount due is taken; any
// excess tendered is returned as change on the receipt.
func (s *Service) MarkPaid(ctx context.Context, actor model.Actor, entryID int64, req model.MarkPaidRequest) (*model.Receipt, error) {
	if !actor.Role.CanCollectPayment() {
		return nil, apperrors.Forbidden("role cannot collect payments")
	}
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	var receipt *model.Receipt
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(s.tx, tx)

		entry, err := s.payments.GetForUpdate(ctx, q, entryID)
		if err != nil {
			return err
		}
		if !entry.PaymentStatus.CanTransitionTo(model.PaymentStatusPaid) {
			return apperrors.Conflict("payment entry is already paid")
		}
		if req.TenderedAmount < entry.AmountDue {
			return apperrors.Validation(fmt.Sprintf(
				"insufficient funds: tendered %s is less than amount due %s",
				req.TenderedAmount, entry.AmountDue), nil)
		}

		paidAt := s.now()
		ok, err := s.payments.MarkPaid(ctx, q, entryID, entry.AmountDue, req.TenderedAmount, actor.UserID, paidAt)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict("payment entry is already paid")
		}

		receipt = &model.Receipt{
			EntryID:     entry.ID,
			VisitID:     entry.VisitID,
			AmountDue:   entry.AmountDue,
			Tendered:    req.TenderedAmount,
			Change:      req.TenderedAmount - entry.AmountDue,
			PaymentDate: paidAt,
		}

		if err := s.events.Emit(ctx, q, model.EventPaymentReceived, entry.VisitID, model.PaymentReceivedPayload{
			EntryID:   entry.ID,
			VisitID:   entry.VisitID,
			AmountDue: entry.AmountDue,
			Tendered:  req.TenderedAmount,
		}); err != nil {
			return err
		}
		return s.auditor.Record(ctx, q, actor, model.AuditActionPay, model.AuditEntityPayment, entry.ID, map[string]interface{}{
			"from":       model.PaymentStatusPending,
			"to":         model.PaymentStatusPaid,
			"amount_due": entry.AmountDue,
			"tendered":   req.TenderedAmount,
		})
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.Conflicts.WithLabelValues("mark_paid").Inc()
			s.logger.Warn("payment already settled", "entry_id", entryID, "user_id", actor.UserID)
		}
		return nil, err
	}

	s.metrics.PaymentsReceived.Inc()
	s.logger.Info("payment received", "entry_id", entryID, "visit_id", receipt.VisitID, "user_id", actor.UserID)
	return receipt, nil
}

// RemoveEntryForVisitTx drops the visit's pending entry when the visit is
// routed to admission. A paid entry cannot be removed.
func (s *Service) RemoveEntryForVisitTx(ctx context.Context, q sqlx.ExtContext, visitID int64) error {
	entry, err := s.payments.GetByVisit(ctx, q, visitID)
	if apperrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if entry.PaymentStatus == model.PaymentStatusPaid {
		return apperrors.Conflict("visit already has a paid ledger entry")
	}
	if _, err := s.payments.DeletePendingByVisit(ctx, q, visitID); err != nil {
		return err
	}
	return nil
}

// AttachPatientRecordTx fills an empty patient_record_id on the visit's entry.
func (s *Service) AttachPatientRecordTx(ctx context.Context, q sqlx.ExtContext, visitID, patientRecordID int64) error {
	return s.payments.AttachPatientRecord(ctx, q, visitID, patientRecordID)
}

// EntryForVisit returns nil when the visit has no ledger entry.
func (s *Service) EntryForVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.PaymentEntry, error) {
	entry, err := s.payments.GetByVisit(ctx, q, visitID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	return entry, err
}

// BackfillMissingEntries gives every completed visit without a ledger entry
// or admission a zero-amount pending entry. Safe to run repeatedly.
func (s *Service) BackfillMissingEntries(ctx context.Context) (int64, error) {
	n, err := s.payments.BackfillMissing(ctx, s.tx.DB())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.LedgerBackfilled.Add(float64(n))
		s.logger.Warn("backfilled missing ledger entries", "count", n)
	}
	return n, nil
}
