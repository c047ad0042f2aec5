package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
)

const paymentColumns = `
	id, visit_id, patient_record_id, amount_due, amount_paid, tendered_amount,
	payment_status, payment_date, received_by, created_at, updated_at`

type paymentRepository struct{}

func NewPaymentRepository() repository.PaymentRepository {
	return &paymentRepository{}
}

// Upsert inserts a pending entry for the visit or refreshes amount_due while
// the existing entry is still pending. A paid entry is left as it is.
func (r *paymentRepository) Upsert(ctx context.Context, q sqlx.ExtContext, visitID int64, patientRecordID *int64, amount model.Money) (int64, error) {
	query := `
		INSERT INTO opd_payments (visit_id, patient_record_id, amount_due, payment_status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (visit_id) DO UPDATE
		SET amount_due = EXCLUDED.amount_due,
			patient_record_id = COALESCE(opd_payments.patient_record_id, EXCLUDED.patient_record_id),
			updated_at = NOW()
		WHERE opd_payments.payment_status = $4
		RETURNING id
	`
	var id int64
	err := sqlx.GetContext(ctx, q, &id, query, visitID, patientRecordID, amount, model.PaymentStatusPending)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to upsert payment entry: %w", err)
	}

	if err := sqlx.GetContext(ctx, q, &id, `SELECT id FROM opd_payments WHERE visit_id = $1`, visitID); err != nil {
		return 0, fmt.Errorf("failed to resolve payment entry: %w", err)
	}
	return id, nil
}

func (r *paymentRepository) Get(ctx context.Context, q sqlx.ExtContext, id int64) (*model.PaymentEntry, error) {
	var p model.PaymentEntry
	if err := getOne(ctx, q, &p, "payment entry", `SELECT `+paymentColumns+` FROM opd_payments WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (*model.PaymentEntry, error) {
	var p model.PaymentEntry
	if err := getOne(ctx, q, &p, "payment entry", `SELECT `+paymentColumns+` FROM opd_payments WHERE id = $1 FOR UPDATE`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) GetByVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.PaymentEntry, error) {
	var p model.PaymentEntry
	if err := getOne(ctx, q, &p, "payment entry", `SELECT `+paymentColumns+` FROM opd_payments WHERE visit_id = $1`, visitID); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) MarkPaid(ctx context.Context, q sqlx.ExtContext, id int64, amountPaid, tendered model.Money, receivedBy int64, at time.Time) (bool, error) {
	query := `
		UPDATE opd_payments
		SET payment_status = $1,
			amount_paid = $2,
			tendered_amount = $3,
			received_by = $4,
			payment_date = $5,
			updated_at = $5
		WHERE id = $6 AND payment_status = $7
	`
	ok, err := execAffected(ctx, q, query,
		model.PaymentStatusPaid, amountPaid, tendered, receivedBy, at, id, model.PaymentStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment paid: %w", err)
	}
	return ok, nil
}

func (r *paymentRepository) DeletePendingByVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (int64, error) {
	res, err := q.ExecContext(ctx,
		`DELETE FROM opd_payments WHERE visit_id = $1 AND payment_status = $2`,
		visitID, model.PaymentStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to remove payment entry: %w", err)
	}
	return res.RowsAffected()
}

func (r *paymentRepository) AttachPatientRecord(ctx context.Context, q sqlx.ExtContext, visitID, patientRecordID int64) error {
	query := `
		UPDATE opd_payments
		SET patient_record_id = $1, updated_at = NOW()
		WHERE visit_id = $2 AND patient_record_id IS NULL
	`
	if _, err := q.ExecContext(ctx, query, patientRecordID, visitID); err != nil {
		return fmt.Errorf("failed to link patient record to payment: %w", err)
	}
	return nil
}

// BackfillMissing creates zero-amount pending entries for completed visits
// that have neither a ledger entry nor an admission. Safe to repeat.
func (r *paymentRepository) BackfillMissing(ctx context.Context, q sqlx.ExtContext) (int64, error) {
	query := `
		INSERT INTO opd_payments (visit_id, patient_record_id, amount_due, payment_status)
		SELECT v.id, v.patient_record_id, 0, $1
		FROM opd_visits v
		WHERE v.visit_status = $2
		AND NOT EXISTS (SELECT 1 FROM opd_payments p WHERE p.visit_id = v.id)
		AND NOT EXISTS (SELECT 1 FROM admissions a WHERE a.source_visit_id = v.id)
		ON CONFLICT (visit_id) DO NOTHING
	`
	res, err := q.ExecContext(ctx, query, model.PaymentStatusPending, model.VisitStatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill payment entries: %w", err)
	}
	return res.RowsAffected()
}
