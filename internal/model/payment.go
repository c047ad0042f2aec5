package model

import (
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
)

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	return s == PaymentStatusPending && next == PaymentStatusPaid
}

// PaymentEntry is the OPD payment ledger row for one visit.
type PaymentEntry struct {
	ID              int64         `db:"id" json:"id"`
	VisitID         int64         `db:"visit_id" json:"visit_id"`
	PatientRecordID *int64        `db:"patient_record_id" json:"patient_record_id,omitempty"`
	AmountDue       Money         `db:"amount_due" json:"amount_due"`
	AmountPaid      Money         `db:"amount_paid" json:"amount_paid"`
	TenderedAmount  Money         `db:"tendered_amount" json:"tendered_amount"`
	PaymentStatus   PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentDate     *time.Time    `db:"payment_date" json:"payment_date,omitempty"`
	ReceivedBy      *int64        `db:"received_by" json:"received_by,omitempty"`
	Timestamps
}

type MarkPaidRequest struct {
	TenderedAmount Money `json:"tendered_amount" validate:"gt=0,lte=999999999999"`
}

type Receipt struct {
	EntryID     int64     `json:"entry_id"`
	VisitID     int64     `json:"visit_id"`
	AmountDue   Money     `json:"amount_due"`
	Tendered    Money     `json:"tendered"`
	Change      Money     `json:"change"`
	PaymentDate time.Time `json:"payment_date"`
}
