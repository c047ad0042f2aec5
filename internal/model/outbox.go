package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusRetry     OutboxStatus = "retry"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Domain event types written to the outbox.
const (
	EventVisitRegistered       = "visit.registered"
	EventConsultationStarted   = "consultation.started"
	EventConsultationCompleted = "consultation.completed"
	EventVisitCancelled        = "visit.cancelled"
	EventPaymentReceived       = "payment.received"
	EventAdmissionCreated      = "admission.created"
	EventAdmissionStatus       = "admission.status_changed"
)

type OutboxEvent struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	EventType    string          `db:"event_type" json:"event_type"`
	AggregateID  int64           `db:"aggregate_id" json:"aggregate_id"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	Status       OutboxStatus    `db:"status" json:"status"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count" json:"retry_count"`
	RetryAt      *time.Time      `db:"retry_at" json:"retry_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// NewOutboxEvent marshals payload into a pending event.
func NewOutboxEvent(eventType string, aggregateID int64, payload interface{}) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     data,
		Status:      OutboxStatusPending,
	}, nil
}

// Payloads. They never carry decrypted PII.

type ConsultationCompletedPayload struct {
	VisitID         int64             `json:"visit_id"`
	DoctorID        int64             `json:"doctor_id"`
	Decision        AdmissionDecision `json:"decision"`
	PaymentEntryID  *int64            `json:"payment_entry_id,omitempty"`
	AdmissionID     *int64            `json:"admission_id,omitempty"`
	PatientRecordID int64             `json:"patient_record_id"`
}

type AdmissionCreatedPayload struct {
	AdmissionID   int64 `json:"admission_id"`
	PatientID     int64 `json:"patient_id"`
	SourceVisitID int64 `json:"source_visit_id"`
	RequestedBy   int64 `json:"requested_by"`
}

type VisitTransitionPayload struct {
	VisitID int64       `json:"visit_id"`
	ActorID int64       `json:"actor_id"`
	Status  VisitStatus `json:"status"`
}

type PaymentReceivedPayload struct {
	EntryID   int64 `json:"entry_id"`
	VisitID   int64 `json:"visit_id"`
	AmountDue Money `json:"amount_due"`
	Tendered  Money `json:"tendered"`
}

type AdmissionStatusPayload struct {
	AdmissionID int64           `json:"admission_id"`
	From        AdmissionStatus `json:"from"`
	To          AdmissionStatus `json:"to"`
	ActorID     int64           `json:"actor_id"`
}
