package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	UserID     int64           `json:"user_id" db:"user_id"`
	UserRole   Role            `json:"user_role" db:"user_role"`
	Action     string          `json:"action" db:"action"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	EntityID   int64           `json:"entity_id" db:"entity_id"`
	Changes    json.RawMessage `json:"changes" db:"changes"`
	RequestID  string          `json:"request_id" db:"request_id"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

const (
	// Action types
	AuditActionCreate   = "create"
	AuditActionRead     = "read"
	AuditActionStart    = "start"
	AuditActionComplete = "complete"
	AuditActionCancel   = "cancel"
	AuditActionPay      = "pay"
	AuditActionAdmit    = "admit"
	AuditActionStatus   = "status_change"

	// Entity types
	AuditEntityVisit         = "opd_visit"
	AuditEntityPayment       = "opd_payment"
	AuditEntityAdmission     = "admission"
	AuditEntityPatientRecord = "patient_record"
	AuditEntityProgressNote  = "progress_note"
)
