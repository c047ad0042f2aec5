package model

import (
	"time"
)

type AdmissionStatus string

const (
	AdmissionStatusPending    AdmissionStatus = "pending"
	AdmissionStatusAdmitted   AdmissionStatus = "admitted"
	AdmissionStatusDischarged AdmissionStatus = "discharged"
	AdmissionStatusCancelled  AdmissionStatus = "cancelled"
)

var admissionTransitions = map[AdmissionStatus][]AdmissionStatus{
	AdmissionStatusPending:  {AdmissionStatusAdmitted, AdmissionStatusCancelled},
	AdmissionStatusAdmitted: {AdmissionStatusDischarged},
}

// ActiveAdmissionStatuses count toward the one-active-admission-per-visit rule.
var ActiveAdmissionStatuses = []AdmissionStatus{AdmissionStatusPending, AdmissionStatusAdmitted}

func (s AdmissionStatus) Active() bool {
	return s == AdmissionStatusPending || s == AdmissionStatusAdmitted
}

func (s AdmissionStatus) CanTransitionTo(next AdmissionStatus) bool {
	for _, allowed := range admissionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AdmissionDecision is the clinician's routing choice at consultation end.
type AdmissionDecision string

const (
	AdmissionDecisionNone      AdmissionDecision = "none"
	AdmissionDecisionRecommend AdmissionDecision = "recommend"
)

type Admission struct {
	ID              int64           `db:"id" json:"id"`
	PatientID       int64           `db:"patient_id" json:"patient_id"`
	SourceVisitID   *int64          `db:"source_visit_id" json:"source_visit_id,omitempty"`
	AdmissionReason string          `db:"admission_reason" json:"admission_reason"`
	InitialNotes    string          `db:"initial_notes" json:"initial_notes"`
	RequestedBy     int64           `db:"requested_by" json:"requested_by"`
	AdmissionStatus AdmissionStatus `db:"admission_status" json:"admission_status"`
	AdmittedAt      *time.Time      `db:"admitted_at" json:"admitted_at,omitempty"`
	DischargedAt    *time.Time      `db:"discharged_at" json:"discharged_at,omitempty"`
	Timestamps
}

// InpatientPatient is the denormalized identity used by inpatient workflows.
type InpatientPatient struct {
	ID            int64  `db:"id" json:"id"`
	FullName      string `db:"full_name" json:"full_name"`
	NameHash      string `db:"name_hash" json:"-"`
	ContactNumber string `db:"contact_number" json:"contact_number"`
	Address       string `db:"address" json:"address"`
	Gender        string `db:"gender" json:"gender"`
	Age           int    `db:"age" json:"age"`
	Timestamps
}

type AdmissionRequest struct {
	Reason       string `json:"reason" validate:"max=2000"`
	InitialNotes string `json:"initial_notes" validate:"max=4000"`
}

type UpdateAdmissionStatusRequest struct {
	Status AdmissionStatus `json:"status" validate:"required,oneof=admitted discharged cancelled"`
}
