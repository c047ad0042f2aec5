package model

import (
	"time"
)

type VisitType string

const (
	VisitTypeNew      VisitType = "new"
	VisitTypeFollowUp VisitType = "follow_up"
)

type VisitStatus string

const (
	VisitStatusWaiting    VisitStatus = "waiting"
	VisitStatusInProgress VisitStatus = "in_progress"
	VisitStatusCompleted  VisitStatus = "completed"
	VisitStatusCancelled  VisitStatus = "cancelled"
)

// visitTransitions is the whole encounter state machine. Anything not listed is illegal.
var visitTransitions = map[VisitStatus][]VisitStatus{
	VisitStatusWaiting:    {VisitStatusInProgress, VisitStatusCancelled},
	VisitStatusInProgress: {VisitStatusCompleted},
}

func (s VisitStatus) Valid() bool {
	switch s {
	case VisitStatusWaiting, VisitStatusInProgress, VisitStatusCompleted, VisitStatusCancelled:
		return true
	}
	return false
}

func (s VisitStatus) CanTransitionTo(next VisitStatus) bool {
	for _, allowed := range visitTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s VisitStatus) Terminal() bool {
	return len(visitTransitions[s]) == 0
}

// Encounter is one outpatient visit. PII and narrative columns hold ciphertext.
type Encounter struct {
	ID                 int64       `db:"id" json:"id"`
	PatientRecordID    *int64      `db:"patient_record_id" json:"patient_record_id,omitempty"`
	PatientName        string      `db:"patient_name" json:"patient_name"`
	ContactNumber      string      `db:"contact_number" json:"contact_number"`
	Address            string      `db:"address" json:"address"`
	Age                int         `db:"age" json:"age"`
	Gender             string      `db:"gender" json:"gender"`
	BloodPressure      string      `db:"blood_pressure" json:"blood_pressure"`
	Temperature        string      `db:"temperature" json:"temperature"`
	PulseRate          string      `db:"pulse_rate" json:"pulse_rate"`
	Weight             string      `db:"weight" json:"weight"`
	Symptoms           string      `db:"symptoms" json:"symptoms"`
	Diagnosis          string      `db:"diagnosis" json:"diagnosis"`
	TreatmentPlan      string      `db:"treatment_plan" json:"treatment_plan"`
	Prescription       string      `db:"prescription" json:"prescription"`
	Notes              string      `db:"notes" json:"notes"`
	VisitType          VisitType   `db:"visit_type" json:"visit_type"`
	VisitStatus        VisitStatus `db:"visit_status" json:"visit_status"`
	DoctorID           *int64      `db:"doctor_id" json:"doctor_id,omitempty"`
	RequestedSpecialty *string     `db:"requested_specialty" json:"requested_specialty,omitempty"`
	ArrivalTime        time.Time   `db:"arrival_time" json:"arrival_time"`
	ConsultationStart  *time.Time  `db:"consultation_start" json:"consultation_start,omitempty"`
	ConsultationEnd    *time.Time  `db:"consultation_end" json:"consultation_end,omitempty"`
	FollowUpDate       *time.Time  `db:"follow_up_date" json:"follow_up_date,omitempty"`
	CancelReason       *string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Timestamps
}

// AssignedTo reports whether the visit is unassigned or assigned to doctorID.
func (e *Encounter) AssignedTo(doctorID int64) bool {
	return e.DoctorID == nil || *e.DoctorID == doctorID
}

type RegisterVisitRequest struct {
	PatientName        string    `json:"patient_name" validate:"required,max=200"`
	ContactNumber      string    `json:"contact_number" validate:"max=50"`
	Address            string    `json:"address" validate:"max=500"`
	Age                int       `json:"age" validate:"gte=0,lte=150"`
	Gender             string    `json:"gender" validate:"omitempty,oneof=male female other"`
	BloodPressure      string    `json:"blood_pressure" validate:"max=20"`
	Temperature        string    `json:"temperature" validate:"max=20"`
	PulseRate          string    `json:"pulse_rate" validate:"max=20"`
	Weight             string    `json:"weight" validate:"max=20"`
	Symptoms           string    `json:"symptoms" validate:"max=4000"`
	VisitType          VisitType `json:"visit_type" validate:"required,oneof=new follow_up"`
	DoctorID           *int64    `json:"doctor_id"`
	RequestedSpecialty string    `json:"requested_specialty" validate:"max=100"`
}

// ClinicalFields are what a clinician records when completing a consultation. Plaintext.
type ClinicalFields struct {
	Diagnosis     string     `json:"diagnosis" validate:"required,max=4000"`
	TreatmentPlan string     `json:"treatment_plan" validate:"required,max=4000"`
	Prescription  string     `json:"prescription" validate:"max=4000"`
	Notes         string     `json:"notes" validate:"max=4000"`
	FollowUpDate  *time.Time `json:"follow_up_date"`
}

// EncounterDetails is the decrypted, read-only view handed to callers.
type EncounterDetails struct {
	Encounter
	Payment   *PaymentEntry `json:"payment,omitempty"`
	Admission *Admission    `json:"admission,omitempty"`
}

type QueueFilter struct {
	DoctorID *int64
	Day      time.Time
	Statuses []VisitStatus
}
