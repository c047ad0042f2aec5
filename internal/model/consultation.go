package model

import (
	"time"
)

// CompleteConsultationRequest is what the attending doctor submits to close
// a consultation. Clinical fields are plaintext here.
type CompleteConsultationRequest struct {
	Diagnosis         string             `json:"diagnosis" validate:"required,max=4000"`
	TreatmentPlan     string             `json:"treatment_plan" validate:"required,max=4000"`
	Prescription      string             `json:"prescription" validate:"max=4000"`
	Notes             string             `json:"notes" validate:"max=4000"`
	FollowUpDate      *time.Time         `json:"follow_up_date"`
	AdmissionDecision AdmissionDecision  `json:"admission_decision" validate:"required,oneof=none recommend"`
	FeeAmount         Money              `json:"fee_amount" validate:"gte=0,lte=999999999999"`
	AdmissionReason   string             `json:"admission_reason" validate:"max=2000"`
	AdmissionNotes    string             `json:"admission_notes" validate:"max=4000"`
	Items             []PrescriptionItem `json:"prescription_items" validate:"omitempty,dive"`
}

func (r *CompleteConsultationRequest) ClinicalFields() ClinicalFields {
	return ClinicalFields{
		Diagnosis:     r.Diagnosis,
		TreatmentPlan: r.TreatmentPlan,
		Prescription:  r.Prescription,
		Notes:         r.Notes,
		FollowUpDate:  r.FollowUpDate,
	}
}

// ConsultationResult says where the completed visit was routed. Exactly one
// of PaymentEntryID and AdmissionID is set.
type ConsultationResult struct {
	VisitID         int64             `json:"visit_id"`
	Decision        AdmissionDecision `json:"admission_decision"`
	PaymentEntryID  *int64            `json:"payment_entry_id,omitempty"`
	AdmissionID     *int64            `json:"admission_id,omitempty"`
	PatientRecordID int64             `json:"patient_record_id"`
	PharmacyOrderID *int64            `json:"pharmacy_order_id,omitempty"`
	ProgressNoteID  int64             `json:"progress_note_id"`
}
