package model

import (
	"time"
)

// PatientRecord is the long-lived identity that encounters point to.
type PatientRecord struct {
	ID            int64  `db:"id" json:"id"`
	PatientName   string `db:"patient_name" json:"patient_name"`
	ContactNumber string `db:"contact_number" json:"contact_number"`
	Address       string `db:"address" json:"address"`
	NameHash      string `db:"name_hash" json:"-"`
	Timestamps
}

// ProgressNote is append-only.
type ProgressNote struct {
	ID              int64     `db:"id" json:"id"`
	PatientRecordID int64     `db:"patient_record_id" json:"patient_record_id"`
	VisitID         *int64    `db:"visit_id" json:"visit_id,omitempty"`
	NoteText        string    `db:"note_text" json:"note_text"`
	AuthorID        int64     `db:"author_id" json:"author_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

type AddProgressNoteRequest struct {
	NoteText string `json:"note_text" validate:"required,max=8000"`
	VisitID  *int64 `json:"visit_id"`
}
