package model

import (
	"time"
)

type Medicine struct {
	ID         int64      `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	Stock      int        `db:"stock" json:"stock"`
	ExpiryDate *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	Active     bool       `db:"active" json:"active"`
}

// Expired reports whether the medicine's expiry date is on or before day.
func (m *Medicine) Expired(day time.Time) bool {
	if m.ExpiryDate == nil {
		return false
	}
	y, mo, d := day.Date()
	start := time.Date(y, mo, d, 0, 0, 0, 0, day.Location())
	return !m.ExpiryDate.After(start)
}

type PrescriptionItem struct {
	MedicineID   int64  `json:"medicine_id" db:"medicine_id" validate:"required,gt=0"`
	Quantity     int    `json:"quantity" db:"quantity" validate:"required,gt=0"`
	Dosage       string `json:"dosage" db:"dosage" validate:"max=200"`
	Instructions string `json:"instructions" db:"instructions" validate:"max=1000"`
}

type PharmacyOrderStatus string

const (
	PharmacyOrderPending   PharmacyOrderStatus = "pending"
	PharmacyOrderDispensed PharmacyOrderStatus = "dispensed"
)

type PharmacyOrder struct {
	ID           int64               `db:"id" json:"id"`
	VisitID      int64               `db:"visit_id" json:"visit_id"`
	PrescribedBy int64               `db:"prescribed_by" json:"prescribed_by"`
	Status       PharmacyOrderStatus `db:"status" json:"status"`
	Items        []PrescriptionItem  `db:"-" json:"items"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}
