// Package app wires repositories and services for the binaries.
package app

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/config"
	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/internal/repository/postgres"
	"github.com/jwalitptl/opd-api/internal/service/admission"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/billing"
	"github.com/jwalitptl/opd-api/internal/service/consultation"
	"github.com/jwalitptl/opd-api/internal/service/encounter"
	"github.com/jwalitptl/opd-api/internal/service/event"
	"github.com/jwalitptl/opd-api/internal/service/patient"
	"github.com/jwalitptl/opd-api/internal/service/pharmacy"
	"github.com/jwalitptl/opd-api/internal/service/reencrypt"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

type Services struct {
	Base          *postgres.BaseRepository
	Cipher        *security.FieldCipher
	Outbox        repository.OutboxRepository
	Audit         repository.AuditRepository
	Patients      *patient.Service
	Billing       *billing.Service
	Admissions    *admission.Service
	Encounters    *encounter.Service
	Consultations *consultation.Service
	Reencrypt     *reencrypt.Service
}

// NewServices builds the Postgres-backed service graph. A missing cipher key
// is not fatal: reads fall back to raw values and encrypted writes fail.
func NewServices(cfg *config.Config, db *sqlx.DB, log *logger.Logger, m *metrics.Metrics) (*Services, error) {
	key, err := security.ParseKey(cfg.Cipher.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid cipher key: %w", err)
	}
	cipher, err := security.NewFieldCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build field cipher: %w", err)
	}
	cipher.Instrument(m, log)
	if !cipher.Available() {
		log.Warn("Field cipher key not configured, sensitive writes will be rejected")
	}

	base := postgres.NewBaseRepository(db)
	tx := &base
	v := validator.New()

	visits := postgres.NewEncounterRepository()
	outbox := postgres.NewOutboxRepository()
	auditRepo := postgres.NewAuditRepository()
	auditor := audit.NewService(auditRepo)
	events := event.NewEmitter(outbox)

	records := postgres.NewPatientRecordRepository()
	notes := postgres.NewProgressNoteRepository()
	inpatients := postgres.NewInpatientRepository()
	admissionRepo := postgres.NewAdmissionRepository()

	patients := patient.NewService(tx, records, notes, cipher, auditor, v)
	billingSvc := billing.NewService(tx, postgres.NewPaymentRepository(), auditor, events, v, log, m)
	admissions := admission.NewService(tx, visits, admissionRepo, inpatients,
		billingSvc, cipher, auditor, events, v, log, m)
	encounters := encounter.NewService(tx, visits, postgres.NewClinicianRepository(), patients, billingSvc, admissions,
		cipher, auditor, events, v, log, m, encounter.Options{
			SingleActiveConsultation: cfg.Clinic.SingleActiveConsultation,
			Location:                 cfg.Clinic.Location(),
		})
	consultations := consultation.NewService(tx, encounters, billingSvc, admissions, patients,
		pharmacy.NewService(postgres.NewMedicineRepository()), cipher, auditor, events, v, log, m)

	normalizer := reencrypt.NewService(tx, reencrypt.Sources{
		Visits:     visits,
		Records:    records,
		Inpatients: inpatients,
		Admissions: admissionRepo,
		Notes:      notes,
	}, cipher, log, m, 0)

	return &Services{
		Base:          tx,
		Cipher:        cipher,
		Outbox:        outbox,
		Audit:         auditRepo,
		Patients:      patients,
		Billing:       billingSvc,
		Admissions:    admissions,
		Encounters:    encounters,
		Consultations: consultations,
		Reencrypt:     normalizer,
	}, nil
}
