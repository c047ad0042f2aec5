// Package consultation closes a consultation as one unit of work: the visit
// transition, pharmacy order, billing or admission routing, patient record
// linkage, progress note, outbox event and audit row commit together or not
// at all.
package consultation

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/internal/service/admission"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/billing"
	"github.com/jwalitptl/opd-api/internal/service/encounter"
	"github.com/jwalitptl/opd-api/internal/service/event"
	"github.com/jwalitptl/opd-api/internal/service/patient"
	"github.com/jwalitptl/opd-api/internal/service/pharmacy"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

type Service struct {
	tx         repository.Transactor
	encounters *encounter.Service
	billing    *billing.Service
	admissions *admission.Service
	patients   *patient.Service
	pharmacy   *pharmacy.Service
	cipher     *security.FieldCipher
	auditor    *audit.Service
	events     *event.Emitter
	validate   validator.Validator
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

func NewService(
	tx repository.Transactor,
	encounters *encounter.Service,
	billingSvc *billing.Service,
	admissions *admission.Service,
	patients *patient.Service,
	pharmacySvc *pharmacy.Service,
	cipher *security.FieldCipher,
	auditor *audit.Service,
	events *event.Emitter,
	validate validator.Validator,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		tx:         tx,
		encounters: encounters,
		billing:    billingSvc,
		admissions: admissions,
		patients:   patients,
		pharmacy:   pharmacySvc,
		cipher:     cipher,
		auditor:    auditor,
		events:     events,
		validate:   validate,
		logger:     log,
		metrics:    m,
	}
}

// CompleteConsultation finishes the visit and routes it either to billing
// (a pending ledger entry for the fee) or to admission. Validation and
// encryption happen before the transaction opens.
func (s *Service) CompleteConsultation(ctx context.Context, actor model.Actor, visitID int64, req model.CompleteConsultationRequest) (*model.ConsultationResult, error) {
	if actor.Role != model.RoleDoctor {
		return nil, apperrors.Forbidden("only doctors can complete consultations")
	}
	req.Diagnosis = strings.TrimSpace(req.Diagnosis)
	req.TreatmentPlan = strings.TrimSpace(req.TreatmentPlan)
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	fields := req.ClinicalFields()
	if err := s.cipher.EncryptAll(&fields.Diagnosis, &fields.TreatmentPlan, &fields.Prescription, &fields.Notes); err != nil {
		s.logger.Error(err, "failed to encrypt clinical fields", "visit_id", visitID)
		return nil, err
	}
	noteText := progressNoteText(req)

	started := time.Now()
	result := &model.ConsultationResult{VisitID: visitID, Decision: req.AdmissionDecision}

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(s.tx, tx)

		visit, err := s.encounters.CompleteTx(ctx, q, visitID, actor, fields)
		if err != nil {
			return err
		}

		order, err := s.pharmacy.CreateOrderTx(ctx, q, visitID, actor.UserID, req.Items)
		if err != nil {
			return err
		}
		if order != nil {
			result.PharmacyOrderID = &order.ID
		}

		switch req.AdmissionDecision {
		case model.AdmissionDecisionRecommend:
			adm, err := s.admissions.CreateFromEncounterTx(ctx, q, visitID, model.AdmissionRequest{
				Reason:       req.AdmissionReason,
				InitialNotes: req.AdmissionNotes,
			}, actor)
			if err != nil {
				return err
			}
			result.AdmissionID = &adm.ID
		default:
			entryID, err := s.billing.EnsurePendingEntryTx(ctx, q, visitID, visit.PatientRecordID, req.FeeAmount)
			if err != nil {
				return err
			}
			result.PaymentEntryID = &entryID
		}

		recordID, err := s.linkPatientRecord(ctx, q, visit)
		if err != nil {
			return err
		}
		result.PatientRecordID = recordID

		note, err := s.patients.AppendNoteTx(ctx, q, recordID, &visitID, actor.UserID, noteText)
		if err != nil {
			return err
		}
		result.ProgressNoteID = note.ID

		if err := s.events.Emit(ctx, q, model.EventConsultationCompleted, visitID, model.ConsultationCompletedPayload{
			VisitID:         visitID,
			DoctorID:        actor.UserID,
			Decision:        req.AdmissionDecision,
			PaymentEntryID:  result.PaymentEntryID,
			AdmissionID:     result.AdmissionID,
			PatientRecordID: recordID,
		}); err != nil {
			return err
		}
		return s.auditor.Record(ctx, q, actor, model.AuditActionComplete, model.AuditEntityVisit, visitID,
			map[string]interface{}{"decision": req.AdmissionDecision, "fee_amount": req.FeeAmount.String()})
	})
	s.metrics.ConsultationLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		s.recordFailure(visitID, err)
		return nil, err
	}

	s.metrics.VisitTransitions.WithLabelValues(string(model.VisitStatusCompleted), "ok").Inc()
	s.metrics.ConsultationsCompleted.WithLabelValues(string(req.AdmissionDecision)).Inc()
	s.logger.Info("consultation completed",
		"visit_id", visitID,
		"doctor_id", actor.UserID,
		"decision", string(req.AdmissionDecision),
		"patient_record_id", result.PatientRecordID,
	)
	return result, nil
}

// linkPatientRecord makes sure both the visit and its ledger entry point at a
// patient record, creating one from the visit identity when needed.
func (s *Service) linkPatientRecord(ctx context.Context, q sqlx.ExtContext, visit *model.Encounter) (int64, error) {
	if visit.PatientRecordID != nil {
		if err := s.billing.AttachPatientRecordTx(ctx, q, visit.ID, *visit.PatientRecordID); err != nil {
			return 0, err
		}
		return *visit.PatientRecordID, nil
	}

	rec, _, err := s.patients.ResolveRecordTx(ctx, q, patient.Identity{
		Name:    s.cipher.Reveal(visit.PatientName),
		Contact: s.cipher.Reveal(visit.ContactNumber),
		Address: s.cipher.Reveal(visit.Address),
	})
	if err != nil {
		return 0, err
	}
	if err := s.encounters.AttachPatientRecordTx(ctx, q, visit.ID, rec.ID); err != nil {
		return 0, err
	}
	if err := s.billing.AttachPatientRecordTx(ctx, q, visit.ID, rec.ID); err != nil {
		return 0, err
	}
	return rec.ID, nil
}

func (s *Service) recordFailure(visitID int64, err error) {
	switch {
	case apperrors.IsConflict(err):
		s.metrics.VisitTransitions.WithLabelValues(string(model.VisitStatusCompleted), "conflict").Inc()
		s.metrics.Conflicts.WithLabelValues("complete").Inc()
		s.logger.Warn("consultation completion rejected", "visit_id", visitID, "reason", err.Error())
	case apperrors.IsValidation(err), apperrors.IsForbidden(err), apperrors.IsNotFound(err):
		s.metrics.VisitTransitions.WithLabelValues(string(model.VisitStatusCompleted), "rejected").Inc()
	default:
		s.metrics.VisitTransitions.WithLabelValues(string(model.VisitStatusCompleted), "error").Inc()
		s.logger.Error(err, "consultation completion rolled back", "visit_id", visitID)
	}
}

func progressNoteText(req model.CompleteConsultationRequest) string {
	var b strings.Builder
	b.WriteString("Diagnosis: " + req.Diagnosis)
	b.WriteString("\nTreatment: " + req.TreatmentPlan)
	if p := strings.TrimSpace(req.Prescription); p != "" {
		b.WriteString("\nPrescription: " + p)
	}
	if req.FollowUpDate != nil {
		b.WriteString("\nFollow-up: " + req.FollowUpDate.Format("2006-01-02"))
	}
	return b.String()
}
