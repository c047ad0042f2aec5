package admission

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/billing"
	"github.com/jwalitptl/opd-api/internal/service/event"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

// Service bridges completed visits into inpatient admissions. It owns the
// admissions and patients tables.
type Service struct {
	tx         repository.Transactor
	visits     repository.EncounterRepository
	admissions repository.AdmissionRepository
	inpatients repository.InpatientRepository
	billing    *billing.Service
	cipher     *security.FieldCipher
	auditor    *audit.Service
	events     *event.Emitter
	validate   validator.Validator
	logger     *logger.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewService(
	tx repository.Transactor,
	visits repository.EncounterRepository,
	admissions repository.AdmissionRepository,
	inpatients repository.InpatientRepository,
	billingSvc *billing.Service,
	cipher *security.FieldCipher,
	auditor *audit.Service,
	events *event.Emitter,
	validate validator.Validator,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		tx:         tx,
		visits:     visits,
		admissions: admissions,
		inpatients: inpatients,
		billing:    billingSvc,
		cipher:     cipher,
		auditor:    auditor,
		events:     events,
		validate:   validate,
		logger:     log,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateFromEncounterTx opens a pending admission for a completed visit and
// removes the visit's pending ledger entry. It runs inside the caller's
// transaction.
func (s *Service) CreateFromEncounterTx(ctx context.Context, q sqlx.ExtContext, visitID int64, req model.AdmissionRequest, requestedBy model.Actor) (*model.Admission, error) {
	visit, err := s.visits.GetForUpdate(ctx, q, visitID)
	if err != nil {
		return nil, err
	}
	if visit.VisitStatus != model.VisitStatusCompleted {
		return nil, apperrors.NotFound("completed visit", nil)
	}

	existing, err := s.admissions.FindActiveBySourceVisit(ctx, q, visitID)
	switch {
	case err == nil:
		s.metrics.Conflicts.WithLabelValues("create_admission").Inc()
		s.logger.Warn("visit already has an active admission", "visit_id", visitID, "admission_id", existing.ID)
		return nil, apperrors.Conflict("an active admission already exists for this visit")
	case !apperrors.IsNotFound(err):
		return nil, err
	}

	patient, err := s.resolveInpatient(ctx, q, visit)
	if err != nil {
		return nil, err
	}

	adm := &model.Admission{
		PatientID:       patient.ID,
		SourceVisitID:   &visitID,
		AdmissionReason: req.Reason,
		InitialNotes:    req.InitialNotes,
		RequestedBy:     requestedBy.UserID,
		AdmissionStatus: model.AdmissionStatusPending,
	}
	if err := s.cipher.EncryptAll(&adm.AdmissionReason, &adm.InitialNotes); err != nil {
		return nil, err
	}
	if err := s.admissions.Create(ctx, q, adm); err != nil {
		return nil, err
	}

	if err := s.billing.RemoveEntryForVisitTx(ctx, q, visitID); err != nil {
		return nil, err
	}

	if err := s.events.Emit(ctx, q, model.EventAdmissionCreated, adm.ID, model.AdmissionCreatedPayload{
		AdmissionID:   adm.ID,
		PatientID:     patient.ID,
		SourceVisitID: visitID,
		RequestedBy:   requestedBy.UserID,
	}); err != nil {
		return nil, err
	}
	if err := s.auditor.Record(ctx, q, requestedBy, model.AuditActionAdmit, model.AuditEntityAdmission, adm.ID,
		map[string]interface{}{"source_visit_id": visitID, "patient_id": patient.ID}); err != nil {
		return nil, err
	}

	s.logger.Info("admission requested", "admission_id", adm.ID, "visit_id", visitID, "patient_id", patient.ID)
	return adm, nil
}

// resolveInpatient finds the inpatient identity by name hash, inserting one
// from the visit's identity when none matches.
func (s *Service) resolveInpatient(ctx context.Context, q sqlx.ExtContext, visit *model.Encounter) (*model.InpatientPatient, error) {
	name := s.cipher.Reveal(visit.PatientName)
	hash := s.cipher.HashName(name)

	if hash != "" {
		found, err := s.inpatients.FindByNameHash(ctx, q, hash)
		if err == nil {
			return found, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, err
		}
	}

	p := &model.InpatientPatient{
		FullName:      name,
		NameHash:      hash,
		ContactNumber: s.cipher.Reveal(visit.ContactNumber),
		Address:       s.cipher.Reveal(visit.Address),
		Gender:        visit.Gender,
		Age:           visit.Age,
	}
	if err := s.cipher.EncryptAll(&p.FullName, &p.ContactNumber, &p.Address); err != nil {
		return nil, err
	}
	if err := s.inpatients.Create(ctx, q, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ForVisit returns the latest admission traced to the visit, or nil.
func (s *Service) ForVisit(ctx context.Context, q sqlx.ExtContext, visitID int64) (*model.Admission, error) {
	adm, err := s.admissions.GetLatestBySourceVisit(ctx, q, visitID)
	if apperrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.reveal(adm)
	return adm, nil
}

// UpdateStatus moves an admission along pending -> admitted -> discharged,
// or cancels it while pending.
func (s *Service) UpdateStatus(ctx context.Context, actor model.Actor, admissionID int64, req model.UpdateAdmissionStatusRequest) (*model.Admission, error) {
	if !actor.Role.CanManageAdmissions() {
		return nil, apperrors.Forbidden("role cannot manage admissions")
	}
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	var updated *model.Admission
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(s.tx, tx)

		current, err := s.admissions.Get(ctx, q, admissionID)
		if err != nil {
			return err
		}
		from := current.AdmissionStatus
		if !from.CanTransitionTo(req.Status) {
			return apperrors.Conflict("admission cannot move from " + string(from) + " to " + string(req.Status))
		}

		ok, err := s.admissions.UpdateStatus(ctx, q, admissionID, from, req.Status, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict("admission status changed concurrently")
		}

		if err := s.events.Emit(ctx, q, model.EventAdmissionStatus, admissionID, model.AdmissionStatusPayload{
			AdmissionID: admissionID,
			From:        from,
			To:          req.Status,
			ActorID:     actor.UserID,
		}); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, q, actor, model.AuditActionStatus, model.AuditEntityAdmission, admissionID,
			map[string]interface{}{"from": from, "to": req.Status}); err != nil {
			return err
		}

		updated, err = s.admissions.Get(ctx, q, admissionID)
		return err
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			s.metrics.Conflicts.WithLabelValues("admission_status").Inc()
		}
		return nil, err
	}

	s.reveal(updated)
	s.logger.Info("admission status changed", "admission_id", admissionID, "to", string(req.Status), "user_id", actor.UserID)
	return updated, nil
}

func (s *Service) reveal(a *model.Admission) {
	a.AdmissionReason = s.cipher.Reveal(a.AdmissionReason)
	a.InitialNotes = s.cipher.Reveal(a.InitialNotes)
}
