package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/internal/service/admission"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	"github.com/jwalitptl/opd-api/internal/service/billing"
	"github.com/jwalitptl/opd-api/internal/service/event"
	"github.com/jwalitptl/opd-api/internal/service/patient"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

// Options carries the clinic policy the store enforces.
type Options struct {
	// SingleActiveConsultation rejects a start while the doctor already has
	// another in_progress visit on the same clinic day.
	SingleActiveConsultation bool
	Location                 *time.Location
}

// Service is the only writer of opd_visits.
type Service struct {
	tx         repository.Transactor
	visits     repository.EncounterRepository
	clinicians repository.ClinicianRepository
	patients   *patient.Service
	billing    *billing.Service
	admissions *admission.Service
	cipher     *security.FieldCipher
	auditor    *audit.Service
	events     *event.Emitter
	validate   validator.Validator
	logger     *logger.Logger
	metrics    *metrics.Metrics
	opts       Options
	now        func() time.Time
}

func NewService(
	tx repository.Transactor,
	visits repository.EncounterRepository,
	clinicians repository.ClinicianRepository,
	patients *patient.Service,
	billingSvc *billing.Service,
	admissions *admission.Service,
	cipher *security.FieldCipher,
	auditor *audit.Service,
	events *event.Emitter,
	validate validator.Validator,
	log *logger.Logger,
	m *metrics.Metrics,
	opts Options,
) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		tx:         tx,
		visits:     visits,
		clinicians: clinicians,
		patients:   patients,
		billing:    billingSvc,
		admissions: admissions,
		cipher:     cipher,
		auditor:    auditor,
		events:     events,
		validate:   validate,
		logger:     log,
		metrics:    m,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a waiting visit at intake. New patients get a patient
// record straight away; follow-ups link to an existing record when the name
// matches one.
func (s *Service) Register(ctx context.Context, actor model.Actor, req model.RegisterVisitRequest) (*model.Encounter, error) {
	if !actor.Role.CanRegister() {
		return nil, apperrors.Forbidden("role cannot register visits")
	}
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	e := &model.Encounter{
		PatientName:   strings.TrimSpace(req.PatientName),
		ContactNumber: req.ContactNumber,
		Address:       req.Address,
		Age:           req.Age,
		Gender:        req.Gender,
		BloodPressure: req.BloodPressure,
		Temperature:   req.Temperature,
		PulseRate:     req.PulseRate,
		Weight:        req.Weight,
		Symptoms:      req.Symptoms,
		VisitType:     req.VisitType,
		VisitStatus:   model.VisitStatusWaiting,
		DoctorID:      req.DoctorID,
		ArrivalTime:   s.now(),
	}
	if spec := strings.TrimSpace(req.RequestedSpecialty); spec != "" {
		e.RequestedSpecialty = &spec
	}
	identity := patient.Identity{Name: e.PatientName, Contact: e.ContactNumber, Address: e.Address}

	if err := s.cipher.EncryptAll(&e.PatientName, &e.ContactNumber, &e.Address, &e.Symptoms); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(s.tx, tx)

		if req.DoctorID != nil {
			doc, err := s.clinicians.Get(ctx, q, *req.DoctorID)
			if apperrors.IsNotFound(err) {
				return apperrors.Validation("doctor_id does not refer to a clinician", err)
			}
			if err != nil {
				return err
			}
			if doc.Role != model.RoleDoctor || !doc.Active {
				return apperrors.Validation("doctor_id does not refer to an active doctor", nil)
			}
		}

		switch req.VisitType {
		case model.VisitTypeNew:
			rec, _, err := s.patients.ResolveRecordTx(ctx, q, identity)
			if err != nil {
				return err
			}
			e.PatientRecordID = &rec.ID
		case model.VisitTypeFollowUp:
			rec, err := s.patients.FindRecordTx(ctx, q, identity.Name)
			switch {
			case err == nil:
				e.PatientRecordID = &rec.ID
			case !apperrors.IsNotFound(err):
				return err
			}
		}

		if err := s.visits.Create(ctx, q, e); err != nil {
			return err
		}
		if err := s.events.Emit(ctx, q, model.EventVisitRegistered, e.ID, model.VisitTransitionPayload{
			VisitID: e.ID,
			ActorID: actor.UserID,
			Status:  model.VisitStatusWaiting,
		}); err != nil {
			return err
		}
		return s.auditor.Record(ctx, q, actor, model.AuditActionCreate, model.AuditEntityVisit, e.ID,
			map[string]interface{}{"visit_type": e.VisitType, "patient_record_id": e.PatientRecordID})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.VisitTransitions.WithLabelValues(string(model.VisitStatusWaiting), "ok").Inc()
	s.logger.Info("visit registered", "visit_id", e.ID, "visit_type", string(e.VisitType), "user_id", actor.UserID)
	s.reveal(e)
	return e, nil
}

// Start moves a waiting visit to in_progress under the calling doctor. When
// two doctors race for the same visit exactly one wins; the other gets a
// conflict.
func (s *Service) Start(ctx context.Context, actor model.Actor, visitID int64) (*model.Encounter, error) {
	if actor.Role != model.RoleDoctor {
		return nil, apperrors.Forbidden("only doctors can start consultations")
	}

	var started *model.Encounter
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(s.tx, tx)

		visit, err := s.visits.GetForUpdate(ctx, q, visitID)
		if err != nil {
			return err
		}
		if visit.VisitStatus != model.VisitStatusWaiting {
			return apperrors.Conflict(fmt.Sprintf("visit is %s, not waiting", visit.VisitStatus))
		}
		if !visit.AssignedTo(actor.UserID) {
			return apperrors.Conflict("visit is assigned to another doctor")
		}

		doc, err := s.clinicians.Get(ctx, q, actor.UserID)
		if apperrors.IsNotFound(err) {
			return apperrors.Forbidden("caller is not a registered clinician")
		}
		if err != nil {
			return err
		}
		if !doc.Active {
			return apperrors.Forbidden("clinician account is inactive")
		}
		if visit.DoctorID == nil && visit.RequestedSpecialty != nil &&
			!strings.EqualFold(strings.TrimSpace(doc.Specialty), strings.TrimSpace(*visit.RequestedSpecialty)) {
			return apperrors.Forbidden(fmt.Sprintf("visit requires specialty %s", *visit.RequestedSpecialty))
		}

		now := s.now()
		if s.opts.SingleActiveConsultation {
			n, err := s.visits.CountInProgressForDoctor(ctx, q, actor.UserID, now.In(s.opts.Location), visitID)
			if err != nil {
				return err
			}
			if n > 0 {
				return apperrors.Conflict("doctor already has a consultation in progress")
			}
		}

		ok, err := s.visits.Start(ctx, q, visitID, actor.UserID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict("visit was started by someone else")
		}

		if err := s.events.Emit(ctx, q, model.EventConsultationStarted, visitID, model.VisitTransitionPayload{
			VisitID: visitID,
			ActorID: actor.UserID,
			Status:  model.VisitStatusInProgress,
		}); err != nil {
			return err
		}
		if err := s.auditor.Record(ctx, q, actor, model.AuditActionStart, model.AuditEntityVisit, visitID, nil); err != nil {
			return err
		}

		started, err = s.visits.Get(ctx, q, visitID)
		return err
	})
	if err != nil {
		s.recordOutcome(model.VisitStatusInProgress, "start", err)
		return nil, err
	}

	s.metrics.VisitTransitions.WithLabelValues(string(model.VisitStatusInProgress), "ok").Inc()
	s.logger.Info("consultation started", "visit_id", visitID, "doctor_id", actor.UserID)
	s.reveal(started)
	return started, nil
}

// CompleteTx locks the visit and records the encrypted clinical fields. It
// must run inside the consultation transaction. The returned visit is the
// locked row before the update, still encrypted.
func (s *Service) CompleteTx(ctx context.Context, q sqlx.ExtContext, visitID int64, actor model.Actor, fields model.ClinicalFields) (*model.Encounter, error) {
	visit, err := s.visits.GetForUpdate(ctx, q, visitID)
	if err != nil {
		return nil, err
	}
	if visit.VisitStatus != model.VisitStatusInProgress {
		return nil, apperrors.Conflict(fmt.Sprintf("visit is %s, not in progress", visit.VisitStatus))
	}
	if visit.DoctorID == nil || *visit.DoctorID != actor.UserID {
		return nil, apperrors.Forbidden("only the attending doctor can complete this consultation")
	}
	if fields.Diagnosis == "" || fields.TreatmentPlan == "" {
		return nil, apperrors.Validation("diagnosis and treatment_plan are required", nil)
	}

	ok, err := s.visits.Complete(ctx, q, visitID, actor.UserID, fields, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.Conflict("visit changed while completing")
	}
	return visit, nil
}

// Cancel closes a waiting visit. Front desk only.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, visitID int64, reason string) error {
	if !actor.Role.IsFrontDesk() {
		return apperrors.Forbidden("only front desk staff can cancel visits")
	}
	reason = strings.TrimSpace(reason)

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(s.tx, tx)

		visit, err := s.visits.Get(ctx, q, visitID)
		if err != nil {
			return err
		}
		if !visit.VisitStatus.CanTransitionTo(model.VisitStatusCancelled) {
			return apperrors.Conflict(fmt.Sprintf("visit is %s and cannot be cancelled", visit.VisitStatus))
		}

		ok, err := s.visits.Cancel(ctx, q, visitID, reason, s.now())
		if err != nil {
			return err
		}
		if !ok {
			return apperrors.Conflict("visit is no longer waiting")
		}

		if err := s.events.Emit(ctx, q, model.EventVisitCancelled, visitID, model.VisitTransitionPayload{
			VisitID: visitID,
			ActorID: actor.UserID,
			Status:  model.VisitStatusCancelled,
		}); err != nil {
			return err
		}
		return s.auditor.Record(ctx, q, actor, model.AuditActionCancel, model.AuditEntityVisit, visitID,
			map[string]interface{}{"reason": reason})
	})
	if err != nil {
		s.recordOutcome(model.VisitStatusCancelled, "cancel", err)
		return err
	}

	s.metrics.VisitTransitions.WithLabelValues(string(model.VisitStatusCancelled), "ok").Inc()
	s.logger.Info("visit cancelled", "visit_id", visitID, "user_id", actor.UserID)
	return nil
}

// AttachPatientRecordTx links the visit to a record if it has none.
func (s *Service) AttachPatientRecordTx(ctx context.Context, q sqlx.ExtContext, visitID, patientRecordID int64) error {
	return s.visits.AttachPatientRecord(ctx, q, visitID, patientRecordID)
}

// GetDetails returns the decrypted visit together with its ledger entry and
// admission, if any.
func (s *Service) GetDetails(ctx context.Context, visitID int64) (*model.EncounterDetails, error) {
	q := s.tx.DB()

	visit, err := s.visits.Get(ctx, q, visitID)
	if err != nil {
		return nil, err
	}
	s.reveal(visit)

	details := &model.EncounterDetails{Encounter: *visit}
	if details.Payment, err = s.billing.EntryForVisit(ctx, q, visitID); err != nil {
		return nil, fmt.Errorf("load payment entry: %w", err)
	}
	if details.Admission, err = s.admissions.ForVisit(ctx, q, visitID); err != nil {
		return nil, fmt.Errorf("load admission: %w", err)
	}
	return details, nil
}

// ListQueue returns open visits for the day, oldest arrival first. Only the
// calendar date of day is used and it is read in the clinic timezone. A doctor
// filter also includes unassigned visits.
func (s *Service) ListQueue(ctx context.Context, doctorID *int64, day time.Time) ([]*model.Encounter, error) {
	if day.IsZero() {
		day = s.now().In(s.opts.Location)
	}
	y, m, d := day.Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, s.opts.Location)
	visits, err := s.visits.ListQueue(ctx, s.tx.DB(), model.QueueFilter{
		DoctorID: doctorID,
		Day:      day,
		Statuses: []model.VisitStatus{model.VisitStatusWaiting, model.VisitStatusInProgress},
	})
	if err != nil {
		return nil, err
	}
	for _, v := range visits {
		s.reveal(v)
	}
	return visits, nil
}

func (s *Service) recordOutcome(to model.VisitStatus, operation string, err error) {
	switch {
	case apperrors.IsConflict(err):
		s.metrics.VisitTransitions.WithLabelValues(string(to), "conflict").Inc()
		s.metrics.Conflicts.WithLabelValues(operation).Inc()
		s.logger.Warn("visit transition rejected", "operation", operation, "reason", err.Error())
	case apperrors.IsForbidden(err), apperrors.IsNotFound(err), apperrors.IsValidation(err):
		s.metrics.VisitTransitions.WithLabelValues(string(to), "rejected").Inc()
	default:
		s.metrics.VisitTransitions.WithLabelValues(string(to), "error").Inc()
	}
}

func (s *Service) reveal(e *model.Encounter) {
	e.PatientName = s.cipher.Reveal(e.PatientName)
	e.ContactNumber = s.cipher.Reveal(e.ContactNumber)
	e.Address = s.cipher.Reveal(e.Address)
	e.Symptoms = s.cipher.Reveal(e.Symptoms)
	e.Diagnosis = s.cipher.Reveal(e.Diagnosis)
	e.TreatmentPlan = s.cipher.Reveal(e.TreatmentPlan)
	e.Prescription = s.cipher.Reveal(e.Prescription)
	e.Notes = s.cipher.Reveal(e.Notes)
}
