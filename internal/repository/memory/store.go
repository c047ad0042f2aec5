// Package memory is an in-process implementation of the repository
// interfaces. Transactions are serialized and roll back by restoring a
// snapshot, which is enough for service tests and local demos.
package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
)

type state struct {
	nextID     int64
	visits     map[int64]model.Encounter
	payments   map[int64]model.PaymentEntry
	admissions map[int64]model.Admission
	inpatients map[int64]model.InpatientPatient
	records    map[int64]model.PatientRecord
	notes      []model.ProgressNote
	clinicians map[int64]model.Clinician
	medicines  map[int64]model.Medicine
	orders     []model.PharmacyOrder
	outbox     []model.OutboxEvent
	audit      []model.AuditLog
}

func newState() *state {
	return &state{
		visits:     map[int64]model.Encounter{},
		payments:   map[int64]model.PaymentEntry{},
		admissions: map[int64]model.Admission{},
		inpatients: map[int64]model.InpatientPatient{},
		records:    map[int64]model.PatientRecord{},
		clinicians: map[int64]model.Clinician{},
		medicines:  map[int64]model.Medicine{},
	}
}

func (s *state) clone() *state {
	c := &state{
		nextID:     s.nextID,
		visits:     make(map[int64]model.Encounter, len(s.visits)),
		payments:   make(map[int64]model.PaymentEntry, len(s.payments)),
		admissions: make(map[int64]model.Admission, len(s.admissions)),
		inpatients: make(map[int64]model.InpatientPatient, len(s.inpatients)),
		records:    make(map[int64]model.PatientRecord, len(s.records)),
		clinicians: make(map[int64]model.Clinician, len(s.clinicians)),
		medicines:  make(map[int64]model.Medicine, len(s.medicines)),
		notes:      append([]model.ProgressNote(nil), s.notes...),
		orders:     append([]model.PharmacyOrder(nil), s.orders...),
		outbox:     append([]model.OutboxEvent(nil), s.outbox...),
		audit:      append([]model.AuditLog(nil), s.audit...),
	}
	for k, v := range s.visits {
		c.visits[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.admissions {
		c.admissions[k] = v
	}
	for k, v := range s.inpatients {
		c.inpatients[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.clinicians {
		c.clinicians[k] = v
	}
	for k, v := range s.medicines {
		c.medicines[k] = v
	}
	return c
}

// Store holds every table. Stored values are copies; callers never share memory with it.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state
	now  func() time.Time

	failures map[string]error
}

var _ repository.Transactor = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		st:       newState(),
		now:      func() time.Time { return time.Now().UTC() },
		failures: map[string]error{},
	}
}

// FailOn makes the named operation (for example "payments.Upsert") return err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) fail(op string) error {
	return s.failures[op]
}

func (s *Store) id() int64 {
	s.st.nextID++
	return s.st.nextID
}

// DB returns nil. The memory repositories ignore the executor.
func (s *Store) DB() sqlx.ExtContext {
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(nil)
}

func (s *Store) restore(snapshot *state) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = snapshot
}

// Seeding helpers.

func (s *Store) AddClinician(c model.Clinician) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.clinicians[c.ID] = c
}

func (s *Store) AddMedicine(m model.Medicine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.medicines[m.ID] = m
}

// PutVisit stores e as is, keeping its ID.
func (s *Store) PutVisit(e model.Encounter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID > s.st.nextID {
		s.st.nextID = e.ID
	}
	s.st.visits[e.ID] = e
}

func (s *Store) PutRecord(r model.PatientRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID > s.st.nextID {
		s.st.nextID = r.ID
	}
	s.st.records[r.ID] = r
}

func (s *Store) PutInpatient(p model.InpatientPatient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID > s.st.nextID {
		s.st.nextID = p.ID
	}
	s.st.inpatients[p.ID] = p
}

func (s *Store) PutAdmission(a model.Admission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID > s.st.nextID {
		s.st.nextID = a.ID
	}
	s.st.admissions[a.ID] = a
}

func (s *Store) PutNote(n model.ProgressNote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID > s.st.nextID {
		s.st.nextID = n.ID
	}
	s.st.notes = append(s.st.notes, n)
}

// Inspection helpers.

func (s *Store) Visit(id int64) (model.Encounter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.visits[id]
	return v, ok
}

func (s *Store) PaymentForVisit(visitID int64) (model.PaymentEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.st.payments {
		if p.VisitID == visitID {
			return p, true
		}
	}
	return model.PaymentEntry{}, false
}

func (s *Store) Admission(id int64) (model.Admission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.admissions[id]
	return a, ok
}

func (s *Store) AdmissionsForVisit(visitID int64) []model.Admission {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Admission
	for _, a := range s.st.admissions {
		if a.SourceVisitID != nil && *a.SourceVisitID == visitID {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) ProgressNotes() []model.ProgressNote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ProgressNote(nil), s.st.notes...)
}

func (s *Store) PatientRecords() []model.PatientRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PatientRecord, 0, len(s.st.records))
	for _, r := range s.st.records {
		out = append(out, r)
	}
	return out
}

func (s *Store) Inpatients() []model.InpatientPatient {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.InpatientPatient, 0, len(s.st.inpatients))
	for _, p := range s.st.inpatients {
		out = append(out, p)
	}
	return out
}

func (s *Store) PharmacyOrders() []model.PharmacyOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.PharmacyOrder(nil), s.st.orders...)
}

func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.OutboxEvent(nil), s.st.outbox...)
}

func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.st.audit...)
}

func notFound(entity string) error {
	return apperrors.NotFound(entity, sql.ErrNoRows)
}
