package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
)

func (s *Store) Encounters() repository.EncounterRepository { return &encounters{s} }
func (s *Store) Clinicians() repository.ClinicianRepository { return &clinicians{s} }
func (s *Store) Payments() repository.PaymentRepository { return &payments{s} }
func (s *Store) Admissions() repository.AdmissionRepository { return &admissions{s} }
func (s *Store) InpatientPatients() repository.InpatientRepository { return &inpatients{s} }
func (s *Store) Records() repository.PatientRecordRepository { return &records{s} }
func (s *Store) Notes() repository.ProgressNoteRepository { return &notes{s} }
func (s *Store) Medicines() repository.MedicineRepository { return &medicines{s} }
func (s *Store) Outbox() repository.OutboxRepository { return &outbox{s} }
func (s *Store) Audit() repository.AuditRepository { return &audits{s} }

func ptr[T any](v T) *T { return &v }

// pageAfter returns copies of the rows with id > afterID in id order.
func pageAfter[T any](rows map[int64]T, afterID int64, limit int) []*T {
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		out = append(out, ptr(rows[id]))
	}
	return out
}

type encounters struct{ s *Store }

func (r *encounters) Create(_ context.Context, _ sqlx.ExtContext, e *model.Encounter) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("encounters.Create"); err != nil {
		return err
	}
	e.ID = r.s.id()
	e.CreatedAt = r.s.now()
	e.UpdatedAt = e.CreatedAt
	r.s.st.visits[e.ID] = *e
	return nil
}

func (r *encounters) Get(_ context.Context, _ sqlx.ExtContext, id int64) (*model.Encounter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.st.visits[id]
	if !ok {
		return nil, notFound("visit")
	}
	return &v, nil
}

func (r *encounters) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (*model.Encounter, error) {
	return r.Get(ctx, q, id)
}

func (r *encounters) Start(_ context.Context, _ sqlx.ExtContext, id, doctorID int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.st.visits[id]
	if !ok || v.VisitStatus != model.VisitStatusWaiting || !v.AssignedTo(doctorID) {
		return false, nil
	}
	v.VisitStatus = model.VisitStatusInProgress
	v.DoctorID = ptr(doctorID)
	v.ConsultationStart = ptr(at)
	v.UpdatedAt = at
	r.s.st.visits[id] = v
	return true, nil
}

func (r *encounters) Complete(_ context.Context, _ sqlx.ExtContext, id, doctorID int64, f model.ClinicalFields, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("encounters.Complete"); err != nil {
		return false, err
	}
	v, ok := r.s.st.visits[id]
	if !ok || v.VisitStatus != model.VisitStatusInProgress || v.DoctorID == nil || *v.DoctorID != doctorID {
		return false, nil
	}
	v.VisitStatus = model.VisitStatusCompleted
	v.Diagnosis = f.Diagnosis
	v.TreatmentPlan = f.TreatmentPlan
	v.Prescription = f.Prescription
	v.Notes = f.Notes
	v.FollowUpDate = f.FollowUpDate
	v.ConsultationEnd = ptr(at)
	v.UpdatedAt = at
	r.s.st.visits[id] = v
	return true, nil
}

func (r *encounters) Cancel(_ context.Context, _ sqlx.ExtContext, id int64, reason string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.st.visits[id]
	if !ok || v.VisitStatus != model.VisitStatusWaiting {
		return false, nil
	}
	v.VisitStatus = model.VisitStatusCancelled
	if reason != "" {
		v.CancelReason = ptr(reason)
	}
	v.UpdatedAt = at
	r.s.st.visits[id] = v
	return true, nil
}

func (r *encounters) AttachPatientRecord(_ context.Context, _ sqlx.ExtContext, id, patientRecordID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.st.visits[id]
	if ok && v.PatientRecordID == nil {
		v.PatientRecordID = ptr(patientRecordID)
		r.s.st.visits[id] = v
	}
	return nil
}

func (r *encounters) CountInProgressForDoctor(_ context.Context, _ sqlx.ExtContext, doctorID int64, day time.Time, excludeID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	y, m, d := day.Date()
	n := 0
	for _, v := range r.s.st.visits {
		if v.ID == excludeID || v.VisitStatus != model.VisitStatusInProgress {
			continue
		}
		if v.DoctorID == nil || *v.DoctorID != doctorID || v.ConsultationStart == nil {
			continue
		}
		vy, vm, vd := v.ConsultationStart.In(day.Location()).Date()
		if vy == y && vm == m && vd == d {
			n++
		}
	}
	return n, nil
}

func (r *encounters) ListQueue(_ context.Context, _ sqlx.ExtContext, f model.QueueFilter) ([]*model.Encounter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = []model.VisitStatus{model.VisitStatusWaiting, model.VisitStatusInProgress}
	}
	var out []*model.Encounter
	for _, v := range r.s.st.visits {
		if !containsStatus(statuses, v.VisitStatus) {
			continue
		}
		if f.DoctorID != nil && v.DoctorID != nil && *v.DoctorID != *f.DoctorID {
			continue
		}
		if !f.Day.IsZero() {
			y, m, d := f.Day.Date()
			vy, vm, vd := v.ArrivalTime.In(f.Day.Location()).Date()
			if vy != y || vm != m || vd != d {
				continue
			}
		}
		v := v
		out = append(out, &v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ArrivalTime.Equal(out[j].ArrivalTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ArrivalTime.Before(out[j].ArrivalTime)
	})
	return out, nil
}

func (r *encounters) ListAfter(_ context.Context, _ sqlx.ExtContext, afterID int64, limit int) ([]*model.Encounter, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Encounter
	for _, v := range r.s.st.visits {
		if v.ID > afterID {
			v := v
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *encounters) UpdateSensitiveFields(_ context.Context, _ sqlx.ExtContext, e *model.Encounter) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.st.visits[e.ID]
	if !ok {
		return notFound("visit")
	}
	v.PatientName = e.PatientName
	v.ContactNumber = e.ContactNumber
	v.Address = e.Address
	v.Symptoms = e.Symptoms
	v.Diagnosis = e.Diagnosis
	v.TreatmentPlan = e.TreatmentPlan
	v.Prescription = e.Prescription
	v.Notes = e.Notes
	r.s.st.visits[e.ID] = v
	return nil
}

func containsStatus(list []model.VisitStatus, s model.VisitStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type clinicians struct{ s *Store }

func (r *clinicians) Get(_ context.Context, _ sqlx.ExtContext, id int64) (*model.Clinician, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.st.clinicians[id]
	if !ok {
		return nil, notFound("clinician")
	}
	return &c, nil
}

type payments struct{ s *Store }

func (r *payments) Upsert(_ context.Context, _ sqlx.ExtContext, visitID int64, patientRecordID *int64, amount model.Money) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("payments.Upsert"); err != nil {
		return 0, err
	}
	for id, p := range r.s.st.payments {
		if p.VisitID != visitID {
			continue
		}
		if p.PaymentStatus == model.PaymentStatusPending {
			p.AmountDue = amount
			if p.PatientRecordID == nil {
				p.PatientRecordID = patientRecordID
			}
			p.UpdatedAt = r.s.now()
			r.s.st.payments[id] = p
		}
		return id, nil
	}
	p := model.PaymentEntry{
		ID:              r.s.id(),
		VisitID:         visitID,
		PatientRecordID: patientRecordID,
		AmountDue:       amount,
		PaymentStatus:   model.PaymentStatusPending,
	}
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.st.payments[p.ID] = p
	return p.ID, nil
}

func (r *payments) Get(_ context.Context, _ sqlx.ExtContext, id int64) (*model.PaymentEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.payments[id]
	if !ok {
		return nil, notFound("payment entry")
	}
	return &p, nil
}

func (r *payments) GetForUpdate(ctx context.Context, q sqlx.ExtContext, id int64) (*model.PaymentEntry, error) {
	return r.Get(ctx, q, id)
}

func (r *payments) GetByVisit(_ context.Context, _ sqlx.ExtContext, visitID int64) (*model.PaymentEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.st.payments {
		if p.VisitID == visitID {
			return &p, nil
		}
	}
	return nil, notFound("payment entry")
}

func (r *payments) MarkPaid(_ context.Context, _ sqlx.ExtContext, id int64, amountPaid, tendered model.Money, receivedBy int64, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.payments[id]
	if !ok || p.PaymentStatus != model.PaymentStatusPending {
		return false, nil
	}
	p.PaymentStatus = model.PaymentStatusPaid
	p.AmountPaid = amountPaid
	p.TenderedAmount = tendered
	p.ReceivedBy = ptr(receivedBy)
	p.PaymentDate = ptr(at)
	p.UpdatedAt = at
	r.s.st.payments[id] = p
	return true, nil
}

func (r *payments) DeletePendingByVisit(_ context.Context, _ sqlx.ExtContext, visitID int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, p := range r.s.st.payments {
		if p.VisitID == visitID && p.PaymentStatus == model.PaymentStatusPending {
			delete(r.s.st.payments, id)
			n++
		}
	}
	return n, nil
}

func (r *payments) AttachPatientRecord(_ context.Context, _ sqlx.ExtContext, visitID, patientRecordID int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, p := range r.s.st.payments {
		if p.VisitID == visitID && p.PatientRecordID == nil {
			p.PatientRecordID = ptr(patientRecordID)
			r.s.st.payments[id] = p
		}
	}
	return nil
}

func (r *payments) BackfillMissing(_ context.Context, _ sqlx.ExtContext) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	hasEntry := map[int64]bool{}
	for _, p := range r.s.st.payments {
		hasEntry[p.VisitID] = true
	}
	for _, a := range r.s.st.admissions {
		if a.SourceVisitID != nil {
			hasEntry[*a.SourceVisitID] = true
		}
	}
	var n int64
	for _, v := range r.s.st.visits {
		if v.VisitStatus != model.VisitStatusCompleted || hasEntry[v.ID] {
			continue
		}
		p := model.PaymentEntry{
			ID:              r.s.id(),
			VisitID:         v.ID,
			PatientRecordID: v.PatientRecordID,
			PaymentStatus:   model.PaymentStatusPending,
		}
		p.CreatedAt = r.s.now()
		p.UpdatedAt = p.CreatedAt
		r.s.st.payments[p.ID] = p
		n++
	}
	return n, nil
}

type admissions struct{ s *Store }

func (r *admissions) Create(_ context.Context, _ sqlx.ExtContext, a *model.Admission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("admissions.Create"); err != nil {
		return err
	}
	if a.SourceVisitID != nil && a.AdmissionStatus.Active() {
		for _, existing := range r.s.st.admissions {
			if existing.SourceVisitID != nil && *existing.SourceVisitID == *a.SourceVisitID && existing.AdmissionStatus.Active() {
				return apperrors.Conflict("an active admission already exists for this visit")
			}
		}
	}
	a.ID = r.s.id()
	a.CreatedAt = r.s.now()
	a.UpdatedAt = a.CreatedAt
	r.s.st.admissions[a.ID] = *a
	return nil
}

func (r *admissions) Get(_ context.Context, _ sqlx.ExtContext, id int64) (*model.Admission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.admissions[id]
	if !ok {
		return nil, notFound("admission")
	}
	return &a, nil
}

func (r *admissions) FindActiveBySourceVisit(_ context.Context, _ sqlx.ExtContext, visitID int64) (*model.Admission, error) {
	return r.latest(visitID, true)
}

func (r *admissions) GetLatestBySourceVisit(_ context.Context, _ sqlx.ExtContext, visitID int64) (*model.Admission, error) {
	return r.latest(visitID, false)
}

func (r *admissions) latest(visitID int64, activeOnly bool) (*model.Admission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *model.Admission
	for _, a := range r.s.st.admissions {
		if a.SourceVisitID == nil || *a.SourceVisitID != visitID {
			continue
		}
		if activeOnly && !a.AdmissionStatus.Active() {
			continue
		}
		if found == nil || a.ID > found.ID {
			a := a
			found = &a
		}
	}
	if found == nil {
		return nil, notFound("admission")
	}
	return found, nil
}

func (r *admissions) UpdateStatus(_ context.Context, _ sqlx.ExtContext, id int64, from, to model.AdmissionStatus, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.admissions[id]
	if !ok || a.AdmissionStatus != from {
		return false, nil
	}
	a.AdmissionStatus = to
	switch to {
	case model.AdmissionStatusAdmitted:
		a.AdmittedAt = ptr(at)
	case model.AdmissionStatusDischarged:
		a.DischargedAt = ptr(at)
	}
	a.UpdatedAt = at
	r.s.st.admissions[id] = a
	return true, nil
}

func (r *admissions) ListAfter(_ context.Context, _ sqlx.ExtContext, afterID int64, limit int) ([]*model.Admission, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return pageAfter(r.s.st.admissions, afterID, limit), nil
}

func (r *admissions) UpdateSensitiveFields(_ context.Context, _ sqlx.ExtContext, a *model.Admission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.admissions[a.ID]
	if !ok {
		return notFound("admission")
	}
	cur.AdmissionReason = a.AdmissionReason
	cur.InitialNotes = a.InitialNotes
	r.s.st.admissions[a.ID] = cur
	return nil
}

type inpatients struct{ s *Store }

func (r *inpatients) FindByNameHash(_ context.Context, _ sqlx.ExtContext, hash string) (*model.InpatientPatient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *model.InpatientPatient
	for _, p := range r.s.st.inpatients {
		if p.NameHash == hash && (found == nil || p.ID < found.ID) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return nil, notFound("patient")
	}
	return found, nil
}

func (r *inpatients) Create(_ context.Context, _ sqlx.ExtContext, p *model.InpatientPatient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p.ID = r.s.id()
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.st.inpatients[p.ID] = *p
	return nil
}

func (r *inpatients) ListAfter(_ context.Context, _ sqlx.ExtContext, afterID int64, limit int) ([]*model.InpatientPatient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return pageAfter(r.s.st.inpatients, afterID, limit), nil
}

func (r *inpatients) UpdateSensitiveFields(_ context.Context, _ sqlx.ExtContext, p *model.InpatientPatient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.inpatients[p.ID]
	if !ok {
		return notFound("patient")
	}
	cur.FullName = p.FullName
	cur.ContactNumber = p.ContactNumber
	cur.Address = p.Address
	r.s.st.inpatients[p.ID] = cur
	return nil
}

type records struct{ s *Store }

func (r *records) Get(_ context.Context, _ sqlx.ExtContext, id int64) (*model.PatientRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.st.records[id]
	if !ok {
		return nil, notFound("patient record")
	}
	return &rec, nil
}

func (r *records) FindByNameHash(_ context.Context, _ sqlx.ExtContext, hash string) (*model.PatientRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *model.PatientRecord
	for _, rec := range r.s.st.records {
		if rec.NameHash == hash && (found == nil || rec.ID < found.ID) {
			rec := rec
			found = &rec
		}
	}
	if found == nil {
		return nil, notFound("patient record")
	}
	return found, nil
}

func (r *records) Create(_ context.Context, _ sqlx.ExtContext, rec *model.PatientRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("records.Create"); err != nil {
		return err
	}
	rec.ID = r.s.id()
	rec.CreatedAt = r.s.now()
	rec.UpdatedAt = rec.CreatedAt
	r.s.st.records[rec.ID] = *rec
	return nil
}

func (r *records) ListAfter(_ context.Context, _ sqlx.ExtContext, afterID int64, limit int) ([]*model.PatientRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return pageAfter(r.s.st.records, afterID, limit), nil
}

func (r *records) UpdateSensitiveFields(_ context.Context, _ sqlx.ExtContext, rec *model.PatientRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.st.records[rec.ID]
	if !ok {
		return notFound("patient record")
	}
	cur.PatientName = rec.PatientName
	cur.ContactNumber = rec.ContactNumber
	cur.Address = rec.Address
	r.s.st.records[rec.ID] = cur
	return nil
}

type notes struct{ s *Store }

func (r *notes) Create(_ context.Context, _ sqlx.ExtContext, n *model.ProgressNote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("notes.Create"); err != nil {
		return err
	}
	n.ID = r.s.id()
	n.CreatedAt = r.s.now()
	r.s.st.notes = append(r.s.st.notes, *n)
	return nil
}

func (r *notes) ListByPatientRecord(_ context.Context, _ sqlx.ExtContext, patientRecordID int64) ([]*model.ProgressNote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ProgressNote
	for _, n := range r.s.st.notes {
		if n.PatientRecordID == patientRecordID {
			n := n
			out = append(out, &n)
		}
	}
	return out, nil
}

func (r *notes) ListAfter(_ context.Context, _ sqlx.ExtContext, afterID int64, limit int) ([]*model.ProgressNote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.ProgressNote
	for _, n := range r.s.st.notes {
		if n.ID > afterID {
			out = append(out, ptr(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *notes) UpdateNoteText(_ context.Context, _ sqlx.ExtContext, id int64, noteText string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.st.notes {
		if r.s.st.notes[i].ID == id {
			r.s.st.notes[i].NoteText = noteText
			return nil
		}
	}
	return notFound("progress note")
}

type medicines struct{ s *Store }

func (r *medicines) GetForShare(_ context.Context, _ sqlx.ExtContext, id int64) (*model.Medicine, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.st.medicines[id]
	if !ok {
		return nil, notFound("medicine")
	}
	return &m, nil
}

func (r *medicines) CreateOrder(_ context.Context, _ sqlx.ExtContext, order *model.PharmacyOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order.ID = r.s.id()
	order.CreatedAt = r.s.now()
	r.s.st.orders = append(r.s.st.orders, *order)
	return nil
}

type outbox struct{ s *Store }

func (r *outbox) Create(_ context.Context, _ sqlx.ExtContext, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("outbox.Create"); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	event.Status = model.OutboxStatusPending
	event.CreatedAt = r.s.now()
	event.UpdatedAt = event.CreatedAt
	r.s.st.outbox = append(r.s.st.outbox, *event)
	return nil
}

func (r *outbox) GetPendingForUpdate(_ context.Context, _ sqlx.ExtContext, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.now()
	var out []*model.OutboxEvent
	for _, e := range r.s.st.outbox {
		if len(out) == limit {
			break
		}
		if e.Status != model.OutboxStatusPending && e.Status != model.OutboxStatusRetry {
			continue
		}
		if e.RetryAt != nil && e.RetryAt.After(now) {
			continue
		}
		e := e
		out = append(out, &e)
	}
	return out, nil
}

func (r *outbox) update(id uuid.UUID, fn func(e *model.OutboxEvent)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.st.outbox {
		if r.s.st.outbox[i].ID == id {
			fn(&r.s.st.outbox[i])
			r.s.st.outbox[i].UpdatedAt = r.s.now()
			return nil
		}
	}
	return notFound("outbox event")
}

func (r *outbox) MarkProcessed(_ context.Context, _ sqlx.ExtContext, id uuid.UUID) error {
	return r.update(id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusProcessed
		e.ErrorMessage = nil
		e.ProcessedAt = ptr(r.s.now())
	})
}

func (r *outbox) MarkRetry(_ context.Context, _ sqlx.ExtContext, id uuid.UUID, errorMessage string, retryAt time.Time) error {
	return r.update(id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusRetry
		e.ErrorMessage = ptr(errorMessage)
		e.RetryCount++
		e.RetryAt = ptr(retryAt)
	})
}

func (r *outbox) MarkFailed(_ context.Context, _ sqlx.ExtContext, id uuid.UUID, errorMessage string) error {
	return r.update(id, func(e *model.OutboxEvent) {
		e.Status = model.OutboxStatusFailed
		e.ErrorMessage = ptr(errorMessage)
		e.RetryCount++
	})
}

func (r *outbox) DeleteProcessedBefore(_ context.Context, _ sqlx.ExtContext, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.st.outbox[:0]
	var n int64
	for _, e := range r.s.st.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.st.outbox = kept
	return n, nil
}

type audits struct{ s *Store }

func (r *audits) Create(_ context.Context, _ sqlx.ExtContext, log *model.AuditLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("audit.Create"); err != nil {
		return err
	}
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.s.now()
	}
	r.s.st.audit = append(r.s.st.audit, *log)
	return nil
}

func (r *audits) ListByEntity(_ context.Context, _ sqlx.ExtContext, entityType string, entityID int64) ([]*model.AuditLog, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.AuditLog
	for _, l := range r.s.st.audit {
		if l.EntityType == entityType && l.EntityID == entityID {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

func (r *audits) DeleteBefore(_ context.Context, _ sqlx.ExtContext, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.st.audit[:0]
	var n int64
	for _, l := range r.s.st.audit {
		if l.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	r.s.st.audit = kept
	return n, nil
}
