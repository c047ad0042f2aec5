package patient

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/model"
	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/internal/service/audit"
	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/security"
	"github.com/jwalitptl/opd-api/pkg/validator"
)

// Identity is the plaintext identity used to find or create a record.
type Identity struct {
	Name    string
	Contact string
	Address string
}

type Service struct {
	tx       repository.Transactor
	records  repository.PatientRecordRepository
	notes    repository.ProgressNoteRepository
	cipher   *security.FieldCipher
	auditor  *audit.Service
	validate validator.Validator
}

func NewService(
	tx repository.Transactor,
	records repository.PatientRecordRepository,
	notes repository.ProgressNoteRepository,
	cipher *security.FieldCipher,
	auditor *audit.Service,
	validate validator.Validator,
) *Service {
	return &Service{
		tx:       tx,
		records:  records,
		notes:    notes,
		cipher:   cipher,
		auditor:  auditor,
		validate: validate,
	}
}

// FindRecordTx returns the oldest record matching the name hash.
func (s *Service) FindRecordTx(ctx context.Context, q sqlx.ExtContext, name string) (*model.PatientRecord, error) {
	hash := s.cipher.HashName(name)
	if hash == "" {
		return nil, apperrors.NotFound("patient record", nil)
	}
	return s.records.FindByNameHash(ctx, q, hash)
}

// ResolveRecordTx finds the record for id or creates one. created reports
// whether a new record was inserted.
func (s *Service) ResolveRecordTx(ctx context.Context, q sqlx.ExtContext, id Identity) (rec *model.PatientRecord, created bool, err error) {
	rec, err = s.FindRecordTx(ctx, q, id.Name)
	if err == nil {
		return rec, false, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, false, err
	}

	rec = &model.PatientRecord{
		PatientName:   id.Name,
		ContactNumber: id.Contact,
		Address:       id.Address,
		NameHash:      s.cipher.HashName(id.Name),
	}
	if err := s.cipher.EncryptAll(&rec.PatientName, &rec.ContactNumber, &rec.Address); err != nil {
		return nil, false, err
	}
	if err := s.records.Create(ctx, q, rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// AppendNoteTx encrypts text and appends it to the record's progress notes.
func (s *Service) AppendNoteTx(ctx context.Context, q sqlx.ExtContext, recordID int64, visitID *int64, authorID int64, text string) (*model.ProgressNote, error) {
	sealed, err := s.cipher.Encrypt(text)
	if err != nil {
		return nil, err
	}
	note := &model.ProgressNote{
		PatientRecordID: recordID,
		VisitID:         visitID,
		NoteText:        sealed,
		AuthorID:        authorID,
	}
	if err := s.notes.Create(ctx, q, note); err != nil {
		return nil, err
	}
	return note, nil
}

// AddProgressNote appends a free-standing clinical note. Doctors and nurses only.
func (s *Service) AddProgressNote(ctx context.Context, actor model.Actor, recordID int64, req model.AddProgressNoteRequest) (*model.ProgressNote, error) {
	if actor.Role != model.RoleDoctor && actor.Role != model.RoleNurse {
		return nil, apperrors.Forbidden("only clinicians can write progress notes")
	}
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	var note *model.ProgressNote
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		q := repository.Executor(s.tx, tx)
		if _, err := s.records.Get(ctx, q, recordID); err != nil {
			return err
		}
		n, err := s.AppendNoteTx(ctx, q, recordID, req.VisitID, actor.UserID, req.NoteText)
		if err != nil {
			return err
		}
		note = n
		return s.auditor.Record(ctx, q, actor, model.AuditActionCreate, model.AuditEntityProgressNote, n.ID, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add progress note: %w", err)
	}

	note.NoteText = req.NoteText
	return note, nil
}

// ListProgressNotes returns the record's notes with text revealed.
func (s *Service) ListProgressNotes(ctx context.Context, recordID int64) ([]*model.ProgressNote, error) {
	if _, err := s.records.Get(ctx, s.tx.DB(), recordID); err != nil {
		return nil, err
	}
	notes, err := s.notes.ListByPatientRecord(ctx, s.tx.DB(), recordID)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		n.NoteText = s.cipher.Reveal(n.NoteText)
	}
	return notes, nil
}
