// Package reencrypt migrates legacy ciphertext to the single-pass format in
// every table holding encrypted columns. Rows are rewritten in batches, each
// in its own transaction, so the job can be stopped and resumed.
package reencrypt

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/opd-api/internal/repository"
	"github.com/jwalitptl/opd-api/pkg/logger"
	"github.com/jwalitptl/opd-api/pkg/metrics"
	"github.com/jwalitptl/opd-api/pkg/security"
)

const defaultBatchSize = 200

// Report summarizes one normalization run. Only committed batches are counted.
type Report struct {
	Scanned int
	Updated int
	Fields  int
	Tables  map[string]TableReport
}

type TableReport struct {
	Scanned int
	Updated int
	Fields  int
}

// Sources are the repositories whose rows carry encrypted columns.
type Sources struct {
	Visits     repository.EncounterRepository
	Records    repository.PatientRecordRepository
	Inpatients repository.InpatientRepository
	Admissions repository.AdmissionRepository
	Notes      repository.ProgressNoteRepository
}

type Service struct {
	tx        repository.Transactor
	src       Sources
	cipher    *security.FieldCipher
	logger    *logger.Logger
	metrics   *metrics.Metrics
	batchSize int
}

func NewService(tx repository.Transactor, src Sources, cipher *security.FieldCipher, log *logger.Logger, m *metrics.Metrics, batchSize int) *Service {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		tx:        tx,
		src:       src,
		cipher:    cipher,
		logger:    log,
		metrics:   m,
		batchSize: batchSize,
	}
}

// row is one record's sensitive columns plus the write that persists them.
type row struct {
	id     int64
	fields []*string
	save   func(ctx context.Context, q sqlx.ExtContext) error
}

type table struct {
	name string
	page func(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]row, error)
}

// Normalize rewrites every sensitive column that is plaintext or encrypted
// more than once. Values already in single-pass form are skipped.
func (s *Service) Normalize(ctx context.Context) (*Report, error) {
	if !s.cipher.Available() {
		return nil, fmt.Errorf("normalize ciphertext: cipher key is not configured")
	}

	report := &Report{Tables: map[string]TableReport{}}
	for _, t := range s.tables() {
		err := s.normalizeTable(ctx, t, report)
		s.logger.Info("ciphertext normalization table finished",
			"table", t.name,
			"scanned", report.Tables[t.name].Scanned,
			"updated", report.Tables[t.name].Updated,
		)
		if err != nil {
			return report, fmt.Errorf("%s: %w", t.name, err)
		}
	}

	s.logger.Info("ciphertext normalization finished",
		"scanned", report.Scanned,
		"updated", report.Updated,
		"fields", report.Fields,
	)
	return report, nil
}

func (s *Service) normalizeTable(ctx context.Context, t table, report *Report) error {
	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []row
		var updated, fields int
		err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
			q := repository.Executor(s.tx, tx)
			updated, fields = 0, 0

			var err error
			batch, err = t.page(ctx, q, afterID, s.batchSize)
			if err != nil {
				return err
			}
			for _, r := range batch {
				n, err := s.normalize(r.fields)
				if err != nil {
					return fmt.Errorf("row %d: %w", r.id, err)
				}
				if n == 0 {
					continue
				}
				if err := r.save(ctx, q); err != nil {
					return err
				}
				updated++
				fields += n
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		tr := report.Tables[t.name]
		tr.Scanned += len(batch)
		tr.Updated += updated
		tr.Fields += fields
		report.Tables[t.name] = tr
		report.Scanned += len(batch)
		report.Updated += updated
		report.Fields += fields
		s.metrics.CiphertextNormalized.Add(float64(fields))

		afterID = batch[len(batch)-1].id
		s.logger.Debug("normalized batch", "table", t.name, "last_id", afterID, "updated", updated)
		if len(batch) < s.batchSize {
			return nil
		}
	}
}

// normalize rewrites the fields in place and returns how many changed.
func (s *Service) normalize(fields []*string) (int, error) {
	changed := 0
	for _, f := range fields {
		out, ok, err := s.cipher.Normalize(*f)
		if err != nil {
			return 0, err
		}
		if ok {
			*f = out
			changed++
		}
	}
	return changed, nil
}

func (s *Service) tables() []table {
	return []table{
		{name: "opd_visits", page: func(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]row, error) {
			visits, err := s.src.Visits.ListAfter(ctx, q, afterID, limit)
			if err != nil {
				return nil, err
			}
			rows := make([]row, 0, len(visits))
			for _, v := range visits {
				v := v
				rows = append(rows, row{
					id: v.ID,
					fields: []*string{
						&v.PatientName, &v.ContactNumber, &v.Address, &v.Symptoms,
						&v.Diagnosis, &v.TreatmentPlan, &v.Prescription, &v.Notes,
					},
					save: func(ctx context.Context, q sqlx.ExtContext) error {
						return s.src.Visits.UpdateSensitiveFields(ctx, q, v)
					},
				})
			}
			return rows, nil
		}},
		{name: "patient_records", page: func(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]row, error) {
			recs, err := s.src.Records.ListAfter(ctx, q, afterID, limit)
			if err != nil {
				return nil, err
			}
			rows := make([]row, 0, len(recs))
			for _, rec := range recs {
				rec := rec
				rows = append(rows, row{
					id:     rec.ID,
					fields: []*string{&rec.PatientName, &rec.ContactNumber, &rec.Address},
					save: func(ctx context.Context, q sqlx.ExtContext) error {
						return s.src.Records.UpdateSensitiveFields(ctx, q, rec)
					},
				})
			}
			return rows, nil
		}},
		{name: "patients", page: func(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]row, error) {
			patients, err := s.src.Inpatients.ListAfter(ctx, q, afterID, limit)
			if err != nil {
				return nil, err
			}
			rows := make([]row, 0, len(patients))
			for _, p := range patients {
				p := p
				rows = append(rows, row{
					id:     p.ID,
					fields: []*string{&p.FullName, &p.ContactNumber, &p.Address},
					save: func(ctx context.Context, q sqlx.ExtContext) error {
						return s.src.Inpatients.UpdateSensitiveFields(ctx, q, p)
					},
				})
			}
			return rows, nil
		}},
		{name: "admissions", page: func(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]row, error) {
			admissions, err := s.src.Admissions.ListAfter(ctx, q, afterID, limit)
			if err != nil {
				return nil, err
			}
			rows := make([]row, 0, len(admissions))
			for _, a := range admissions {
				a := a
				rows = append(rows, row{
					id:     a.ID,
					fields: []*string{&a.AdmissionReason, &a.InitialNotes},
					save: func(ctx context.Context, q sqlx.ExtContext) error {
						return s.src.Admissions.UpdateSensitiveFields(ctx, q, a)
					},
				})
			}
			return rows, nil
		}},
		{name: "progress_notes", page: func(ctx context.Context, q sqlx.ExtContext, afterID int64, limit int) ([]row, error) {
			notes, err := s.src.Notes.ListAfter(ctx, q, afterID, limit)
			if err != nil {
				return nil, err
			}
			rows := make([]row, 0, len(notes))
			for _, n := range notes {
				n := n
				rows = append(rows, row{
					id:     n.ID,
					fields: []*string{&n.NoteText},
					save: func(ctx context.Context, q sqlx.ExtContext) error {
						return s.src.Notes.UpdateNoteText(ctx, q, n.ID, n.NoteText)
					},
				})
			}
			return rows, nil
		}},
	}
}
