package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/jwalitptl/opd-api/pkg/errors"
	"github.com/jwalitptl/opd-api/pkg/logger"
)

const (
	pqDuplicateTable  = "42P07"
	pqDuplicateColumn = "42701"
	pqDuplicateObject = "42710"
	pqUniqueViolation = "23505"
)

var errActiveAdmissionExists = apperrors.Conflict("an active admission already exists for this visit")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}

func isAlreadyExists(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case pqDuplicateTable, pqDuplicateColumn, pqDuplicateObject:
		return true
	}
	return false
}

// isConnectivity reports failures that mean the store is unreachable, as
// opposed to a single statement being rejected.
func isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "08"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type IndexSpec struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
	// Where makes the index partial.
	Where string
}

// SchemaGuard applies idempotent DDL. It takes the pool, never a
// transaction, so DDL cannot end up inside a unit of work.
type SchemaGuard struct {
	db     *sqlx.DB
	logger *logger.Logger

	mu       sync.Mutex
	failures []error
}

func NewSchemaGuard(db *sqlx.DB, log *logger.Logger) *SchemaGuard {
	if log == nil {
		log = logger.Nop()
	}
	return &SchemaGuard{db: db, logger: log}
}

// EnsureTable creates the table when it is missing. body is the column list.
func (g *SchemaGuard) EnsureTable(ctx context.Context, name, body string) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pq.QuoteIdentifier(name), body)
	return g.apply(ctx, "table "+name, stmt)
}

func (g *SchemaGuard) EnsureColumn(ctx context.Context, table, column, definition string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		pq.QuoteIdentifier(table), pq.QuoteIdentifier(column), definition)
	return g.apply(ctx, "column "+table+"."+column, stmt)
}

func (g *SchemaGuard) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	cols := make([]string, len(spec.Columns))
	for i, c := range spec.Columns {
		cols[i] = pq.QuoteIdentifier(c)
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if spec.Unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "INDEX IF NOT EXISTS %s ON %s (%s)",
		pq.QuoteIdentifier(spec.Name), pq.QuoteIdentifier(spec.Table), strings.Join(cols, ", "))
	if spec.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(spec.Where)
	}
	return g.apply(ctx, "index "+spec.Name, b.String())
}

// Failures returns the schema errors that were logged and swallowed so far.
func (g *SchemaGuard) Failures() []error {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]error, len(g.failures))
	copy(out, g.failures)
	return out
}

func (g *SchemaGuard) apply(ctx context.Context, step, stmt string) error {
	_, err := g.db.ExecContext(ctx, stmt)
	switch {
	case err == nil:
		return nil
	case isAlreadyExists(err):
		g.logger.Debug("schema step already applied", "step", step)
		return nil
	case isConnectivity(err):
		return fmt.Errorf("schema step %s: %w", step, err)
	}

	schemaErr := apperrors.SchemaEvolution(step, err)
	g.logger.Error(schemaErr, "schema step failed, continuing", "step", step)
	g.mu.Lock()
	g.failures = append(g.failures, schemaErr)
	g.mu.Unlock()
	return nil
}

type columnSpec struct {
	table, column, definition string
}

var schemaTables = []struct{ name, body string }{
	{"clinicians", `
		id BIGSERIAL PRIMARY KEY,
		full_name TEXT NOT NULL,
		role VARCHAR(32) NOT NULL,
		specialty VARCHAR(100) NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE`},
	{"patient_records", `
		id BIGSERIAL PRIMARY KEY,
		patient_name TEXT NOT NULL,
		contact_number TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		name_hash VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"opd_visits", `
		id BIGSERIAL PRIMARY KEY,
		patient_name TEXT NOT NULL,
		contact_number TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		age INTEGER NOT NULL DEFAULT 0,
		gender VARCHAR(16) NOT NULL DEFAULT '',
		blood_pressure VARCHAR(20) NOT NULL DEFAULT '',
		temperature VARCHAR(20) NOT NULL DEFAULT '',
		pulse_rate VARCHAR(20) NOT NULL DEFAULT '',
		weight VARCHAR(20) NOT NULL DEFAULT '',
		symptoms TEXT NOT NULL DEFAULT '',
		diagnosis TEXT NOT NULL DEFAULT '',
		treatment_plan TEXT NOT NULL DEFAULT '',
		prescription TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		visit_type VARCHAR(16) NOT NULL DEFAULT 'new',
		visit_status VARCHAR(16) NOT NULL DEFAULT 'waiting',
		doctor_id BIGINT,
		arrival_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		consultation_start TIMESTAMPTZ,
		consultation_end TIMESTAMPTZ,
		follow_up_date DATE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"opd_payments", `
		id BIGSERIAL PRIMARY KEY,
		visit_id BIGINT NOT NULL UNIQUE REFERENCES opd_visits(id),
		amount_due NUMERIC(12,2) NOT NULL DEFAULT 0,
		amount_paid NUMERIC(12,2) NOT NULL DEFAULT 0,
		payment_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		payment_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"patients", `
		id BIGSERIAL PRIMARY KEY,
		full_name TEXT NOT NULL,
		name_hash VARCHAR(64) NOT NULL DEFAULT '',
		contact_number TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		gender VARCHAR(16) NOT NULL DEFAULT '',
		age INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"admissions", `
		id BIGSERIAL PRIMARY KEY,
		patient_id BIGINT NOT NULL REFERENCES patients(id),
		source_visit_id BIGINT REFERENCES opd_visits(id),
		admission_reason TEXT NOT NULL DEFAULT '',
		initial_notes TEXT NOT NULL DEFAULT '',
		requested_by BIGINT NOT NULL,
		admission_status VARCHAR(16) NOT NULL DEFAULT 'pending',
		admitted_at TIMESTAMPTZ,
		discharged_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"progress_notes", `
		id BIGSERIAL PRIMARY KEY,
		patient_record_id BIGINT NOT NULL REFERENCES patient_records(id),
		visit_id BIGINT REFERENCES opd_visits(id),
		note_text TEXT NOT NULL,
		author_id BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"medicines", `
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		expiry_date DATE,
		active BOOLEAN NOT NULL DEFAULT TRUE`},
	{"pharmacy_orders", `
		id BIGSERIAL PRIMARY KEY,
		visit_id BIGINT NOT NULL REFERENCES opd_visits(id),
		prescribed_by BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"pharmacy_order_items", `
		id BIGSERIAL PRIMARY KEY,
		order_id BIGINT NOT NULL REFERENCES pharmacy_orders(id) ON DELETE CASCADE,
		medicine_id BIGINT NOT NULL REFERENCES medicines(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		dosage TEXT NOT NULL DEFAULT '',
		instructions TEXT NOT NULL DEFAULT ''`},
	{"outbox_events", `
		id UUID PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		aggregate_id BIGINT NOT NULL DEFAULT 0,
		payload JSONB NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'pending',
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		retry_at TIMESTAMPTZ,
		processed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
	{"audit_logs", `
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		user_role VARCHAR(32) NOT NULL,
		action VARCHAR(32) NOT NULL,
		entity_type VARCHAR(32) NOT NULL,
		entity_id BIGINT NOT NULL,
		changes JSONB NOT NULL DEFAULT '{}',
		request_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()`},
}

// Columns that older deployments lack. New installs pick them up here too.
var schemaColumns = []columnSpec{
	{"opd_visits", "patient_record_id", "BIGINT REFERENCES patient_records(id)"},
	{"opd_visits", "requested_specialty", "VARCHAR(100)"},
	{"opd_visits", "cancel_reason", "TEXT"},
	{"opd_payments", "patient_record_id", "BIGINT REFERENCES patient_records(id)"},
	{"opd_payments", "tendered_amount", "NUMERIC(12,2) NOT NULL DEFAULT 0"},
	{"opd_payments", "received_by", "BIGINT"},
}

var schemaIndexes = []IndexSpec{
	// Same name as the constraint index so new installs do not get a duplicate.
	{Name: "opd_payments_visit_id_key", Table: "opd_payments", Columns: []string{"visit_id"}, Unique: true},
	{
		Name:    "uq_admissions_active_source_visit",
		Table:   "admissions",
		Columns: []string{"source_visit_id"},
		Unique:  true,
		Where:   "admission_status IN ('pending', 'admitted')",
	},
	{Name: "idx_opd_visits_doctor_status", Table: "opd_visits", Columns: []string{"doctor_id", "visit_status"}},
	{Name: "idx_opd_visits_arrival_time", Table: "opd_visits", Columns: []string{"arrival_time"}},
	{Name: "idx_patient_records_name_hash", Table: "patient_records", Columns: []string{"name_hash"}},
	{Name: "idx_patients_name_hash", Table: "patients", Columns: []string{"name_hash"}},
	{Name: "idx_progress_notes_record", Table: "progress_notes", Columns: []string{"patient_record_id"}},
	{Name: "idx_outbox_events_status", Table: "outbox_events", Columns: []string{"status", "retry_at"}},
	{Name: "idx_audit_logs_entity", Table: "audit_logs", Columns: []string{"entity_type", "entity_id"}},
	{Name: "idx_audit_logs_created_at", Table: "audit_logs", Columns: []string{"created_at"}},
}

// Migrate runs the whole schema plan. Only connectivity failures abort it.
func (g *SchemaGuard) Migrate(ctx context.Context) error {
	for _, t := range schemaTables {
		if err := g.EnsureTable(ctx, t.name, t.body); err != nil {
			return err
		}
	}
	for _, c := range schemaColumns {
		if err := g.EnsureColumn(ctx, c.table, c.column, c.definition); err != nil {
			return err
		}
	}
	for _, idx := range schemaIndexes {
		if err := g.EnsureIndex(ctx, idx); err != nil {
			return err
		}
	}

	g.logger.Info("schema migration finished",
		"tables", len(schemaTables),
		"columns", len(schemaColumns),
		"indexes", len(schemaIndexes),
		"failures", len(g.Failures()),
	)
	return nil
}
