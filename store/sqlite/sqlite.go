/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces using SQLite. In production, the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  practica.Store:          Internship records (compare-and-swap writes)
  practica.Directory:      Sites, programs, escalation staff
  generic.Outbox:          Domain events awaiting delivery
  generic.AuditLog:        Append-only audit trail
  generic.NotificationLog: Last escalation notice per internship+recipient
  generic.HolidayProvider: Locally maintained holidays

KEY TABLES:
  internships:       One row per internship, state + JSON state detail
  outbox_events:     Events written in the same transaction as the record
  audit_log:         Append-only, never updated
  programs:          Program config as JSON (see factory/program.go)
  staff:             Coordinators and directors with their scopes
  escalation_runs:   One row per overdue/escalation batch (escalation.RunStore)

OPTIMISTIC LOCKING:
  internships.version is bumped on every write. UpdateInternship only
  succeeds when the caller's expected version is still current:

    UPDATE internships SET ..., version = version + 1
    WHERE id = ? AND version = ?

  Zero affected rows means a concurrent write won: ErrConcurrentModification.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/practicas.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - practica/store.go: Internship store interface
  - generic/store.go: Outbox, AuditLog, NotificationLog interfaces
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/practicas-engine/escalation"
	"github.com/warp/practicas-engine/factory"
	"github.com/warp/practicas-engine/generic"
	"github.com/warp/practicas-engine/practica"
)

const dateLayout = "2006-01-02"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	programs *factory.ProgramFactory
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, programs: factory.NewProgramFactory()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sites
	CREATE TABLE IF NOT EXISTS sites (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Programs (config is the factory JSON)
	CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		site_id TEXT NOT NULL,
		config_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_programs_site
		ON programs(site_id);

	-- Escalation staff (coordinators, directors)
	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		site_ids_json TEXT NOT NULL DEFAULT '[]',
		program_ids_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	);

	-- Internships (never deleted)
	CREATE TABLE IF NOT EXISTS internships (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		tutor_id TEXT NOT NULL DEFAULT '',
		program_id TEXT NOT NULL,
		site_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		required_hours INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		completion_date TEXT NOT NULL,
		state TEXT NOT NULL,
		state_detail_json TEXT NOT NULL,
		agreement_json TEXT,
		report_ref TEXT NOT NULL DEFAULT '',
		tutor_eval_json TEXT,
		employer_eval_json TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (completion_date >= start_date)
	);

	-- Overdue scan (hot path for the batch job)
	CREATE INDEX IF NOT EXISTS idx_internships_state_completion
		ON internships(state, completion_date);
	CREATE INDEX IF NOT EXISTS idx_internships_program
		ON internships(program_id);
	CREATE INDEX IF NOT EXISTS idx_internships_student
		ON internships(student_id);
	CREATE INDEX IF NOT EXISTS idx_internships_tutor
		ON internships(tutor_id);

	-- Outbox
	CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		subject_id TEXT NOT NULL,
		actor_id TEXT,
		recipient_ids_json TEXT NOT NULL DEFAULT '[]',
		site_id TEXT,
		payload_json TEXT,
		occurred_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		delivered_at TEXT,
		last_error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox_events(occurred_at) WHERE delivered_at IS NULL;

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		recipient_id TEXT,
		action TEXT NOT NULL,
		subject_type TEXT,
		subject_id TEXT,
		outcome TEXT NOT NULL,
		payload_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_subject
		ON audit_log(subject_id);
	CREATE INDEX IF NOT EXISTS idx_audit_recipient
		ON audit_log(recipient_id);

	-- Last escalation notice per internship + recipient
	CREATE TABLE IF NOT EXISTS notification_log (
		internship_id TEXT NOT NULL,
		recipient_id TEXT NOT NULL,
		severity TEXT NOT NULL,
		notified_at TEXT NOT NULL,
		PRIMARY KEY (internship_id, recipient_id)
	);

	-- Holidays maintained locally
	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_holidays_unique
		ON holidays(date, name);

	-- Escalation runs (one per batch pass)
	CREATE TABLE IF NOT EXISTS escalation_runs (
		id TEXT PRIMARY KEY,
		trigger_source TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		flagged INTEGER DEFAULT 0,
		sent INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		errors_json TEXT,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_escalation_runs_started
		ON escalation_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// INTERNSHIP STORE (practica.Store interface)
// =============================================================================

const internshipColumns = `
	id, student_id, tutor_id, program_id, site_id, kind, required_hours,
	start_date, completion_date, state, state_detail_json, agreement_json,
	report_ref, tutor_eval_json, employer_eval_json, version, created_at, updated_at`

// CreateInternship inserts a new internship and its events atomically.
func (s *Store) CreateInternship(ctx context.Context, in practica.Internship, events []generic.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := encodeInternship(in)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO internships (` + internshipColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, query,
			in.ID, in.StudentID, in.TutorID, in.ProgramID, in.SiteID, string(in.Kind), in.RequiredHours,
			in.StartDate.String(), in.CompletionDate.String(), string(row.state), row.detail, row.agreement,
			in.ReportRef, row.tutorEval, row.employerEval, 1,
			formatTime(in.CreatedAt), formatTime(in.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert internship: %w", err)
		}
		return insertEvents(ctx, tx, events)
	})
}

// GetInternship returns one internship.
func (s *Store) GetInternship(ctx context.Context, id string) (practica.Internship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+internshipColumns+` FROM internships WHERE id = ?`, id)
	if err != nil {
		return practica.Internship{}, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return practica.Internship{}, err
		}
		return practica.Internship{}, fmt.Errorf("%w: %s", generic.ErrInternshipNotFound, id)
	}
	return scanInternship(rows)
}

// UpdateInternship writes in with a compare-and-swap on version.
func (s *Store) UpdateInternship(ctx context.Context, in practica.Internship, expectedVersion int, events []generic.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := encodeInternship(in)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE internships SET
				tutor_id = ?, state = ?, state_detail_json = ?, agreement_json = ?,
				report_ref = ?, tutor_eval_json = ?, employer_eval_json = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`
		res, err := tx.ExecContext(ctx, query,
			in.TutorID, string(row.state), row.detail, row.agreement,
			in.ReportRef, row.tutorEval, row.employerEval,
			formatTime(in.UpdatedAt), in.ID, expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update internship: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM internships WHERE id = ?`, in.ID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("%w: %s", generic.ErrInternshipNotFound, in.ID)
			}
			return fmt.Errorf("%w: internship %s is no longer at version %d",
				generic.ErrConcurrentModification, in.ID, expectedVersion)
		}
		return insertEvents(ctx, tx, events)
	})
}

// ListInternships returns internships matching filter, oldest completion first.
func (s *Store) ListInternships(ctx context.Context, filter practica.Filter) ([]practica.Internship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if len(filter.States) > 0 {
		marks := make([]string, len(filter.States))
		for i, st := range filter.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "state IN ("+strings.Join(marks, ", ")+")")
	}
	add := func(clause, value string) {
		if value != "" {
			where = append(where, clause)
			args = append(args, value)
		}
	}
	add("program_id = ?", filter.ProgramID)
	add("site_id = ?", filter.SiteID)
	add("student_id = ?", filter.StudentID)
	add("tutor_id = ?", filter.TutorID)
	if filter.CompletionBefore != nil {
		where = append(where, "completion_date < ?")
		args = append(args, filter.CompletionBefore.String())
	}

	query := `SELECT ` + internshipColumns + ` FROM internships`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completion_date ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []practica.Internship
	for rows.Next() {
		in, err := scanInternship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

type internshipRow struct {
	state        practica.State
	detail       string
	agreement    sql.NullString
	tutorEval    sql.NullString
	employerEval sql.NullString
}

func encodeInternship(in practica.Internship) (internshipRow, error) {
	status := in.Status
	if status == nil {
		status = practica.Pending{CreatedAt: in.CreatedAt}
	}
	state, detail, err := practica.EncodeDetail(status)
	if err != nil {
		return internshipRow{}, err
	}
	row := internshipRow{state: state, detail: string(detail)}
	if row.agreement, err = nullJSON(in.Agreement); err != nil {
		return internshipRow{}, err
	}
	if row.tutorEval, err = nullJSON(in.TutorEvaluation); err != nil {
		return internshipRow{}, err
	}
	if row.employerEval, err = nullJSON(in.EmployerEvaluation); err != nil {
		return internshipRow{}, err
	}
	return row, nil
}

func scanInternship(rows *sql.Rows) (practica.Internship, error) {
	var (
		in                             practica.Internship
		kind, state, detail            string
		start, completion              string
		agreement, tutorEv, employerEv sql.NullString
		createdAt, updatedAt           string
	)
	err := rows.Scan(&in.ID, &in.StudentID, &in.TutorID, &in.ProgramID, &in.SiteID, &kind, &in.RequiredHours,
		&start, &completion, &state, &detail, &agreement,
		&in.ReportRef, &tutorEv, &employerEv, &in.Version, &createdAt, &updatedAt)
	if err != nil {
		return practica.Internship{}, err
	}

	in.Kind = practica.Kind(kind)
	if in.StartDate, err = generic.ParseDate(start); err != nil {
		return practica.Internship{}, fmt.Errorf("bad start_date for %s: %w", in.ID, err)
	}
	if in.CompletionDate, err = generic.ParseDate(completion); err != nil {
		return practica.Internship{}, fmt.Errorf("bad completion_date for %s: %w", in.ID, err)
	}
	if in.Status, err = practica.DecodeDetail(practica.State(state), []byte(detail)); err != nil {
		return practica.Internship{}, err
	}
	if agreement.Valid {
		in.Agreement = &practica.Agreement{}
		if err := json.Unmarshal([]byte(agreement.String), in.Agreement); err != nil {
			return practica.Internship{}, err
		}
	}
	if tutorEv.Valid {
		in.TutorEvaluation = &practica.Evaluation{}
		if err := json.Unmarshal([]byte(tutorEv.String), in.TutorEvaluation); err != nil {
			return practica.Internship{}, err
		}
	}
	if employerEv.Valid {
		in.EmployerEvaluation = &practica.Evaluation{}
		if err := json.Unmarshal([]byte(employerEv.String), in.EmployerEvaluation); err != nil {
			return practica.Internship{}, err
		}
	}
	in.CreatedAt = parseTime(createdAt)
	in.UpdatedAt = parseTime(updatedAt)
	return in, nil
}

// =============================================================================
// DIRECTORY (practica.Directory interface)
// =============================================================================

// SaveSite saves a site.
func (s *Store) SaveSite(ctx context.Context, site practica.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, site.ID, site.Name, formatTime(time.Now()))
	return err
}

// ListSites returns all sites.
func (s *Store) ListSites(ctx context.Context) ([]practica.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM sites ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []practica.Site
	for rows.Next() {
		var site practica.Site
		if err := rows.Scan(&site.ID, &site.Name); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// SaveProgram validates and saves a program.
func (s *Store) SaveProgram(ctx context.Context, p practica.Program) error {
	if err := p.Validate(); err != nil {
		return err
	}
	config, err := factory.MarshalProgram(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO programs (id, name, site_id, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			site_id = excluded.site_id,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.SiteID, config, now, now)
	return err
}

// GetProgram retrieves a program by ID.
func (s *Store) GetProgram(ctx context.Context, id string) (practica.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var config string
	err := s.db.QueryRowContext(ctx, `SELECT config_json FROM programs WHERE id = ?`, id).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return practica.Program{}, fmt.Errorf("%w: %s", generic.ErrProgramNotFound, id)
	}
	if err != nil {
		return practica.Program{}, err
	}
	return s.programs.ParseProgram(config)
}

// ListPrograms returns all programs.
func (s *Store) ListPrograms(ctx context.Context) ([]practica.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT config_json FROM programs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var programs []practica.Program
	for rows.Next() {
		var config string
		if err := rows.Scan(&config); err != nil {
			return nil, err
		}
		p, err := s.programs.ParseProgram(config)
		if err != nil {
			continue // Skip invalid programs
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

// SaveStaff saves a coordinator or director.
func (s *Store) SaveStaff(ctx context.Context, st practica.Staff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sites, _ := json.Marshal(nonNil(st.SiteIDs))
	programs, _ := json.Marshal(nonNil(st.ProgramIDs))
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff (id, name, email, role, active, site_ids_json, program_ids_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			active = excluded.active,
			site_ids_json = excluded.site_ids_json,
			program_ids_json = excluded.program_ids_json
	`, st.ID, st.Name, st.Email, string(st.Role), st.Active, string(sites), string(programs), formatTime(time.Now()))
	return err
}

// ListStaff returns all staff, active or not.
func (s *Store) ListStaff(ctx context.Context) ([]practica.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, role, active, site_ids_json, program_ids_json
		FROM staff ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var staff []practica.Staff
	for rows.Next() {
		var (
			st              practica.Staff
			role            string
			sites, programs string
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Email, &role, &st.Active, &sites, &programs); err != nil {
			return nil, err
		}
		st.Role = practica.StaffRole(role)
		if err := json.Unmarshal([]byte(sites), &st.SiteIDs); err != nil {
			return nil, fmt.Errorf("corrupt site scope for staff %s: %w", st.ID, err)
		}
		if err := json.Unmarshal([]byte(programs), &st.ProgramIDs); err != nil {
			return nil, fmt.Errorf("corrupt program scope for staff %s: %w", st.ID, err)
		}
		staff = append(staff, st)
	}
	return staff, rows.Err()
}

// =============================================================================
// OUTBOX (generic.Outbox interface)
// =============================================================================

// Enqueue records events outside an internship write.
func (s *Store) Enqueue(ctx context.Context, events ...generic.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvents(ctx, tx, events)
	})
}

func insertEvents(ctx context.Context, db execer, events []generic.Event) error {
	for _, e := range events {
		recipients, _ := json.Marshal(nonNil(e.RecipientIDs))
		payload, _ := json.Marshal(e.Payload)
		_, err := db.ExecContext(ctx, `
			INSERT INTO outbox_events
			(id, kind, subject_id, actor_id, recipient_ids_json, site_id, payload_json, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, e.ID, string(e.Kind), e.SubjectID, e.ActorID, string(recipients), e.SiteID, string(payload), formatTime(e.OccurredAt))
		if err != nil {
			return fmt.Errorf("failed to enqueue event %s: %w", e.Kind, err)
		}
	}
	return nil
}

// Pending returns undelivered events, oldest first.
func (s *Store) Pending(ctx context.Context, limit int) ([]generic.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, subject_id, actor_id, recipient_ids_json, site_id, payload_json,
		       occurred_at, attempts, last_error
		FROM outbox_events
		WHERE delivered_at IS NULL
		ORDER BY occurred_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []generic.Event
	for rows.Next() {
		var (
			e                            generic.Event
			kind, occurred               string
			actor, site, payload, lastEr sql.NullString
			recipients                   string
		)
		if err := rows.Scan(&e.ID, &kind, &e.SubjectID, &actor, &recipients, &site, &payload,
			&occurred, &e.Attempts, &lastEr); err != nil {
			return nil, err
		}
		e.Kind = generic.EventKind(kind)
		e.ActorID = actor.String
		e.SiteID = site.String
		e.LastError = lastEr.String
		e.OccurredAt = parseTime(occurred)
		if err := json.Unmarshal([]byte(recipients), &e.RecipientIDs); err != nil {
			log.Printf("[Outbox] Skipping event %s, corrupt recipients: %v", e.ID, err)
			continue
		}
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				log.Printf("[Outbox] Event %s has a corrupt payload, delivering without it: %v", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkDelivered flags an event as delivered.
func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET delivered_at = ?, attempts = attempts + 1, last_error = NULL
		WHERE id = ?
	`, formatTime(at), id)
	return err
}

// MarkFailed records a failed delivery attempt.
func (s *Store) MarkFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?
	`, reason, id)
	return err
}

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

// Append adds an audit entry.
func (s *Store) Append(ctx context.Context, e generic.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, _ := json.Marshal(e.Payload)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, timestamp, sender_id, recipient_id, action, subject_type, subject_id, outcome, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, formatTime(e.Timestamp), e.SenderID, e.RecipientID, string(e.Action),
		e.SubjectType, e.SubjectID, string(e.Outcome), string(payload))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query returns audit entries matching filter, oldest first.
func (s *Store) Query(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if filter.SenderID != nil {
		where = append(where, "sender_id = ?")
		args = append(args, *filter.SenderID)
	}
	if filter.RecipientID != nil {
		where = append(where, "recipient_id = ?")
		args = append(args, *filter.RecipientID)
	}
	if filter.SubjectID != nil {
		where = append(where, "subject_id = ?")
		args = append(args, *filter.SubjectID)
	}

	query := `
		SELECT id, timestamp, sender_id, recipient_id, action, subject_type, subject_id, outcome, payload_json
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e                                    generic.AuditEntry
			ts, action, outcome                  string
			recipient, subjType, subjID, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.SenderID, &recipient, &action, &subjType, &subjID, &outcome, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		e.RecipientID = recipient.String
		e.Action = generic.AuditAction(action)
		e.SubjectType = subjType.String
		e.SubjectID = subjID.String
		e.Outcome = generic.AuditOutcome(outcome)
		if payload.Valid {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				log.Printf("[Audit] Entry %s has a corrupt payload: %v", e.ID, err)
			}
		}
		// Remaining criteria (actions, time window) are checked in Go.
		if filter.Matches(e) {
			entries = append(entries, e)
		}
	}
	return entries, rows.Err()
}

// =============================================================================
// NOTIFICATION LOG (generic.NotificationLog interface)
// =============================================================================

// LastNotified returns the last escalation mark for internship+recipient.
func (s *Store) LastNotified(ctx context.Context, internshipID, recipientID string) (generic.NotificationMark, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mark := generic.NotificationMark{InternshipID: internshipID, RecipientID: recipientID}
	var at string
	err := s.db.QueryRowContext(ctx, `
		SELECT severity, notified_at FROM notification_log
		WHERE internship_id = ? AND recipient_id = ?
	`, internshipID, recipientID).Scan(&mark.Severity, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.NotificationMark{}, false, nil
	}
	if err != nil {
		return generic.NotificationMark{}, false, err
	}
	mark.NotifiedAt = parseTime(at)
	return mark, true, nil
}

// MarkNotified upserts escalation marks.
func (s *Store) MarkNotified(ctx context.Context, marks []generic.NotificationMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, m := range marks {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO notification_log (internship_id, recipient_id, severity, notified_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(internship_id, recipient_id) DO UPDATE SET
					severity = excluded.severity,
					notified_at = excluded.notified_at
			`, m.InternshipID, m.RecipientID, m.Severity, formatTime(m.NotifiedAt))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// HOLIDAYS (local table, generic.HolidayProvider)
// =============================================================================

// SaveHoliday saves a holiday.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET date = excluded.date, name = excluded.name
	`, h.ID, h.Date.String(), h.Name, formatTime(time.Now()))
	return err
}

// DeleteHoliday removes a holiday.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM holidays WHERE id = ?`, id)
	return err
}

// GetHolidays returns the holidays of year, or all holidays when year is 0.
func (s *Store) GetHolidays(ctx context.Context, year int) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, date, name FROM holidays`
	var args []any
	if year != 0 {
		query += ` WHERE date >= ? AND date <= ?`
		args = append(args, fmt.Sprintf("%04d-01-01", year), fmt.Sprintf("%04d-12-31", year))
	}
	query += ` ORDER BY date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var (
			h    generic.Holiday
			date string
		)
		if err := rows.Scan(&h.ID, &date, &h.Name); err != nil {
			return nil, err
		}
		if h.Date, err = generic.ParseDate(date); err != nil {
			continue
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// FetchHolidays implements generic.HolidayProvider from the local table.
func (s *Store) FetchHolidays(ctx context.Context, year int) ([]generic.TimePoint, error) {
	holidays, err := s.GetHolidays(ctx, year)
	if err != nil {
		return nil, err
	}
	dates := make([]generic.TimePoint, len(holidays))
	for i, h := range holidays {
		dates[i] = h.Date
	}
	return dates, nil
}

// =============================================================================
// ESCALATION RUNS
// =============================================================================

// SaveEscalationRun inserts or updates a run record.
func (s *Store) SaveEscalationRun(ctx context.Context, run escalation.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs, _ := json.Marshal(nonNil(run.Errors))
	var completed sql.NullString
	if run.CompletedAt != nil {
		completed = sql.NullString{String: formatTime(*run.CompletedAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_runs (id, trigger_source, status, flagged, sent, failed, errors_json, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			flagged = excluded.flagged,
			sent = excluded.sent,
			failed = excluded.failed,
			errors_json = excluded.errors_json,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, run.ID, run.Trigger, run.Status, run.Flagged, run.Sent, run.Failed, string(errs), run.Error,
		formatTime(run.StartedAt), completed)
	return err
}

// ListEscalationRuns returns the most recent runs first.
func (s *Store) ListEscalationRuns(ctx context.Context, limit int) ([]escalation.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trigger_source, status, flagged, sent, failed, errors_json, error, started_at, completed_at
		FROM escalation_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []escalation.Run
	for rows.Next() {
		var (
			run                escalation.Run
			errs, errMsg, done sql.NullString
			started            string
		)
		if err := rows.Scan(&run.ID, &run.Trigger, &run.Status, &run.Flagged, &run.Sent, &run.Failed,
			&errs, &errMsg, &started, &done); err != nil {
			return nil, err
		}
		if errs.Valid {
			if err := json.Unmarshal([]byte(errs.String), &run.Errors); err != nil {
				log.Printf("[Escalation] Run %s has corrupt recipient errors: %v", run.ID, err)
			}
		}
		run.Error = errMsg.String
		run.StartedAt = parseTime(started)
		if done.Valid {
			t := parseTime(done.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"internships", "outbox_events", "audit_log", "notification_log",
		"escalation_runs", "staff", "programs", "sites", "holidays",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// Compile-time interface checks
var (
	_ practica.Store          = (*Store)(nil)
	_ practica.Directory      = (*Store)(nil)
	_ generic.Outbox          = (*Store)(nil)
	_ generic.AuditLog        = (*Store)(nil)
	_ generic.NotificationLog = (*Store)(nil)
	_ generic.HolidayProvider = (*Store)(nil)
	_ escalation.RunStore     = (*Store)(nil)
)
