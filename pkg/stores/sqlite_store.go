package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/version"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore keeps run history, ledger entries and lifecycle events in SQLite. It
// implements engine.LedgerSink.
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// Config configures a SQLiteStore. Zero pool settings get defaults.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a store. No connection is made until Init.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{config: cfg}, nil
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.config.Path
	if dsn != memoryPath {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting; the DSN covers pooled file connections.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun inserts a run in the running state.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	command, err := json.Marshal(run.Command)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	// Timestamps are stored as text; a single offset keeps them ordered.
	run.StartedAt = run.StartedAt.UTC()
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	run.CreatedAt = now
	run.UpdatedAt = now

	query := `
		INSERT INTO runs (
			id, fingerprint, mode, project_path, command, target, strategy, status,
			started_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Fingerprint,
		run.Mode,
		run.ProjectPath,
		string(command),
		run.Target,
		run.Strategy,
		run.Status,
		run.StartedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// CompleteRun records the final state of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, c RunCompletion) error {
	if !c.Status.IsTerminal() {
		return fmt.Errorf("run status %q is not terminal", c.Status)
	}

	query := `
		UPDATE runs
		SET status = ?, strategy = CASE WHEN ? = '' THEN strategy ELSE ? END,
			result_kind = ?, result_version = ?, details = ?, error = ?,
			candidates = ?, probes = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		c.Status,
		c.Strategy, c.Strategy,
		c.ResultKind,
		c.ResultVersion,
		c.Details,
		c.Error,
		c.Candidates,
		c.Probes,
		now,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

const runColumns = `
	id, fingerprint, mode, project_path, command, target, strategy, status,
	result_kind, result_version, details, error, candidates, probes,
	started_at, completed_at, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var command string
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID,
		&run.Fingerprint,
		&run.Mode,
		&run.ProjectPath,
		&command,
		&run.Target,
		&run.Strategy,
		&run.Status,
		&run.ResultKind,
		&run.ResultVersion,
		&run.Details,
		&run.Error,
		&run.Candidates,
		&run.Probes,
		&run.StartedAt,
		&completedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(command), &run.Command); err != nil {
		return nil, fmt.Errorf("failed to decode command of run %s: %w", run.ID, err)
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun returns one run; an unknown id yields ErrRunNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListRunsOptions) ([]*Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}

	var fingerprint *string
	if opts.Fingerprint != "" {
		fingerprint = &opts.Fingerprint
	}

	query := `SELECT ` + runColumns + `
		FROM runs
		WHERE (? IS NULL OR fingerprint = ?)
		ORDER BY started_at DESC, created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, fingerprint, fingerprint, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// DeleteRun deletes a run together with its ledger entries and events.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	return nil
}

// SaveEntry persists a ledger entry under the fingerprint of its run.
func (s *SQLiteStore) SaveEntry(ctx context.Context, runID string, entry engine.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries (run_id, fingerprint, version, outcome, diagnostic, reason, recorded_at)
		SELECT id, fingerprint, ?, ?, ?, ?, ?
		FROM runs
		WHERE id = ?
	`

	recordedAt := entry.Timestamp
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx, query,
		entry.Version.String(),
		string(entry.Outcome.Kind),
		entry.Outcome.Diagnostic,
		entry.Outcome.Reason,
		recordedAt.UTC(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to save ledger entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	return nil
}

func scanEntries(rows *sql.Rows) ([]engine.LedgerEntry, error) {
	entries := []engine.LedgerEntry{}
	for rows.Next() {
		var raw, kind string
		var entry engine.LedgerEntry
		if err := rows.Scan(&raw, &kind, &entry.Outcome.Diagnostic, &entry.Outcome.Reason, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		v, err := version.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger entry: %w", err)
		}
		entry.Version = v
		entry.Outcome.Kind = engine.OutcomeKind(kind)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}
	return entries, nil
}

// ListEntries returns the ledger entries recorded by one run, in recording order.
func (s *SQLiteStore) ListEntries(ctx context.Context, runID string) ([]engine.LedgerEntry, error) {
	query := `
		SELECT version, outcome, diagnostic, reason, recorded_at
		FROM ledger_entries
		WHERE run_id = ?
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// LoadEntries returns the most recent deterministic outcome per version across all runs
// with the given fingerprint, in ascending version order, ready to seed a resumed run.
// Infrastructure errors are never returned.
func (s *SQLiteStore) LoadEntries(ctx context.Context, fingerprint string) ([]engine.LedgerEntry, error) {
	query := `
		SELECT version, outcome, diagnostic, reason, recorded_at
		FROM ledger_entries
		WHERE id IN (
			SELECT MAX(id)
			FROM ledger_entries
			WHERE fingerprint = ? AND outcome IN ('compatible', 'incompatible')
			GROUP BY version
		)
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b engine.LedgerEntry) int {
		return version.Compare(a.Version, b.Version)
	})

	log.Debug().
		Str("fingerprint", fingerprint).
		Int("entries", len(entries)).
		Msg("Loaded ledger entries")

	return entries, nil
}

// AppendEvent appends a lifecycle event to the run's event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event engine.LifecycleEvent) (*Event, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	stored := &Event{
		EventID:   event.ID,
		RunID:     event.RunID,
		Type:      string(event.Type),
		State:     string(event.To),
		Message:   event.Message,
		Payload:   string(payload),
		Timestamp: event.Timestamp.UTC(),
	}
	if event.Version != nil {
		stored.Version = event.Version.String()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO events (event_id, run_id, type, version, state, message, payload, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		stored.EventID,
		stored.RunID,
		stored.Type,
		stored.Version,
		stored.State,
		stored.Message,
		stored.Payload,
		stored.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get event ID: %w", err)
	}

	stored.ID = id
	return stored, nil
}

// GetEvents retrieves the events of a run in emission order, optionally filtered by type.
func (s *SQLiteStore) GetEvents(ctx context.Context, runID string, eventType *string, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, event_id, run_id, type, version, state, message, payload, timestamp
		FROM events
		WHERE run_id = ?
		  AND (? IS NULL OR type = ?)
		ORDER BY id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, eventType, eventType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.EventID,
			&event.RunID,
			&event.Type,
			&event.Version,
			&event.State,
			&event.Message,
			&event.Payload,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// EventRecorder returns a subscriber that appends every event it receives. Write failures
// are logged; event history is best effort.
func (s *SQLiteStore) EventRecorder(ctx context.Context) func(engine.LifecycleEvent) {
	return func(event engine.LifecycleEvent) {
		if _, err := s.AppendEvent(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("run_id", event.RunID).
				Str("event", string(event.Type)).
				Msg("Failed to record event")
		}
	}
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
