package violation

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-proctor/internal/log"
	"github.com/teslashibe/go-proctor/pkg/proctor"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store keeps sessions and violations in SQLite
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Open opens (or creates) the database at path and applies migrations
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// Single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: time.Now, logger: log.Component("store")}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrateUp runs all pending migrations up to the latest version
func (s *Store) migrateUp() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}
	// Not closed: closing the migrate instance closes the shared *sql.DB
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{s.logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		s.logger.Debug("schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Session returns the candidate's active session, starting one if needed
func (s *Store) Session(ctx context.Context, candidateID string) (Session, error) {
	if candidateID == "" {
		return Session{}, ErrEmptyCandidate
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	sess, err := s.activeSession(ctx, tx, candidateID, true)
	if err != nil {
		return Session{}, err
	}
	return sess, tx.Commit()
}

// Record stores entries against the candidate's active session, starting
// one if needed, and returns the updated session.
func (s *Store) Record(ctx context.Context, candidateID string, entries []Entry, screenshot []byte) (Session, []Violation, error) {
	return s.record(ctx, candidateID, entries, screenshot, true)
}

// Append stores a manual violation. It fails with ErrNotFound when the
// candidate has no active session.
func (s *Store) Append(ctx context.Context, candidateID, reason string) (Session, error) {
	if reason == "" {
		reason = ManualReason
	}
	sess, _, err := s.record(ctx, candidateID, []Entry{{Reason: reason}}, nil, false)
	return sess, err
}

func (s *Store) record(ctx context.Context, candidateID string, entries []Entry, screenshot []byte, create bool) (Session, []Violation, error) {
	if candidateID == "" {
		return Session{}, nil, ErrEmptyCandidate
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, nil, err
	}
	defer tx.Rollback()

	sess, err := s.activeSession(ctx, tx, candidateID, create)
	if err != nil {
		return Session{}, nil, err
	}

	now := s.now()
	recorded := make([]Violation, 0, len(entries))
	for _, e := range entries {
		v := Violation{
			ID:            uuid.New(),
			SessionID:     sess.ID,
			CandidateID:   candidateID,
			Reason:        e.Reason,
			Severity:      e.Severity,
			HasScreenshot: len(screenshot) > 0,
			At:            now,
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO violations (id, session_id, reason, severity, screenshot, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			v.ID.String(), v.SessionID, v.Reason, string(v.Severity), nullBlob(screenshot), now.UnixNano())
		if err != nil {
			return Session{}, nil, fmt.Errorf("insert violation: %w", err)
		}
		recorded = append(recorded, v)
	}

	if len(recorded) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET violations = violations + ? WHERE id = ?`, len(recorded), sess.ID); err != nil {
			return Session{}, nil, fmt.Errorf("update session: %w", err)
		}
		sess.Violations += len(recorded)
	}

	if err := tx.Commit(); err != nil {
		return Session{}, nil, err
	}
	return sess, recorded, nil
}

// End terminates every active session of the candidate. The next recorded
// violation starts a fresh session.
func (s *Store) End(ctx context.Context, candidateID string) error {
	if candidateID == "" {
		return ErrEmptyCandidate
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET terminated = 1 WHERE candidate_id = ? AND terminated = 0`, candidateID)
	return err
}

// Count returns the violation count of the candidate's active session,
// or zero when there is none.
func (s *Store) Count(ctx context.Context, candidateID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT violations FROM sessions WHERE candidate_id = ? AND terminated = 0 ORDER BY started_at DESC, id DESC LIMIT 1`,
		candidateID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// List returns the candidate's most recent violations across sessions,
// newest first.
func (s *Store) List(ctx context.Context, candidateID string, limit int) ([]Violation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.session_id, v.reason, v.severity, v.screenshot IS NOT NULL, v.created_at
		FROM violations v JOIN sessions s ON s.id = v.session_id
		WHERE s.candidate_id = ?
		ORDER BY v.created_at DESC, v.rowid DESC
		LIMIT ?`, candidateID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		var (
			v        Violation
			id       string
			severity string
			at       int64
		)
		if err := rows.Scan(&id, &v.SessionID, &v.Reason, &severity, &v.HasScreenshot, &at); err != nil {
			return nil, err
		}
		if v.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("violation id %q: %w", id, err)
		}
		v.CandidateID = candidateID
		v.Severity = proctor.Severity(severity)
		v.At = time.Unix(0, at)
		out = append(out, v)
	}
	return out, rows.Err()
}

// Screenshot returns the JPEG stored with a violation
func (s *Store) Screenshot(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var img []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT screenshot FROM violations WHERE id = ? AND screenshot IS NOT NULL`, id.String()).Scan(&img)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return img, err
}

func (s *Store) activeSession(ctx context.Context, tx *sql.Tx, candidateID string, create bool) (Session, error) {
	sess := Session{CandidateID: candidateID}
	var started int64
	err := tx.QueryRowContext(ctx,
		`SELECT id, violations, started_at FROM sessions WHERE candidate_id = ? AND terminated = 0 ORDER BY started_at DESC, id DESC LIMIT 1`,
		candidateID).Scan(&sess.ID, &sess.Violations, &started)
	switch {
	case err == nil:
		sess.StartedAt = time.Unix(0, started)
		return sess, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Session{}, err
	case !create:
		return Session{}, fmt.Errorf("%w: no active session for %s", ErrNotFound, candidateID)
	}

	sess.StartedAt = s.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (candidate_id, started_at) VALUES (?, ?)`, candidateID, sess.StartedAt.UnixNano())
	if err != nil {
		return Session{}, fmt.Errorf("start session: %w", err)
	}
	if sess.ID, err = res.LastInsertId(); err != nil {
		return Session{}, err
	}
	s.logger.Info("session started", "candidate", candidateID, "session", sess.ID)
	return sess, nil
}

func nullBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// migrateLogger routes golang-migrate output to slog
type migrateLogger struct {
	logger *slog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l migrateLogger) Verbose() bool {
	return false
}
