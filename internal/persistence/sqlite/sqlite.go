// Package sqlite implements the persistence repositories on SQLite via the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/deskbot/internal/persistence"
	_ "modernc.org/sqlite"
)

// Storage owns the database handle and implements every repository interface
// declared in the persistence package.
type Storage struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given DSN.
func Open(dsn string) (*Storage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Storage{db: db}, nil
}

// Close releases the database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for test fixtures.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// revisions are applied in order and recorded in schema_migrations. New
// schema changes append a revision; existing entries are immutable.
var revisions = []string{
	`CREATE TABLE bot_configs (
		user_id    TEXT PRIMARY KEY,
		document   BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE credentials (
		user_id     TEXT PRIMARY KEY,
		ciphertext  BLOB NOT NULL,
		captured_at TEXT NOT NULL,
		valid       INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE booking_attempts (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		date       TEXT NOT NULL,
		slot       TEXT,
		outcome    TEXT NOT NULL,
		round      INTEGER NOT NULL DEFAULT 0,
		message    TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX idx_booking_attempts_user_date ON booking_attempts (user_id, date)`,
}

// Migrate applies any unapplied schema revisions.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		revision   INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("sqlite: init migrations table: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(revision), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return fmt.Errorf("sqlite: read migration state: %w", err)
	}

	for i := current; i < len(revisions); i++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, revisions[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: apply migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (revision, applied_at) VALUES (?, ?)`,
			i+1, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite: record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %d: %w", i+1, err)
		}
	}
	return nil
}

// --- ConfigRepository ---

// SaveConfig inserts or replaces the user's configuration document.
func (s *Storage) SaveConfig(ctx context.Context, cfg persistence.BotConfig) error {
	if strings.TrimSpace(cfg.UserID) == "" {
		return persistence.ErrConstraintViolation
	}
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_configs (user_id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		cfg.UserID, cfg.Document, updated.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("sqlite: save config: %w", err)
	}
	return nil
}

// GetConfig loads the user's configuration document.
func (s *Storage) GetConfig(ctx context.Context, userID string) (persistence.BotConfig, error) {
	var cfg persistence.BotConfig
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, document, updated_at FROM bot_configs WHERE user_id = ?`, userID).
		Scan(&cfg.UserID, &cfg.Document, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.BotConfig{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.BotConfig{}, fmt.Errorf("sqlite: get config: %w", err)
	}
	if cfg.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.BotConfig{}, err
	}
	return cfg, nil
}

// --- CredentialRepository ---

// SaveCredential inserts or replaces the user's encrypted credential.
func (s *Storage) SaveCredential(ctx context.Context, cred persistence.Credential) error {
	if strings.TrimSpace(cred.UserID) == "" || len(cred.Ciphertext) == 0 {
		return persistence.ErrConstraintViolation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, ciphertext, captured_at, valid) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			captured_at = excluded.captured_at,
			valid = excluded.valid`,
		cred.UserID, cred.Ciphertext, cred.CapturedAt.UTC().Format(time.RFC3339), boolToInt(cred.Valid))
	if err != nil {
		return fmt.Errorf("sqlite: save credential: %w", err)
	}
	return nil
}

// GetCredential loads the user's encrypted credential.
func (s *Storage) GetCredential(ctx context.Context, userID string) (persistence.Credential, error) {
	var cred persistence.Credential
	var capturedAt string
	var valid int
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, ciphertext, captured_at, valid FROM credentials WHERE user_id = ?`, userID).
		Scan(&cred.UserID, &cred.Ciphertext, &capturedAt, &valid)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Credential{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Credential{}, fmt.Errorf("sqlite: get credential: %w", err)
	}
	if cred.CapturedAt, err = parseTime(capturedAt); err != nil {
		return persistence.Credential{}, err
	}
	cred.Valid = valid != 0
	return cred, nil
}

// --- AttemptRepository ---

// AppendAttempt appends one ledger entry. The ledger is append-only; there is
// deliberately no update or delete.
func (s *Storage) AppendAttempt(ctx context.Context, attempt persistence.BookingAttempt) error {
	if attempt.ID == "" || attempt.UserID == "" || attempt.Date == "" {
		return persistence.ErrConstraintViolation
	}
	var slot sql.NullString
	if attempt.Slot != "" {
		slot = sql.NullString{String: attempt.Slot, Valid: true}
	}
	at := attempt.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO booking_attempts (id, user_id, date, slot, outcome, round, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.UserID, attempt.Date, slot, string(attempt.Outcome),
		attempt.Round, attempt.Message, at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("sqlite: append attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the user's ledger, newest first. A non-positive limit
// returns everything.
func (s *Storage) ListAttempts(ctx context.Context, userID string, limit int) ([]persistence.BookingAttempt, error) {
	query := `SELECT id, user_id, date, slot, outcome, round, message, created_at
		FROM booking_attempts WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []persistence.BookingAttempt
	for rows.Next() {
		var a persistence.BookingAttempt
		var slot sql.NullString
		var outcome, createdAt string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Date, &slot, &outcome, &a.Round, &a.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan attempt: %w", err)
		}
		a.Slot = slot.String
		a.Outcome = persistence.AttemptOutcome(outcome)
		if a.At, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// BookedDates returns the dates the user already holds a verified booking
// for, consulted at the start of every round.
func (s *Storage) BookedDates(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT date FROM booking_attempts WHERE user_id = ? AND outcome = ?`,
		userID, string(persistence.OutcomeBooked))
	if err != nil {
		return nil, fmt.Errorf("sqlite: booked dates: %w", err)
	}
	defer rows.Close()

	booked := make(map[string]bool)
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("sqlite: scan date: %w", err)
		}
		booked[date] = true
	}
	return booked, rows.Err()
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
