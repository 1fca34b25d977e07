package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/roach88/sessionstate/internal/session"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial index on sessions.expires_at
const currentSchemaVersion = 1

// SQLite stores session records in a single SQLite database.
// Uses WAL mode for concurrent read access.
type SQLite struct {
	db     *sql.DB
	now    func() time.Time
	logger zerolog.Logger
}

var _ Store = (*SQLite)(nil)

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// Transactions start with BEGIN IMMEDIATE so the write lock is taken before
// the read half of a read-modify-write.
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	o := buildOptions(opts)

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_txlock=immediate", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	o.logger.Debug().Str("path", path).Msg("sqlite store opened")
	return &SQLite{db: db, now: o.now, logger: o.logger}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the index PurgeExpired scans.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at
		ON sessions(expires_at) WHERE expires_at IS NOT NULL
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *SQLite) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the live record at key.
func (s *SQLite) Get(ctx context.Context, key string) (*session.Record, bool, error) {
	e, err := readEntry(ctx, s.db, key)
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	e = e.live(s.now())
	if e == nil {
		return nil, false, nil
	}
	return e.rec, true, nil
}

// Put writes rec unconditionally inside a transaction.
func (s *SQLite) Put(ctx context.Context, key string, rec *session.Record, ttl time.Duration) error {
	if err := s.mutate(ctx, key, session.Write(rec), refreshExpiry(ttl)); err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// Invoke runs m inside a BEGIN IMMEDIATE transaction.
func (s *SQLite) Invoke(ctx context.Context, key string, m session.Mutator) error {
	return s.mutate(ctx, key, m, keepExpiry)
}

// Remove deletes key.
func (s *SQLite) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes every expired record.
func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired: %w", err)
	}
	s.logger.Debug().Int64("purged", n).Msg("purged expired sessions")
	return int(n), nil
}

func (s *SQLite) mutate(ctx context.Context, key string, m session.Mutator, policy expiryPolicy) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := readEntry(ctx, tx, key)
	if err != nil {
		return err
	}

	next, write, err := step(cur, s.now(), m, policy)
	if err != nil {
		return err
	}
	if !write {
		return nil
	}

	if next == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	} else if err := writeEntry(ctx, tx, key, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// readEntry returns the row at key, expired or not, or nil when absent.
func readEntry(ctx context.Context, q queryer, key string) (*entry, error) {
	var (
		attributes, static []byte
		timeout            int
		expiresAt          sql.NullInt64
		lockOwner          sql.NullString
		lockToken          sql.NullInt64
		lockTime           sql.NullInt64
	)

	err := q.QueryRowContext(ctx, `
		SELECT attributes, static_objects, timeout_minutes, expires_at, lock_owner, lock_token, lock_time
		FROM sessions
		WHERE key = ?
	`, key).Scan(&attributes, &static, &timeout, &expiresAt, &lockOwner, &lockToken, &lockTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	e := &entry{rec: &session.Record{
		Attributes:    attributes,
		StaticObjects: static,
		Timeout:       timeout,
	}}
	if expiresAt.Valid {
		e.expiresAt = time.Unix(0, expiresAt.Int64).UTC()
	}
	if lockOwner.Valid {
		owner, err := uuid.Parse(lockOwner.String)
		if err != nil {
			return nil, fmt.Errorf("parse lock owner %q: %w", lockOwner.String, err)
		}
		e.rec.Lock = &session.Lock{
			Owner: owner,
			Token: lockToken.Int64,
			Since: time.Unix(0, lockTime.Int64).UTC(),
		}
	}
	return e, nil
}

func writeEntry(ctx context.Context, tx *sql.Tx, key string, e *entry) error {
	var expiresAt, lockToken, lockTime sql.NullInt64
	var lockOwner sql.NullString

	if !e.expiresAt.IsZero() {
		expiresAt = sql.NullInt64{Int64: e.expiresAt.UnixNano(), Valid: true}
	}
	if l := e.rec.Lock; l != nil {
		lockOwner = sql.NullString{String: l.Owner.String(), Valid: true}
		lockToken = sql.NullInt64{Int64: l.Token, Valid: true}
		lockTime = sql.NullInt64{Int64: l.Since.UnixNano(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions
		(key, attributes, static_objects, timeout_minutes, expires_at, lock_owner, lock_token, lock_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			attributes = excluded.attributes,
			static_objects = excluded.static_objects,
			timeout_minutes = excluded.timeout_minutes,
			expires_at = excluded.expires_at,
			lock_owner = excluded.lock_owner,
			lock_token = excluded.lock_token,
			lock_time = excluded.lock_time
	`,
		key,
		e.rec.Attributes,
		e.rec.StaticObjects,
		e.rec.Timeout,
		expiresAt,
		lockOwner,
		lockToken,
		lockTime,
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}
