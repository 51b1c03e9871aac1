/*
Package sqlite provides a SQLite-backed ledger.Persister.

PURPOSE:
  Keeps the serialized tutor state in one row of a documents table, keyed
  by a slot name. Each save first copies the previous body into
  document_revisions so an earlier state can be restored by importing it.

KEY TABLES:
  documents:          key -> current body
  document_revisions: previous bodies, pruned to MaxRevisions per key

SCHEMA:
  Managed by goose with SQL migrations embedded in the binary and applied on
  New(). SQLite is opened in WAL mode.

CONCURRENCY:
  A single connection is used so ":memory:" databases behave like files
  (every pooled connection would otherwise see its own empty database).

USAGE:
  store, err := sqlite.New("./tutor.db", "tutor-ledger-state")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Persister interface
  - store/redis/redis.go: Redis alternative
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// DefaultKey is the slot name used when none is configured.
const DefaultKey = "tutor-ledger-state"

// MaxRevisions is how many previous bodies are kept per key.
const MaxRevisions = 20

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements ledger.Persister on SQLite.
type Store struct {
	db  *sqlx.DB
	key string
}

// Revision is a previously saved body.
type Revision struct {
	ID      int64     `db:"id" json:"id"`
	Body    string    `db:"body" json:"-"`
	SavedAt time.Time `db:"-" json:"savedAt"`

	SavedAtRaw string `db:"saved_at" json:"-"`
}

type documentRow struct {
	Key       string `db:"key"`
	Body      string `db:"body"`
	UpdatedAt string `db:"updated_at"`
}

// New opens (or creates) the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath, key string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if key == "" {
		key = DefaultKey
	}
	store := &Store{db: db, key: key}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	version, err := goose.GetDBVersionContext(ctx, s.db.DB)
	if err != nil {
		return 0, fmt.Errorf("get version: %w", err)
	}
	return version, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// PERSISTER
// =============================================================================

// Load returns the current body, or nil when the slot has never been saved.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE key = ?`, s.key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	return []byte(body), nil
}

// Save replaces the body, keeping the previous one as a revision.
func (s *Store) Save(ctx context.Context, doc []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_revisions (key, body, saved_at)
		SELECT key, body, updated_at FROM documents WHERE key = ?
	`, s.key); err != nil {
		return fmt.Errorf("failed to record revision: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO documents (key, body, updated_at)
		VALUES (:key, :body, :updated_at)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, documentRow{Key: s.key, Body: string(doc), UpdatedAt: now}); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM document_revisions
		WHERE key = ? AND id NOT IN (
			SELECT id FROM document_revisions WHERE key = ? ORDER BY id DESC LIMIT ?
		)
	`, s.key, s.key, MaxRevisions); err != nil {
		return fmt.Errorf("failed to prune revisions: %w", err)
	}

	return tx.Commit()
}

// =============================================================================
// REVISIONS
// =============================================================================

// Revisions lists previous bodies, newest first.
func (s *Store) Revisions(ctx context.Context) ([]Revision, error) {
	var revs []Revision
	err := s.db.SelectContext(ctx, &revs, `
		SELECT id, body, saved_at FROM document_revisions
		WHERE key = ?
		ORDER BY id DESC
	`, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	for i := range revs {
		revs[i].SavedAt, _ = time.Parse(time.RFC3339Nano, revs[i].SavedAtRaw)
	}
	return revs, nil
}

// Revision returns one previous body.
func (s *Store) Revision(ctx context.Context, id int64) ([]byte, error) {
	var body string
	err := s.db.GetContext(ctx, &body,
		`SELECT body FROM document_revisions WHERE key = ? AND id = ?`, s.key, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load revision: %w", err)
	}
	return []byte(body), nil
}
