package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrNotFound is returned by point lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// StorageError wraps a failure of the backing database. The synthesis run
// cannot continue safely after one.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Store is the SQLite-backed dependency tracker: one record per processed
// source file with its fingerprint, definitions and module references.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
// MemoryPath opens a single-connection in-memory database.
func NewStore(dbPath string) (*Store, error) {
	dsn := dbPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000"
	if dbPath == MemoryPath {
		dsn = "file::memory:?_foreign_keys=ON"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	if dbPath == MemoryPath {
		// Every new connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, storageErr("ping database", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  module          TEXT NOT NULL,
  output_path     TEXT,
  fingerprint     TEXT NOT NULL,
  run_id          TEXT,
  last_processed  TIMESTAMP
);

CREATE TABLE IF NOT EXISTS symbols (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  name            TEXT NOT NULL,
  value           TEXT NOT NULL,
  line            INTEGER,
  UNIQUE(file_id, name)
);

CREATE TABLE IF NOT EXISTS module_uses (
  file_id         INTEGER NOT NULL REFERENCES files(id),
  module          TEXT NOT NULL,
  PRIMARY KEY(file_id, module)
);

CREATE TABLE IF NOT EXISTS runs (
  id              TEXT PRIMARY KEY,
  started_at      TIMESTAMP NOT NULL,
  finished_at     TIMESTAMP,
  processed       INTEGER DEFAULT 0,
  skipped         INTEGER DEFAULT 0,
  failed          INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT
);

CREATE INDEX IF NOT EXISTS idx_files_module ON files(module);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file_id);
CREATE INDEX IF NOT EXISTS idx_module_uses_module ON module_uses(module);
`

// deleteFileTx removes a file row and its child rows. Children go first
// to respect FK constraints.
func deleteFileTx(ctx context.Context, tx *sql.Tx, fileID int64) error {
	for _, q := range []string{
		"DELETE FROM symbols WHERE file_id = ?",
		"DELETE FROM module_uses WHERE file_id = ?",
		"DELETE FROM files WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, q, fileID); err != nil {
			return err
		}
	}
	return nil
}

// GetMetadata returns the value stored under key, or "" if unset.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storageErr("get metadata", err)
	}
	return v.String, nil
}

// SetMetadata upserts a metadata value.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return storageErr("set metadata", err)
}
