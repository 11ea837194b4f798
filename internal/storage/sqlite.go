package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// SQLiteDB implements DB on a single sqlite table. It suits desktop
// installs that want one keystore file instead of a badger directory.
type SQLiteDB struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLite opens (or creates) the sqlite keystore at path. The special
// path ":memory:" gives a private in-memory database.
func NewSQLite(path string) (*SQLiteDB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: sqlite serializes writers anyway, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)

	s := &SQLiteDB{db: db, timeout: DefaultOpTimeout}
	ctx, cancel := s.ctx()
	defer cancel()
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS kv (
		key   BLOB PRIMARY KEY,
		value BLOB
	) WITHOUT ROWID`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite table: %w", err)
	}

	log.Storage.Debug().Str("path", path).Msg("SQLite keystore opened")
	return s, nil
}

func (s *SQLiteDB) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// Get retrieves a value by key.
func (s *SQLiteDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var val []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if val == nil {
		val = []byte{}
	}
	return val, nil
}

// Put stores a key-value pair.
func (s *SQLiteDB) Put(key, value []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (s *SQLiteDB) Delete(key []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (s *SQLiteDB) Has(key []byte) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM kv WHERE key = ?)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite has: %w", err)
	}
	return exists, nil
}

// ForEach iterates over all keys with the given prefix in key order. Rows
// are read in full before fn runs so fn may write to the table.
func (s *SQLiteDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	ctx, cancel := s.ctx()
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if len(prefix) == 0 {
		rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM kv ORDER BY key`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT key, value FROM kv
			WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	}
	if err != nil {
		return fmt.Errorf("sqlite scan: %w", err)
	}

	type kv struct{ k, v []byte }
	var entries []kv
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.k, &e.v); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite scan row: %w", err)
		}
		if e.v == nil {
			e.v = []byte{}
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite scan: %w", err)
	}

	for _, e := range entries {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
