package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Klingon-tech/klingnet-wallet/internal/log"
)

// Pool is the subset of a pgx connection pool PostgresDB needs. Both
// *pgxpool.Pool and pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DefaultPostgresTable is the table used when none is configured.
const DefaultPostgresTable = "wallet_kv"

var tableNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresDB implements DB with a single two-column table.
type PostgresDB struct {
	pool    Pool
	table   string
	timeout time.Duration
	closer  func()
}

// NewPostgres opens a pgx pool for dsn, verifies connectivity and makes
// sure the table exists.
func NewPostgres(ctx context.Context, dsn, table string) (*PostgresDB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	db, err := NewPostgresWithPool(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	db.closer = pool.Close
	if err := db.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Storage.Info().
		Str("host", poolCfg.ConnConfig.Host).
		Str("table", db.table).
		Msg("PostgreSQL connection pool established")
	return db, nil
}

// NewPostgresWithPool wraps an existing pool. The caller keeps ownership of it.
func NewPostgresWithPool(pool Pool, table string) (*PostgresDB, error) {
	if table == "" {
		table = DefaultPostgresTable
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostgresDB{pool: pool, table: table, timeout: DefaultOpTimeout}, nil
}

// EnsureSchema creates the key-value table if it does not exist.
func (p *PostgresDB) EnsureSchema(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS ` + p.table + ` (
		key   BYTEA PRIMARY KEY,
		value BYTEA NOT NULL
	)`
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

func (p *PostgresDB) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

// Get retrieves a value by key.
func (p *PostgresDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	query := `SELECT value FROM ` + p.table + ` WHERE key = $1`
	var val []byte
	err := p.pool.QueryRow(ctx, query, key).Scan(&val)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	if val == nil {
		val = []byte{}
	}
	return val, nil
}

// Put stores a key-value pair.
func (p *PostgresDB) Put(key, value []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()

	if value == nil {
		value = []byte{}
	}
	query := `INSERT INTO ` + p.table + ` (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	if _, err := p.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (p *PostgresDB) Delete(key []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()

	query := `DELETE FROM ` + p.table + ` WHERE key = $1`
	if _, err := p.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (p *PostgresDB) Has(key []byte) (bool, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	query := `SELECT EXISTS(SELECT 1 FROM ` + p.table + ` WHERE key = $1)`
	var exists bool
	if err := p.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("postgres has: %w", err)
	}
	return exists, nil
}

// ForEach iterates over all keys with the given prefix in key order. Rows
// are read in full before fn runs so fn may write to the table.
func (p *PostgresDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	ctx, cancel := p.ctx()
	defer cancel()

	if prefix == nil {
		prefix = []byte{}
	}
	query := `SELECT key, value FROM ` + p.table + `
		WHERE substring(key from 1 for length($1::bytea)) = $1::bytea ORDER BY key`
	rows, err := p.pool.Query(ctx, query, prefix)
	if err != nil {
		return fmt.Errorf("postgres scan: %w", err)
	}

	type kv struct{ k, v []byte }
	var entries []kv
	for rows.Next() {
		var e kv
		if err := rows.Scan(&e.k, &e.v); err != nil {
			rows.Close()
			return fmt.Errorf("postgres scan row: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres scan: %w", err)
	}

	for _, e := range entries {
		if err := fn(e.k, e.v); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the pool if this DB opened it.
func (p *PostgresDB) Close() error {
	if p.closer != nil {
		p.closer()
	}
	return nil
}
