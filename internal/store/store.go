// Package store opens the relational datastores used by the batch engine.
//
// Two independent handles exist at runtime: the metadata store behind the
// execution ledger and the business store behind the pipelines. Each handle
// owns its own connection pool and transactions; a Tx never spans both.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

// Config describes one datastore connection
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	PingTimeout  time.Duration
}

// Validate checks the descriptor before a connection is attempted
func (c Config) Validate() error {
	if _, err := dialectFor(c.Driver); err != nil {
		return err
	}
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("dsn is required")
	}
	if c.MaxOpenConns < 0 {
		return errors.New("max_open_conns must be >= 0")
	}
	return nil
}

// Querier is the statement surface shared by DB and Tx
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is a datastore handle. Queries are written with '?' placeholders and
// rebound for the active dialect.
type DB struct {
	sql     *sql.DB
	dialect Dialect
}

// Open connects to the datastore described by cfg and verifies it with a ping
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialect, _ := dialectFor(cfg.Driver)

	if dialect.SingleWriter {
		// sqlite creates the database file but not its directory
		if dir := sqliteDir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if dialect.SingleWriter {
		// sqlite serialises writers; a single connection also keeps :memory: databases alive
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if dialect.SingleWriter {
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("busy timeout: %w", err)
		}
	}

	return &DB{sql: db, dialect: dialect}, nil
}

// sqliteDir returns the directory of a file-backed sqlite DSN, "" for in-memory databases
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}

// Dialect returns the SQL dialect of the handle
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close closes the underlying pool
func (d *DB) Close() error {
	return d.sql.Close()
}

// PingContext verifies the datastore is reachable
func (d *DB) PingContext(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// ExecContext executes a statement outside of any transaction
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.sql.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryContext runs a query outside of any transaction
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.sql.QueryContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryRowContext runs a single-row query outside of any transaction
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.sql.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

// BeginTx opens a transaction on this datastore only
func (d *DB) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx, dialect: d.dialect}, nil
}

// Migrate applies a schema template; statements are separated by ';'
func (d *DB) Migrate(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(d.dialect.Expand(schema), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}
	return nil
}

// Tx is a transaction scoped to a single datastore
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// ExecContext executes a statement inside the transaction
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryContext runs a query inside the transaction
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryRowContext runs a single-row query inside the transaction
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	return t.tx.Commit()
}

// Rollback aborts the transaction
func (t *Tx) Rollback() error {
	return t.tx.Rollback()
}
