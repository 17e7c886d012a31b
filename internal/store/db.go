package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/cesargomez89/navicache/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// dbOps is the query surface shared by *sqlx.DB and *sqlx.Tx, so store
// methods run unchanged inside and outside a transaction.
type dbOps interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type DB struct {
	dbOps
	root *sqlx.DB
	now  func() time.Time
}

// NewSQLiteDB opens (creating if needed) the cache database at path and
// applies pending migrations.
func NewSQLiteDB(path string) (*DB, error) {
	db, err := sqlx.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrateUp(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &DB{
		dbOps: db,
		root:  db,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// dsn sets the pragmas on every pooled connection rather than only the
// first one, and makes write transactions take the lock up front.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(30000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func migrateUp(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (db *DB) Close() error {
	return db.root.Close()
}

// SetClock replaces the time source used for queued and cached dates.
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// RunInTx runs fn against a copy of db bound to a single transaction.
// The transaction commits only when fn returns nil. Called on a DB that is
// already bound to a transaction, fn joins it.
func (db *DB) RunInTx(ctx context.Context, fn func(txDB *DB) error) error {
	if _, ok := db.dbOps.(*sqlx.Tx); ok {
		return fn(db)
	}

	tx, err := db.root.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	txDB := &DB{
		dbOps: tx,
		root:  db.root,
		now:   db.now,
	}

	if err := fn(txDB); err != nil {
		return err
	}
	return tx.Commit()
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}
