// Package database is the single-connection collaborator every colmask
// component talks to: plain statements, materialized reads, per-table
// transactions and catalog migrations.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/colmask/colmask/internal/dialect"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB owns the connection to one database.
type DB struct {
	*Session
	db  *sql.DB
	dsn string
}

// Open connects to dsn with d's driver and pings it. The pool is capped at one
// connection so every statement runs on the same session.
func Open(ctx context.Context, d dialect.Dialect, dsn, schema string) (*DB, error) {
	sqldb, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", d.Name(), err)
	}
	sqldb.SetMaxOpenConns(1)

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("connecting to %s: %w", d.Name(), err)
	}

	db := New(sqldb, d, schema)
	db.dsn = dsn
	return db, nil
}

// New wraps an existing handle. Migrate is unavailable on a DB built this way.
func New(sqldb *sql.DB, d dialect.Dialect, schema string) *DB {
	if schema == "" {
		schema = d.DefaultSchema()
	}
	return &DB{Session: NewSession(sqldb, d, schema), db: sqldb}
}

// SQL returns the underlying handle.
func (db *DB) SQL() *sql.DB {
	return db.db
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// Begin starts a transaction on the connection. Nothing else may use the DB
// until the transaction ends.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &Tx{Session: NewSession(tx, db.d, db.schema), tx: tx}, nil
}

// Migrate applies the migrations in dir of fsys with golang-migrate.
//
// The migrate driver holds a connection for its lifetime and closes its
// handle on shutdown, so it runs on a second handle opened with the same DSN.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS, dir string) error {
	if db.dsn == "" {
		return errors.New("migrations need a connection opened with database.Open")
	}

	mdb, err := sql.Open(db.d.DriverName(), db.dsn)
	if err != nil {
		return fmt.Errorf("opening migration connection: %w", err)
	}
	if err := mdb.PingContext(ctx); err != nil {
		_ = mdb.Close()
		return fmt.Errorf("connecting for migrations: %w", err)
	}

	driver, err := db.d.MigrationDriver(mdb)
	if err != nil {
		_ = mdb.Close()
		return fmt.Errorf("creating %s migration driver: %w", db.d.Name(), err)
	}

	src, err := iofs.New(fsys, dir)
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.d.Name(), driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return fmt.Errorf("creating migrate instance: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		m.GracefulStop <- true
	})
	defer stop()

	upErr := m.Up()
	srcErr, dbErr := m.Close()

	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", upErr)
	}
	if srcErr != nil {
		return fmt.Errorf("closing migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration connection: %w", dbErr)
	}
	return nil
}
