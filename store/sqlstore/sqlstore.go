// Package sqlstore is the SQL [store.Store] driver. It runs on sqlite
// (modernc.org/sqlite) and postgres (lib/pq) through sqlx; queries are
// written with ? placeholders and rebound per driver.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/sqlstore/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store implements [store.Store] over a *sqlx.DB.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// Open connects with driverName ("sqlite" or "postgres") and dsn, applies
// pending migrations and returns the store.
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if driverName == DriverSQLite {
		// In-memory databases live on a single connection.
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := New(db)
	if err := s.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return s, nil
}

// New wraps an already opened database. Call [Store.ApplyMigrations] before
// first use on a fresh database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ApplyMigrations applies any pending embedded migrations.
func (s *Store) ApplyMigrations() error {
	var (
		driver database.Driver
		err    error
	)
	switch s.db.DriverName() {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(s.db.DB, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(s.db.DB, &postgres.Config{})
	default:
		return fmt.Errorf("unsupported driver %q", s.db.DriverName())
	}
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, s.db.DriverName(), driver)
	if err != nil {
		return err
	}

	// The instance is not closed: closing it would close s.db.
	err = instance.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Identities() store.Identities      { return &identities{db: s.db} }
func (s *Store) TwoFactor() store.TwoFactorSecrets { return &twoFactor{db: s.db} }
func (s *Store) APIKeys() store.APIKeys            { return &apiKeys{db: s.db} }

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx executes fn within a transaction, rolling back on error.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// forUpdate returns the row-locking suffix for drivers that support it.
func forUpdate(db *sqlx.DB) string {
	if db.DriverName() == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// classify maps driver constraint errors onto store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return uniqueViolation(pqErr.Constraint + " " + pqErr.Message)
		case "23503":
			return store.ErrNotFound
		}
		return err
	}

	var liteErr *moderncsqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		msg := liteErr.Error()
		switch {
		case strings.Contains(msg, "UNIQUE"), strings.Contains(msg, "PRIMARY KEY"):
			return uniqueViolation(msg)
		case strings.Contains(msg, "FOREIGN KEY"):
			return store.ErrNotFound
		}
	}
	return err
}

func uniqueViolation(detail string) error {
	switch {
	case strings.Contains(detail, "email"):
		return store.ErrDuplicateEmail
	case strings.Contains(detail, "phone"):
		return store.ErrDuplicatePhone
	default:
		return store.ErrAlreadyExists
	}
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
