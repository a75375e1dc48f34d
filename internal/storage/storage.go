// Package storage contains the data storage interface Relay uses to persist
// all internal state. It is an embedded relational store (sqlite) accessed
// through sqlx/squirrel, with transactional multi-table writes for every
// aggregate that spans more than one table.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog/log"
)

//go:embed migrations
var migrations embed.FS

var (
	// ErrEntityNotFound is returned when a requested entity could not be located.
	ErrEntityNotFound = errors.New("storage: entity not found")

	// ErrEntityExists is returned when an insert collided with a unique constraint.
	ErrEntityExists = errors.New("storage: entity already exists")

	// ErrPreconditionFailure is returned when an operation violates an invariant
	// (e.g. updating a pipeline that still has in-flight runs).
	ErrPreconditionFailure = errors.New("storage: parameters did not pass validation")

	// ErrParse is returned when a persisted value cannot be decoded into its
	// model type. This indicates corruption and must be surfaced, never
	// silently defaulted.
	ErrParse = errors.New("storage: could not decode persisted value")

	// ErrInternal is returned for any other, unclassified backend error.
	ErrInternal = errors.New("storage: unknown db error")
)

// MaxRowLimit is the hard ceiling every list method clamps its limit to.
const MaxRowLimit = 200

// Queryable is implemented by both *sqlx.DB and *sqlx.Tx so storage methods
// can be handed either a bare connection or an in-flight transaction.
type Queryable interface {
	sqlx.Queryer
	sqlx.Execer
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// DB is the storage engine handle. It is safe for concurrent use: sqlite's
// single-writer semantics plus WAL mode give single-process write
// serialization with multiple concurrent readers.
type DB struct {
	maxResultsLimit int
	*sqlx.DB
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

// New opens (and migrates) the sqlite-backed store at path.
func New(path string, maxResultsLimit int) (DB, error) {
	if maxResultsLimit <= 0 || maxResultsLimit > MaxRowLimit {
		maxResultsLimit = MaxRowLimit
	}

	dsn := fmt.Sprintf("%s?_journal=wal&_fk=true&_timeout=5000", path)

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return DB{}, fmt.Errorf("could not connect to storage: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return DB{}, err
	}

	return DB{maxResultsLimit: maxResultsLimit, DB: db}, nil
}

func runMigrations(db *sqlx.DB) error {
	file, err := migrations.ReadFile("migrations/0_init.sql")
	if err != nil {
		log.Fatal().Err(err).Msg("could not read embedded migrations file")
	}

	m := migrate{
		Migrations: []migration{
			migrationQuery("0", string(file)),
		},
	}

	return m.migrate(db)
}

// InsideTx runs fn inside a single write transaction, rolling back on any
// error (including a panic, which is re-raised after rollback) and
// committing only if fn returns nil. Every aggregate write that touches more
// than one table goes through this so readers never observe a partial
// aggregate.
func InsideTx(db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrInternal, err)
	}

	defer func() {
		if v := recover(); v != nil {
			_ = tx.Rollback()
			panic(v)
		}
	}()

	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", ErrInternal, err)
	}

	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// wrapDBErr normalizes a raw driver error into one of the package's sentinel
// errors so callers never have to match on driver-specific error strings
// themselves.
func wrapDBErr(err error) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return ErrEntityNotFound
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
