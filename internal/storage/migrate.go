package storage

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// migrate is a tiny migration runner that tracks applied migration IDs in a
// table and runs each unseen migration inside its own transaction.
type migrate struct {
	Migrations []migration
}

type migration struct {
	ID      string
	Migrate func(tx *sqlx.Tx) error
}

func migrationQuery(id, query string) migration {
	return migration{
		ID: id,
		Migrate: func(tx *sqlx.Tx) error {
			if query == "" {
				return nil
			}
			_, err := tx.Exec(query)
			return err
		},
	}
}

func (m *migrate) migrate(db *sqlx.DB) error {
	if err := m.createMigrationTable(db); err != nil {
		return err
	}

	for _, mig := range m.Migrations {
		var found string
		err := db.Get(&found, "SELECT id FROM migrations WHERE id = $1", mig.ID)
		switch {
		case err == sql.ErrNoRows:
			log.Debug().Str("migration", mig.ID).Msg("running migration")
		case err == nil:
			continue
		default:
			return fmt.Errorf("looking up migration by id: %w", err)
		}

		if err := m.runMigration(db, mig); err != nil {
			return err
		}
	}

	return nil
}

func (m *migrate) createMigrationTable(db *sqlx.DB) error {
	_, err := db.Exec("CREATE TABLE IF NOT EXISTS migrations (id TEXT PRIMARY KEY)")
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}
	return nil
}

func (m *migrate) runMigration(db *sqlx.DB, mig migration) error {
	tx, err := db.Beginx()
	if err != nil {
		return fmt.Errorf("running migration: %w", err)
	}

	if _, err := tx.Exec("INSERT INTO migrations (id) VALUES ($1)", mig.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("running migration: %w", err)
	}

	if err := mig.Migrate(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("running migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("running migration: %w", err)
	}

	return nil
}
