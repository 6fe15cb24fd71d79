package migrations

import (
	"database/sql"

	"github.com/jingkaihe/playbook/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261019090000CreateContexts creates the stored contexts and
// their messages.
func Migration20261019090000CreateContexts() db.Migration {
	return db.Migration{
		Version:     20261019090000,
		Description: "Create contexts and context_messages tables",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS contexts (
					name TEXT PRIMARY KEY,
					token_budget INTEGER NOT NULL DEFAULT 0,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create contexts table")
			}
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS context_messages (
					id TEXT NOT NULL,
					context_name TEXT NOT NULL REFERENCES contexts(name) ON DELETE CASCADE,
					position INTEGER NOT NULL,
					role TEXT NOT NULL,
					content TEXT NOT NULL,
					created_at TEXT NOT NULL,
					PRIMARY KEY (context_name, position)
				)
			`); err != nil {
				return errors.Wrap(err, "failed to create context_messages table")
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			if _, err := tx.Exec("DROP TABLE IF EXISTS context_messages"); err != nil {
				return errors.Wrap(err, "failed to drop context_messages table")
			}
			if _, err := tx.Exec("DROP TABLE IF EXISTS contexts"); err != nil {
				return errors.Wrap(err, "failed to drop contexts table")
			}
			return nil
		},
	}
}
