package migrations

import (
	"database/sql"

	"github.com/jingkaihe/playbook/pkg/db"
	"github.com/pkg/errors"
)

// Migration20261019090100AddContextMessageIndexes indexes listing queries.
func Migration20261019090100AddContextMessageIndexes() db.Migration {
	return db.Migration{
		Version:     20261019090100,
		Description: "Add indexes for context listing",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				"CREATE INDEX IF NOT EXISTS idx_contexts_updated_at ON contexts(updated_at DESC)",
				"CREATE INDEX IF NOT EXISTS idx_context_messages_id ON context_messages(id)",
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return errors.Wrapf(err, "failed to execute %s", stmt)
				}
			}
			return nil
		},
		Down: func(tx *sql.Tx) error {
			for _, idx := range []string{"idx_contexts_updated_at", "idx_context_messages_id"} {
				if _, err := tx.Exec("DROP INDEX IF EXISTS " + idx); err != nil {
					return errors.Wrapf(err, "failed to drop index %s", idx)
				}
			}
			return nil
		},
	}
}
