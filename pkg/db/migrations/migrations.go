// Package migrations lists the schema migrations of the playbook database.
package migrations

import "github.com/jingkaihe/playbook/pkg/db"

// All returns every migration. Append new migrations at the end.
func All() []db.Migration {
	return []db.Migration{
		Migration20261019090000CreateContexts(),
		Migration20261019090100AddContextMessageIndexes(),
	}
}
