package fleet

import (
	"database/sql"

	"github.com/fbarre96/pollenisator/pkg/plugin"
)

// Migrations returns the fleet schema migrations. Exported so sibling
// modules can prepare the schema in their tests.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create workers table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS workers (
						name TEXT PRIMARY KEY,
						supported_plugins TEXT NOT NULL DEFAULT '[]',
						pentest TEXT NOT NULL DEFAULT '',
						last_heartbeat DATETIME NOT NULL,
						running_tools TEXT NOT NULL DEFAULT '[]'
					)`)
				return err
			},
		},
	}
}
