package autoscan

import (
	"database/sql"

	"github.com/fbarre96/pollenisator/pkg/plugin"
)

// Migrations returns the autoscan schema migrations. Exported so sibling
// modules can prepare the schema in their tests.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create autoscans table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS autoscans (
						pentest TEXT PRIMARY KEY,
						autoqueue INTEGER NOT NULL DEFAULT 1,
						whitelist TEXT NOT NULL DEFAULT '[]',
						started_at DATETIME NOT NULL
					)`)
				return err
			},
		},
		{
			Version:     2,
			Description: "create autoscan queue table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS autoscan_queue (
						pentest TEXT NOT NULL,
						tool_iid TEXT NOT NULL,
						priority INTEGER NOT NULL DEFAULT 0,
						PRIMARY KEY (pentest, tool_iid)
					)`)
				return err
			},
		},
	}
}
