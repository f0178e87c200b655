package entities

import (
	"database/sql"

	"github.com/fbarre96/pollenisator/pkg/plugin"
)

// Migrations returns the entity-layer schema migrations. Exported so
// sibling modules can prepare the schema in their tests.
func Migrations() []plugin.Migration {
	return []plugin.Migration{
		{
			Version:     1,
			Description: "create engagement and target tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS engagements (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL UNIQUE,
						start_date DATETIME,
						end_date DATETIME,
						settings TEXT NOT NULL DEFAULT '{}',
						pentesters TEXT NOT NULL DEFAULT '[]',
						created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,

					`CREATE TABLE IF NOT EXISTS waves (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						wave TEXT NOT NULL,
						wave_commands TEXT NOT NULL DEFAULT '[]',
						infos TEXT NOT NULL DEFAULT '{}',
						UNIQUE (pentest, wave)
					)`,

					`CREATE TABLE IF NOT EXISTS intervals (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						wave TEXT NOT NULL,
						dated TEXT NOT NULL,
						datef TEXT NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_intervals_wave ON intervals(pentest, wave)`,

					`CREATE TABLE IF NOT EXISTS scopes (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						wave TEXT NOT NULL,
						scope TEXT NOT NULL,
						notes TEXT NOT NULL DEFAULT '',
						UNIQUE (pentest, wave, scope)
					)`,

					`CREATE TABLE IF NOT EXISTS ips (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						ip TEXT NOT NULL,
						notes TEXT NOT NULL DEFAULT '',
						in_scopes TEXT NOT NULL DEFAULT '[]',
						infos TEXT NOT NULL DEFAULT '{}',
						UNIQUE (pentest, ip)
					)`,

					`CREATE TABLE IF NOT EXISTS ports (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						ip TEXT NOT NULL,
						port TEXT NOT NULL,
						proto TEXT NOT NULL,
						service TEXT NOT NULL DEFAULT '',
						product TEXT NOT NULL DEFAULT '',
						notes TEXT NOT NULL DEFAULT '',
						infos TEXT NOT NULL DEFAULT '{}',
						UNIQUE (pentest, ip, port, proto)
					)`,

					`CREATE TABLE IF NOT EXISTS tags (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						item_id TEXT NOT NULL,
						item_type TEXT NOT NULL,
						name TEXT NOT NULL,
						level TEXT NOT NULL DEFAULT '',
						notes TEXT NOT NULL DEFAULT '',
						UNIQUE (pentest, item_id, item_type, name)
					)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     2,
			Description: "create catalog, tool and check tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS commands (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL DEFAULT '',
						name TEXT NOT NULL,
						bin_path TEXT NOT NULL DEFAULT '',
						plugin TEXT NOT NULL DEFAULT '',
						text TEXT NOT NULL DEFAULT '',
						owners TEXT NOT NULL DEFAULT '[]',
						timeout INTEGER NOT NULL DEFAULT 300,
						original_iid TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX IF NOT EXISTS idx_commands_name ON commands(pentest, name)`,

					`CREATE TABLE IF NOT EXISTS checkitems (
						id TEXT PRIMARY KEY,
						title TEXT NOT NULL,
						lvl TEXT NOT NULL,
						ports TEXT NOT NULL DEFAULT '',
						pentest_types TEXT NOT NULL DEFAULT '[]',
						priority INTEGER NOT NULL DEFAULT 0,
						max_thread INTEGER NOT NULL DEFAULT 1,
						category TEXT NOT NULL DEFAULT '',
						commands TEXT NOT NULL DEFAULT '[]',
						defect_tags TEXT NOT NULL DEFAULT '[]',
						description TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX IF NOT EXISTS idx_checkitems_lvl ON checkitems(lvl)`,

					`CREATE TABLE IF NOT EXISTS checkinstances (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						check_iid TEXT NOT NULL,
						target_iid TEXT NOT NULL,
						target_type TEXT NOT NULL,
						status TEXT NOT NULL DEFAULT '',
						notes TEXT NOT NULL DEFAULT '',
						UNIQUE (pentest, check_iid, target_iid, target_type)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_checkinstances_target ON checkinstances(pentest, target_iid, target_type)`,

					`CREATE TABLE IF NOT EXISTS tools (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						name TEXT NOT NULL DEFAULT '',
						command_iid TEXT NOT NULL DEFAULT '',
						check_iid TEXT NOT NULL DEFAULT '',
						lvl TEXT NOT NULL DEFAULT '',
						wave TEXT NOT NULL DEFAULT '',
						scope TEXT NOT NULL DEFAULT '',
						ip TEXT NOT NULL DEFAULT '',
						port TEXT NOT NULL DEFAULT '',
						proto TEXT NOT NULL DEFAULT '',
						text TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT '[]',
						scanner_ip TEXT NOT NULL DEFAULT '',
						dated TEXT NOT NULL DEFAULT 'None',
						datef TEXT NOT NULL DEFAULT 'None',
						resultfile TEXT NOT NULL DEFAULT '',
						plugin_used TEXT NOT NULL DEFAULT '',
						notes TEXT NOT NULL DEFAULT '',
						infos TEXT NOT NULL DEFAULT '{}'
					)`,
					`CREATE INDEX IF NOT EXISTS idx_tools_check_status ON tools(check_iid, status)`,
					`CREATE INDEX IF NOT EXISTS idx_tools_pentest_ip ON tools(pentest, ip)`,
					`CREATE INDEX IF NOT EXISTS idx_tools_pentest_wave ON tools(pentest, wave)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     3,
			Description: "create defect, AD and notification tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS defects (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						title TEXT NOT NULL,
						severity TEXT NOT NULL DEFAULT 'Minor',
						idx INTEGER NOT NULL DEFAULT 0,
						target_id TEXT NOT NULL DEFAULT '',
						target_type TEXT NOT NULL DEFAULT '',
						language TEXT NOT NULL DEFAULT '',
						proofs TEXT NOT NULL DEFAULT '[]',
						notes TEXT NOT NULL DEFAULT ''
					)`,
					`CREATE INDEX IF NOT EXISTS idx_defects_target ON defects(pentest, target_id, target_type)`,

					`CREATE TABLE IF NOT EXISTS computers (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						name TEXT NOT NULL DEFAULT '',
						ip TEXT NOT NULL,
						domain TEXT NOT NULL DEFAULT '',
						admins TEXT NOT NULL DEFAULT '[]',
						users TEXT NOT NULL DEFAULT '[]',
						is_dc INTEGER NOT NULL DEFAULT 0,
						is_sqlserver INTEGER NOT NULL DEFAULT 0,
						smbv1 INTEGER NOT NULL DEFAULT 0,
						signing INTEGER NOT NULL DEFAULT 0,
						infos TEXT NOT NULL DEFAULT '{}',
						UNIQUE (pentest, ip, domain)
					)`,

					`CREATE TABLE IF NOT EXISTS users (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						domain TEXT NOT NULL DEFAULT '',
						username TEXT NOT NULL,
						password TEXT NOT NULL DEFAULT '',
						groups TEXT NOT NULL DEFAULT '[]',
						infos TEXT NOT NULL DEFAULT '{}',
						UNIQUE (pentest, domain, username)
					)`,

					`CREATE TABLE IF NOT EXISTS shares (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						ip TEXT NOT NULL,
						share TEXT NOT NULL,
						files TEXT NOT NULL DEFAULT '[]',
						UNIQUE (pentest, ip, share)
					)`,

					`CREATE TABLE IF NOT EXISTS notifications (
						id TEXT PRIMARY KEY,
						pentest TEXT NOT NULL,
						collection TEXT NOT NULL,
						iid TEXT NOT NULL,
						action TEXT NOT NULL,
						time DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_pentest ON notifications(pentest, time)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
		{
			Version:     4,
			Description: "create tag removal ledger",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS tag_removals (
						pentest TEXT NOT NULL,
						item_id TEXT NOT NULL,
						item_type TEXT NOT NULL,
						name TEXT NOT NULL,
						removed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						PRIMARY KEY (pentest, item_id, item_type, name)
					)`,
					`CREATE INDEX IF NOT EXISTS idx_tag_removals_name ON tag_removals(pentest, name)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
