// Package store owns the SQLite database every Pollenisator module
// persists into. Engagement data, the worker fleet and autoscan state all
// share one file; each module brings its own migrations and table prefix.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fbarre96/pollenisator/pkg/plugin"
	"golang.org/x/mod/semver"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNewerSchema is returned when the database was created by a newer version
// of Pollenisator than the currently running binary.
var ErrNewerSchema = fmt.Errorf("database was created by a newer version of Pollenisator")

// Compile-time interface guard.
var _ plugin.Store = (*SQLiteStore)(nil)

// connPragmas are applied to every connection the pool opens. busy_timeout
// keeps a waiting writer from surfacing SQLITE_BUSY to the modules;
// journal_mode=WAL lets the scan-result ingest write while API readers run.
var connPragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
	"cache_size(-20000)",
	"temp_store(MEMORY)",
}

// SQLiteStore implements plugin.Store over modernc.org/sqlite.
type SQLiteStore struct {
	db   *sql.DB
	mu   sync.Mutex // serialize migration runs across modules
	once sync.Once  // _migrations table bootstrap
}

// New opens (or creates) the database at path. The pragma set is carried in
// the DSN, so it holds for every pooled connection, not only the first one.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// A single writer connection; WAL keeps readers concurrent with it.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Ready(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return s, nil
}

// dsn appends the connection pragmas as _pragma query parameters, which the
// modernc driver replays on each new connection.
func dsn(path string) string {
	params := make(url.Values, 1)
	for _, p := range connPragmas {
		params.Add("_pragma", p)
	}
	sep := "?"
	if strings.ContainsRune(path, '?') {
		sep = "&"
	}
	return path + sep + params.Encode()
}

// Ready verifies the database answers a trivial query. Wired into the
// readiness probe.
func (s *SQLiteStore) Ready(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	return nil
}

// DB returns the underlying *sql.DB for direct queries.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Tx executes fn within a transaction, committed when fn returns nil and
// rolled back otherwise.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

// Migrate brings the named module's schema up to date. Migrations must be
// listed in ascending Version order; everything at or below the module's
// recorded high-water mark is skipped, the rest runs one transaction per
// step so a failing step leaves the previous ones applied.
func (s *SQLiteStore) Migrate(ctx context.Context, moduleName string, migrations []plugin.Migration) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	applied, err := s.appliedVersion(ctx, moduleName)
	if err != nil {
		return err
	}

	prev := 0
	for _, m := range migrations {
		if m.Version <= prev {
			return fmt.Errorf("migration %s/%d: versions must be ascending", moduleName, m.Version)
		}
		prev = m.Version
		if m.Version <= applied {
			continue
		}
		if err := s.applyMigration(ctx, moduleName, m); err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", moduleName, m.Version, m.Description, err)
		}
	}

	return nil
}

// CheckVersion refuses to open a database written by a newer Pollenisator
// than this binary, and otherwise records the binary's version. "dev"
// bypasses the comparison in both directions, so local builds can open
// anything.
func (s *SQLiteStore) CheckVersion(ctx context.Context, currentVersion string) error {
	if err := s.ensureSchemaMetaTable(ctx); err != nil {
		return fmt.Errorf("ensure schema meta table: %w", err)
	}

	stored, found, err := s.schemaVersion(ctx)
	if err != nil {
		return err
	}
	if !found || stored == "dev" || currentVersion == "dev" {
		return s.recordSchemaVersion(ctx, currentVersion)
	}

	switch semver.Compare(normalizeVersion(currentVersion), normalizeVersion(stored)) {
	case -1:
		return fmt.Errorf("%w: database=%s, binary=%s", ErrNewerSchema, stored, currentVersion)
	case 0:
		return nil
	default:
		return s.recordSchemaVersion(ctx, currentVersion)
	}
}

func (s *SQLiteStore) schemaVersion(ctx context.Context) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		"SELECT app_version FROM _schema_meta WHERE id = 1",
	).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query schema version: %w", err)
	}
	return v, true, nil
}

func (s *SQLiteStore) recordSchemaVersion(ctx context.Context, v string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _schema_meta (id, app_version, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET app_version = excluded.app_version,
		                              updated_at = CURRENT_TIMESTAMP`,
		v,
	)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureSchemaMetaTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _schema_meta (
			id           INTEGER  PRIMARY KEY CHECK (id = 1),
			app_version  TEXT     NOT NULL,
			updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// normalizeVersion gives the version the "v" prefix semver.Compare expects.
func normalizeVersion(v string) string {
	if v != "" && v[0] != 'v' {
		return "v" + v
	}
	return v
}

func (s *SQLiteStore) ensureMigrationsTable(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				module_name TEXT    NOT NULL,
				version     INTEGER NOT NULL,
				description TEXT    NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (module_name, version)
			)
		`)
	})
	return err
}

// appliedVersion returns the module's migration high-water mark, 0 when none
// has run yet.
func (s *SQLiteStore) appliedVersion(ctx context.Context, moduleName string) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM _migrations WHERE module_name = ?",
		moduleName,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read migration state for %s: %w", moduleName, err)
	}
	return v, nil
}

// applyMigration runs one step and its bookkeeping in a single transaction.
func (s *SQLiteStore) applyMigration(ctx context.Context, moduleName string, m plugin.Migration) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Up(tx); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			"INSERT INTO _migrations (module_name, version, description) VALUES (?, ?, ?)",
			moduleName, m.Version, m.Description,
		)
		return err
	})
}
