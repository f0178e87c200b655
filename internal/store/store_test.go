package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fbarre96/pollenisator/pkg/plugin"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "pollenisator.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// appliedCount reads the _migrations bookkeeping for one module.
func appliedCount(t *testing.T, s *SQLiteStore, module string) int {
	t.Helper()
	var n int
	err := s.DB().QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM _migrations WHERE module_name = ?", module,
	).Scan(&n)
	if err != nil {
		t.Fatalf("count migrations for %s: %v", module, err)
	}
	return n
}

func TestNew(t *testing.T) {
	t.Run("creates database file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "fresh.db")
		s, err := New(path)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		defer s.Close()
		if _, err := os.Stat(path); err != nil {
			t.Errorf("database file missing: %v", err)
		}
		if s.DB() == nil {
			t.Error("DB() returned nil")
		}
	})

	t.Run("rejects unwritable path", func(t *testing.T) {
		if _, err := New("/nonexistent/dir/pollenisator.db"); err == nil {
			t.Error("expected error for unwritable path")
		}
	})
}

func TestNew_AppliesPragmas(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	var journal string
	if err := s.DB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	if journal != "wal" {
		t.Errorf("journal_mode = %q, want wal", journal)
	}

	for pragma, want := range map[string]int{
		"PRAGMA foreign_keys": 1,
		"PRAGMA temp_store":   2, // MEMORY
	} {
		var got int
		if err := s.DB().QueryRowContext(ctx, pragma).Scan(&got); err != nil {
			t.Fatalf("%s: %v", pragma, err)
		}
		if got != want {
			t.Errorf("%s = %d, want %d", pragma, got, want)
		}
	}
}

func TestTx(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	if _, err := s.DB().ExecContext(ctx,
		"CREATE TABLE waves (iid TEXT PRIMARY KEY, name TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	t.Run("commits on nil", func(t *testing.T) {
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO waves (iid, name) VALUES ('w1', 'external')")
			return err
		})
		if err != nil {
			t.Fatalf("Tx: %v", err)
		}
		var name string
		if err := s.DB().QueryRowContext(ctx,
			"SELECT name FROM waves WHERE iid = 'w1'").Scan(&name); err != nil {
			t.Fatalf("read back: %v", err)
		}
		if name != "external" {
			t.Errorf("name = %q, want external", name)
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		failure := errors.New("scope check failed")
		err := s.Tx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO waves (iid, name) VALUES ('w2', 'internal')"); err != nil {
				return err
			}
			return failure
		})
		if !errors.Is(err, failure) {
			t.Fatalf("Tx error = %v, want %v", err, failure)
		}
		var n int
		if err := s.DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM waves WHERE iid = 'w2'").Scan(&n); err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 0 {
			t.Error("rolled-back insert is visible")
		}
	})
}

func TestMigrate_AppliesInOrderOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	runs := 0
	migrations := []plugin.Migration{
		{Version: 1, Description: "create hosts", Up: func(tx *sql.Tx) error {
			runs++
			_, err := tx.Exec("CREATE TABLE entity_hosts (iid TEXT PRIMARY KEY, ip TEXT)")
			return err
		}},
		{Version: 2, Description: "add notes", Up: func(tx *sql.Tx) error {
			runs++
			_, err := tx.Exec("ALTER TABLE entity_hosts ADD COLUMN notes TEXT")
			return err
		}},
	}

	if err := s.Migrate(ctx, "entities", migrations); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Both columns usable, so version 2 ran after version 1.
	if _, err := s.DB().ExecContext(ctx,
		"INSERT INTO entity_hosts (iid, ip, notes) VALUES ('h1', '10.0.0.1', 'dc candidate')"); err != nil {
		t.Fatalf("insert after migrate: %v", err)
	}
	if got := appliedCount(t, s, "entities"); got != 2 {
		t.Errorf("recorded migrations = %d, want 2", got)
	}

	// Second run is a no-op.
	if err := s.Migrate(ctx, "entities", migrations); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if runs != 2 {
		t.Errorf("Up ran %d times, want 2", runs)
	}
}

func TestMigrate_ModulesTrackedIndependently(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Both modules use version 1; the tracking key includes the module name.
	mk := func(table string) []plugin.Migration {
		return []plugin.Migration{
			{Version: 1, Description: "create " + table, Up: func(tx *sql.Tx) error {
				_, err := tx.Exec("CREATE TABLE " + table + " (iid TEXT PRIMARY KEY)")
				return err
			}},
		}
	}
	if err := s.Migrate(ctx, "fleet", mk("fleet_workers")); err != nil {
		t.Fatalf("fleet Migrate: %v", err)
	}
	if err := s.Migrate(ctx, "ingest", mk("ingest_results")); err != nil {
		t.Fatalf("ingest Migrate: %v", err)
	}

	for _, table := range []string{"fleet_workers", "ingest_results"} {
		var name string
		err := s.DB().QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_FailedStepNotRecorded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	migrations := []plugin.Migration{
		{Version: 1, Description: "create tools", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE entity_tools (iid TEXT PRIMARY KEY)")
			return err
		}},
		{Version: 2, Description: "broken", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("ALTER TABLE no_such_table ADD COLUMN x TEXT")
			return err
		}},
	}

	if err := s.Migrate(ctx, "entities", migrations); err == nil {
		t.Fatal("expected error from broken migration")
	}
	// Version 1 committed, version 2 rolled back.
	if got := appliedCount(t, s, "entities"); got != 1 {
		t.Errorf("recorded migrations = %d, want 1", got)
	}
	if _, err := s.DB().ExecContext(ctx,
		"INSERT INTO entity_tools (iid) VALUES ('t1')"); err != nil {
		t.Errorf("version 1 table unusable: %v", err)
	}
}

func TestMigrate_RejectsOutOfOrderVersions(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	noop := func(tx *sql.Tx) error { return nil }
	migrations := []plugin.Migration{
		{Version: 2, Description: "second", Up: noop},
		{Version: 1, Description: "first", Up: noop},
	}
	if err := s.Migrate(ctx, "entities", migrations); err == nil {
		t.Fatal("expected error for descending versions")
	}
}

func TestReady(t *testing.T) {
	s := newStore(t)
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
}

func TestClose(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.DB().PingContext(context.Background()); err == nil {
		t.Error("ping succeeded on closed store")
	}
}

func TestCheckVersion(t *testing.T) {
	storedVersion := func(t *testing.T, s *SQLiteStore) string {
		t.Helper()
		var v string
		err := s.DB().QueryRowContext(context.Background(),
			"SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&v)
		if err != nil {
			t.Fatalf("read stored version: %v", err)
		}
		return v
	}

	t.Run("first run records version", func(t *testing.T) {
		s := newStore(t)
		if err := s.CheckVersion(context.Background(), "1.2.0"); err != nil {
			t.Fatalf("CheckVersion: %v", err)
		}
		if got := storedVersion(t, s); got != "1.2.0" {
			t.Errorf("stored = %q, want 1.2.0", got)
		}
	})

	t.Run("upgrades advance the stored version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, v := range []string{"1.2.0", "1.2.1", "1.3.0"} {
			if err := s.CheckVersion(ctx, v); err != nil {
				t.Fatalf("CheckVersion(%s): %v", v, err)
			}
		}
		if got := storedVersion(t, s); got != "1.3.0" {
			t.Errorf("stored = %q, want 1.3.0", got)
		}
	})

	t.Run("older binary rejected against newer database", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.CheckVersion(ctx, "1.3.0"); err != nil {
			t.Fatalf("seed version: %v", err)
		}
		err := s.CheckVersion(ctx, "1.2.0")
		if !errors.Is(err, ErrNewerSchema) {
			t.Fatalf("CheckVersion error = %v, want ErrNewerSchema", err)
		}
	})

	t.Run("dev bypasses the comparison", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for _, v := range []string{"dev", "1.3.0", "dev"} {
			if err := s.CheckVersion(ctx, v); err != nil {
				t.Fatalf("CheckVersion(%s): %v", v, err)
			}
		}
	})
}
