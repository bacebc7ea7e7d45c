package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen_Pragmas(t *testing.T) {
	d := openTestDB(t)

	var mode string
	if err := d.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := d.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestMigrations(t *testing.T) {
	d := openTestDB(t)

	v, dirty, err := d.MigrateVersion()
	if err != nil || v != 0 || dirty {
		t.Fatalf("fresh version = %d, %v, %v", v, dirty, err)
	}

	if err := d.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	// A second run is a no-op.
	if err := d.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp again: %v", err)
	}
	v, dirty, err = d.MigrateVersion()
	if err != nil || v != 2 || dirty {
		t.Fatalf("version = %d, %v, %v; want 2", v, dirty, err)
	}

	for _, table := range []string{"keypoint_runs", "keypoint_shape_results", "keypoint_category_scores"} {
		var n int
		if err := d.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}

	if err := d.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	v, _, err = d.MigrateVersion()
	if err != nil || v != 1 {
		t.Errorf("version after down = %d, %v; want 1", v, err)
	}
}
