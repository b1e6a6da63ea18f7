package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadMigrations_ParsesAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "002_audit.sql", "CREATE TABLE payment_logs ();")
	writeMigration(t, dir, "001_core.sql", "CREATE TABLE billing_line_items ();")
	writeMigration(t, dir, "010_indexes.sql", "CREATE INDEX idx ON billing_line_items (id);")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("loaded %d migrations, want 3", len(migrations))
	}
	wantVersions := []int{1, 2, 10}
	wantNames := []string{"001_core.sql", "002_audit.sql", "010_indexes.sql"}
	for i, mig := range migrations {
		if mig.Version != wantVersions[i] {
			t.Errorf("migration %d: version = %d, want %d", i, mig.Version, wantVersions[i])
		}
		if mig.Name != wantNames[i] {
			t.Errorf("migration %d: name = %s, want %s", i, mig.Name, wantNames[i])
		}
		if mig.SQL == "" {
			t.Errorf("migration %d: empty SQL", i)
		}
	}
}

func TestLoadMigrations_SkipsNonMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_core.sql", "SELECT 1;")
	writeMigration(t, dir, "README.md", "not a migration")
	writeMigration(t, dir, "notes.sql", "missing version prefix")
	writeMigration(t, dir, "abc_bad.sql", "non-numeric prefix")
	if err := os.Mkdir(filepath.Join(dir, "archive"), 0o755); err != nil {
		t.Fatal(err)
	}

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_core.sql" {
		t.Fatalf("migrations = %+v, want only 001_core.sql", migrations)
	}
}

func TestLoadMigrations_MissingDir(t *testing.T) {
	m := NewMigrator(nil, filepath.Join(t.TempDir(), "does-not-exist"))
	if _, err := m.LoadMigrations(); err == nil {
		t.Fatal("expected an error for a missing migrations directory")
	}
}
