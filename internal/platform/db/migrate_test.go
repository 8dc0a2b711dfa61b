package db

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadMigrationsSortedByVersion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "002_values.sql", "CREATE TABLE b (id INT);")
	writeFile(t, dir, "001_definitions.sql", "CREATE TABLE a (id INT);")
	writeFile(t, dir, "010_measures.sql", "CREATE TABLE c (id INT);")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("got %d migrations, want 3", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, mig := range migrations {
		if mig.Version != want[i] {
			t.Errorf("migration %d version = %d, want %d", i, mig.Version, want[i])
		}
	}
}

func TestLoadMigrationsSkipsUnversionedFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "001_core.sql", "SELECT 1;")
	writeFile(t, dir, "README.md", "not a migration")
	writeFile(t, dir, "notes.sql", "no numeric prefix")

	m := NewMigrator(nil, dir)
	migrations, err := m.LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 1 || migrations[0].Name != "001_core.sql" {
		t.Errorf("migrations = %+v, want only 001_core.sql", migrations)
	}
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	m := NewMigrator(nil, filepath.Join(t.TempDir(), "missing"))
	if _, err := m.LoadMigrations(); err == nil {
		t.Error("expected error for missing migrations directory")
	}
}
