package database

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return db
}

func TestOpen_CreatesFileAndDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "labaccess.db")

	db, err := Open(Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}
}

func TestMigrate_NoEmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)

	// With no MigrationsFS registered, Migrate is a no-op.
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() error: %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		wantVersion string
		wantUp      bool
		wantOK      bool
	}{
		{"20260315_100000_initial_schema.up.sql", "20260315_100000", true, true},
		{"20260315_100000_initial_schema.down.sql", "20260315_100000", false, true},
		{"notes.txt", "", false, false},
		{"badname.sql", "", false, false},
		{"20260315_100000_missing_direction.sql", "", false, false},
	}

	for _, tt := range tests {
		version, isUp, ok := parseMigrationFilename(tt.name)
		if version != tt.wantVersion || isUp != tt.wantUp || ok != tt.wantOK {
			t.Errorf("parseMigrationFilename(%q) = (%q, %v, %v), want (%q, %v, %v)",
				tt.name, version, isUp, ok, tt.wantVersion, tt.wantUp, tt.wantOK)
		}
	}
}

func TestExtractMigrationName(t *testing.T) {
	got := extractMigrationName("20260315_100000_initial_schema.up.sql")
	if got != "initial_schema" {
		t.Errorf("extractMigrationName() = %q, want initial_schema", got)
	}
}
