package store

import (
	"database/sql"
	"net/url"
	"path/filepath"
	"testing"
)

func testRawDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	u := url.URL{Scheme: "file", Path: path}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrationsFreshDB(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='tokens'").Scan(&count); err != nil {
		t.Fatalf("check tokens: %v", err)
	}
	if count != 1 {
		t.Fatal("tokens table not created")
	}
}

func TestRunMigrationsIdempotent(t *testing.T) {
	db := testRawDB(t)

	if err := runMigrations(db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := runMigrations(db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	version, err := currentVersion(db)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected version 2, got %d", version)
	}
}

func TestMigrationPlan(t *testing.T) {
	db := testRawDB(t)

	plan, err := MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.CurrentVersion != 0 {
		t.Fatalf("expected current 0, got %d", plan.CurrentVersion)
	}
	if plan.AvailableVersion != 2 {
		t.Fatalf("expected available 2, got %d", plan.AvailableVersion)
	}
	if len(plan.Pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(plan.Pending))
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	plan, err = MigrationPlan(db)
	if err != nil {
		t.Fatalf("plan after migrate: %v", err)
	}
	if plan.CurrentVersion != 2 || len(plan.Pending) != 0 {
		t.Fatalf("expected fully migrated plan, got %#v", plan)
	}
}

func TestMigration002AddsExpiry(t *testing.T) {
	db := testRawDB(t)
	if err := runMigrations(db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	_, err := db.Exec(`INSERT INTO tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ('tk-1', 'ichi', 'abc', '2024-01-01T00:00:00.000000000Z', '2025-01-01T00:00:00.000000000Z')`)
	if err != nil {
		t.Fatalf("insert with expires_at: %v", err)
	}

	var expires string
	if err := db.QueryRow("SELECT expires_at FROM tokens WHERE id = 'tk-1'").Scan(&expires); err != nil {
		t.Fatalf("query expires_at: %v", err)
	}
	if expires != "2025-01-01T00:00:00.000000000Z" {
		t.Fatalf("unexpected expires_at %q", expires)
	}
}
