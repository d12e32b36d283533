package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"
)

func TestMigrateNewDB(t *testing.T) {
	db := openTestDB(t)

	version, err := getSchemaVersion(db.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestMigrateCreatesWarehouseTables(t *testing.T) {
	db := openTestDB(t)

	for table := range knownTables {
		var name string
		err := db.conn.QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrateIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "idem.db")

	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	version, err := getSchemaVersion(db2.conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != latestVersion() {
		t.Errorf("expected version %d, got %d", latestVersion(), version)
	}
}

func TestGetSchemaVersionNewDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	version, err := getSchemaVersion(conn)
	if err != nil {
		t.Fatalf("getSchemaVersion: %v", err)
	}
	if version != 0 {
		t.Errorf("expected version 0 on new db, got %d", version)
	}
}

func TestMigrateLogsEachMigration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "logged.db")
	core, logs := observer.New(zap.InfoLevel)

	db, err := Open(dbPath, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	applied := logs.FilterMessage("applying migration").All()
	if len(applied) != len(migrations) {
		t.Fatalf("expected %d migration entries, got %d", len(migrations), len(applied))
	}
	for i, entry := range applied {
		fields := entry.ContextMap()
		if got := fields["version"]; got != int64(migrations[i].Version) {
			t.Errorf("entry %d: expected version %d, got %v", i, migrations[i].Version, got)
		}
		if got := fields["description"]; got != migrations[i].Description {
			t.Errorf("entry %d: expected description %q, got %v", i, migrations[i].Description, got)
		}
		if entry.LoggerName != "database" {
			t.Errorf("entry %d: expected logger name database, got %q", i, entry.LoggerName)
		}
	}
	if n := logs.FilterMessage("warehouse schema migrated").Len(); n != 1 {
		t.Errorf("expected one summary entry, got %d", n)
	}

	// An up-to-date warehouse applies nothing.
	core, logs = observer.New(zap.InfoLevel)
	db, err = Open(dbPath, WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	if n := logs.Len(); n != 0 {
		t.Errorf("expected no migration entries on reopen, got %d", n)
	}
}
