package dataset

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mailsweep/mailsweep/internal/store"
)

// createTestSourceDB creates a source database with schema and test data:
// senderCount senders under "alice@example.com" plus three under
// "bob@example.com", and a couple of action log rows. Returns the path to
// the database.
func createTestSourceDB(t *testing.T, dir string, senderCount int) string {
	t.Helper()

	dbPath := filepath.Join(dir, "mailsweep.db")

	// Open once through the store so the migrations produce the real schema.
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	st.Close()

	// Insert test data directly
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	for i := 1; i <= senderCount; i++ {
		// Message counts descend with i so sender 1 is the busiest.
		_, err = db.Exec(`
			INSERT INTO senders (account, address, display_name, message_count,
			                     unread_count, has_unread, last_seen_ms,
			                     unsubscribe_url, enriched_unsubscribe_url)
			VALUES ('alice@example.com', ?, ?, ?, ?, ?, ?, ?, ?)`,
			fmt.Sprintf("news-%02d@sender.test", i),
			fmt.Sprintf("Newsletter %d", i),
			1000-i*10,
			i%5,
			boolToInt(i%5 != 0),
			1700000000000+int64(i)*1000,
			fmt.Sprintf("https://sender.test/unsub/%d", i),
			fmt.Sprintf("https://sender.test/enriched/%d", i))
		if err != nil {
			t.Fatalf("insert sender %d: %v", i, err)
		}
	}

	for i := 1; i <= 3; i++ {
		_, err = db.Exec(`
			INSERT INTO senders (account, address, display_name, message_count)
			VALUES ('bob@example.com', ?, ?, ?)`,
			fmt.Sprintf("deals-%02d@sender.test", i),
			fmt.Sprintf("Deals %d", i),
			500-i*10)
		if err != nil {
			t.Fatalf("insert bob sender %d: %v", i, err)
		}
	}

	_, err = db.Exec(`
		INSERT INTO action_log (job_id, account, action, status, progress_current, progress_total) VALUES
			('job_1', 'alice@example.com', 'analyze', 'success', 120, 120),
			('job_2', 'alice@example.com', 'delete', 'failed', 40, 90)`)
	if err != nil {
		t.Fatalf("insert action_log: %v", err)
	}

	return dbPath
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func TestCopySubset_Basic(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	srcDB := createTestSourceDB(t, srcDir, 10)

	result, err := CopySubset(srcDB, dstDir, 5)
	if err != nil {
		t.Fatalf("CopySubset: %v", err)
	}

	// 5 from alice plus all 3 of bob's (fewer than the per-account limit).
	if result.Senders != 8 {
		t.Errorf("Senders = %d, want 8", result.Senders)
	}
	if result.Jobs != 2 {
		t.Errorf("Jobs = %d, want 2", result.Jobs)
	}

	// Verify destination database
	db, err := sql.Open("sqlite3", filepath.Join(dstDir, "mailsweep.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int64
	if err := db.QueryRow("SELECT COUNT(*) FROM senders WHERE account = 'alice@example.com'").Scan(&count); err != nil {
		t.Fatalf("count alice senders: %v", err)
	}
	if count != 5 {
		t.Errorf("alice senders = %d, want 5", count)
	}

	// The busiest sender made the cut, the quietest did not.
	if err := db.QueryRow("SELECT COUNT(*) FROM senders WHERE address = 'news-01@sender.test'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Error("expected top sender news-01 to be copied")
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM senders WHERE address = 'news-10@sender.test'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("expected bottom sender news-10 to be excluded")
	}

	// Action log copied in full
	if err := db.QueryRow("SELECT COUNT(*) FROM action_log").Scan(&count); err != nil {
		t.Fatalf("count action_log: %v", err)
	}
	if count != 2 {
		t.Errorf("action_log rows = %d, want 2", count)
	}

	// Enrichment column survived the copy
	var enriched string
	if err := db.QueryRow("SELECT enriched_unsubscribe_url FROM senders WHERE address = 'news-01@sender.test'").Scan(&enriched); err != nil {
		t.Fatal(err)
	}
	if enriched != "https://sender.test/enriched/1" {
		t.Errorf("enriched_unsubscribe_url = %q, want copied value", enriched)
	}
}

func TestCopySubset_AllSenders(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	srcDB := createTestSourceDB(t, srcDir, 5)

	// Request more than available
	result, err := CopySubset(srcDB, dstDir, 100)
	if err != nil {
		t.Fatalf("CopySubset: %v", err)
	}

	if result.Senders != 8 {
		t.Errorf("Senders = %d, want 8 (all available)", result.Senders)
	}
}

func TestCopySubset_PerAccountLimit(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	srcDB := createTestSourceDB(t, srcDir, 10)

	result, err := CopySubset(srcDB, dstDir, 2)
	if err != nil {
		t.Fatalf("CopySubset: %v", err)
	}

	// 2 from each account, not 2 total.
	if result.Senders != 4 {
		t.Errorf("Senders = %d, want 4", result.Senders)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dstDir, "mailsweep.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT account, COUNT(*) FROM senders GROUP BY account")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var account string
		var count int64
		if err := rows.Scan(&account, &count); err != nil {
			t.Fatal(err)
		}
		if count != 2 {
			t.Errorf("account %s has %d senders, want 2", account, count)
		}
	}
}

func TestCopySubset_MigratedSchema(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	srcDB := createTestSourceDB(t, srcDir, 3)

	if _, err := CopySubset(srcDB, dstDir, 3); err != nil {
		t.Fatalf("CopySubset: %v", err)
	}

	// The destination must be a fully migrated database, usable by the store.
	st, err := store.Open(filepath.Join(dstDir, "mailsweep.db"))
	if err != nil {
		t.Fatalf("store.Open on copy: %v", err)
	}
	defer st.Close()

	senders, err := st.ListSenders("alice@example.com")
	if err != nil {
		t.Fatalf("ListSenders: %v", err)
	}
	if len(senders) != 3 {
		t.Errorf("ListSenders = %d rows, want 3", len(senders))
	}
}

func TestCopySubset_SchemaVersionMismatch(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	srcDB := createTestSourceDB(t, srcDir, 3)

	// Simulate a source written by a newer mailsweep.
	db, err := sql.Open("sqlite3", srcDB)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	db.Close()

	_, err = CopySubset(srcDB, dstDir, 3)
	if err == nil {
		t.Fatal("CopySubset should fail on schema version mismatch")
	}
	if !strings.Contains(err.Error(), "schema version") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCopySubset_DestinationEmptyDir(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	srcDB := createTestSourceDB(t, srcDir, 5)

	// Create destination directory (but not the database file).
	// MkdirAll is idempotent so CopySubset should succeed.
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		t.Fatal(err)
	}

	result, err := CopySubset(srcDB, dstDir, 5)
	if err != nil {
		t.Fatalf("CopySubset with pre-existing empty dir: %v", err)
	}

	if result.Senders != 8 {
		t.Errorf("Senders = %d, want 8", result.Senders)
	}

	// Verify database was actually created
	if _, err := os.Stat(filepath.Join(dstDir, "mailsweep.db")); err != nil {
		t.Errorf("mailsweep.db not created in pre-existing directory: %v", err)
	}
}

func TestCopySubset_DestinationDBExists(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	srcDB := createTestSourceDB(t, srcDir, 5)

	// Create destination directory with an existing database file.
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dstDir, "mailsweep.db"), []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := CopySubset(srcDB, dstDir, 5)
	if err == nil {
		t.Fatal("CopySubset should fail when destination database already exists")
	}
	if !strings.Contains(err.Error(), "destination database already exists") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCopySubset_SQLInjectionInPath(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := filepath.Join(t.TempDir(), "dst")

	// Create source DB with a name containing single quotes
	quotedDir := filepath.Join(srcDir, "test'db")
	if err := os.MkdirAll(quotedDir, 0755); err != nil {
		t.Fatal(err)
	}
	srcDB := createTestSourceDB(t, quotedDir, 3)

	// This should work without SQL injection
	result, err := CopySubset(srcDB, dstDir, 100)
	if err != nil {
		t.Fatalf("CopySubset with quoted path: %v", err)
	}
	if result.Senders != 6 {
		t.Errorf("Senders = %d, want 6", result.Senders)
	}
}

func TestCopySubset_ControlCharInPath(t *testing.T) {
	dstDir := filepath.Join(t.TempDir(), "dst")
	base := t.TempDir()

	// Paths with control characters should be rejected.
	// These are expected to fail before any file I/O (rejected by the
	// control character check), so the paths need not exist on disk.
	controlPaths := []string{
		filepath.Join(base, "test\ndb", "mailsweep.db"),   // newline
		filepath.Join(base, "test\tdb", "mailsweep.db"),   // tab
		filepath.Join(base, "test\x7Fdb", "mailsweep.db"), // DEL
		filepath.Join(base, "test\x01db", "mailsweep.db"), // SOH
	}
	for _, p := range controlPaths {
		_, err := CopySubset(p, dstDir, 5)
		if err == nil {
			t.Errorf("CopySubset(%q) = nil error, want control character rejection", p)
		}
	}
}

func TestCopyFileIfExists(t *testing.T) {
	dir := t.TempDir()

	// Test with existing file
	srcFile := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(srcFile, []byte("[gmail]\nrate_limit_qps = 5\n"), 0644); err != nil {
		t.Fatal(err)
	}

	dstFile := filepath.Join(dir, "dst-config.toml")
	if err := CopyFileIfExists(srcFile, dstFile, dir); err != nil {
		t.Fatalf("CopyFileIfExists: %v", err)
	}

	content, err := os.ReadFile(dstFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "[gmail]\nrate_limit_qps = 5\n" {
		t.Errorf("copied content = %q, want original", string(content))
	}

	// Test with non-existent file (should not error)
	if err := CopyFileIfExists(filepath.Join(dir, "nonexistent"), filepath.Join(dir, "out"), dir); err != nil {
		t.Fatalf("CopyFileIfExists for missing file: %v", err)
	}

	// Test with relative paths (should error)
	if err := CopyFileIfExists("relative/path", filepath.Join(dir, "out"), dir); err == nil {
		t.Error("expected error for relative source path")
	}
}

func TestCopyFileIfExists_SymlinkEscape(t *testing.T) {
	// Create a dataset directory and an outside directory
	datasetDir := t.TempDir()
	outsideDir := t.TempDir()

	// Create a file outside the dataset
	outsideFile := filepath.Join(outsideDir, "secret.txt")
	if err := os.WriteFile(outsideFile, []byte("secret"), 0644); err != nil {
		t.Fatal(err)
	}

	// Create a symlink inside the dataset pointing outside
	symlinkPath := filepath.Join(datasetDir, "escape.txt")
	if err := os.Symlink(outsideFile, symlinkPath); err != nil {
		t.Fatal(err)
	}

	dstDir := t.TempDir()
	dstFile := filepath.Join(dstDir, "out.txt")
	err := CopyFileIfExists(symlinkPath, dstFile, datasetDir)
	if err == nil {
		t.Error("expected error for symlink escaping containDir")
	}
}
