package dataset

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/mailsweep/mailsweep/internal/store"
)

// CopyResult holds the summary of a dataset copy operation.
type CopyResult struct {
	Senders int64
	Jobs    int64
	DBSize  int64
	Elapsed time.Duration
}

// CopySubset copies the senderCount most-messaged senders per account (and the
// full action log) from srcDBPath into a new database in dstDir. The
// destination schema is created by opening it with the store, which applies
// the embedded migrations.
func CopySubset(srcDBPath, dstDir string, senderCount int) (*CopyResult, error) {
	start := time.Now()

	// Track whether we created the directory so cleanup only removes what we made.
	createdDir := false
	if _, err := os.Stat(dstDir); os.IsNotExist(err) {
		createdDir = true
	}

	// Create destination directory
	if err := os.MkdirAll(dstDir, 0700); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}

	// cleanupDir removes the destination only if CopySubset created it.
	cleanupDir := func() {
		if createdDir {
			_ = os.RemoveAll(dstDir)
		}
	}

	dstDBPath := filepath.Join(dstDir, "mailsweep.db")
	if Exists(dstDBPath) {
		cleanupDir()
		return nil, fmt.Errorf("destination database already exists: %s", dstDBPath)
	}

	// Phase 1: create the destination DB with the current schema. Open runs
	// the migrations, so the copy below can assume the latest column set.
	st, err := store.Open(dstDBPath)
	if err != nil {
		cleanupDir()
		return nil, fmt.Errorf("create destination database: %w", err)
	}
	wantVersion, err := st.SchemaVersion()
	if err != nil {
		_ = st.Close()
		cleanupDir()
		return nil, fmt.Errorf("read destination schema version: %w", err)
	}
	if err := st.Close(); err != nil {
		cleanupDir()
		return nil, fmt.Errorf("close schema database: %w", err)
	}

	// Phase 2: re-open for the bulk copy. The schema has no cross-table
	// foreign keys, so the store's default pragmas are fine here.
	dsn := dstDBPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		cleanupDir()
		return nil, fmt.Errorf("reopen database: %w", err)
	}
	// NOTE: On error paths, cleanupDir() may remove the DB file before this
	// deferred Close runs. That is harmless; Close on a deleted file is a no-op.
	defer db.Close()

	// Canonicalize the source path before it is spliced into ATTACH.
	// CopySubset is public and must not trust its inputs.
	srcDBPath, err = filepath.Abs(filepath.Clean(srcDBPath))
	if err != nil {
		cleanupDir()
		return nil, fmt.Errorf("canonicalize source path: %w", err)
	}
	// Reject control characters (null, newline, tab, etc.) that have no
	// business in a filesystem path and could interfere with SQL parsing.
	for _, r := range srcDBPath {
		if r < 0x20 || r == 0x7F {
			cleanupDir()
			return nil, fmt.Errorf("source database path contains control character (0x%02X)", r)
		}
	}
	escapedSrcPath := strings.ReplaceAll(srcDBPath, "'", "''")

	// Attach source database
	attachSQL := fmt.Sprintf("ATTACH DATABASE '%s' AS src", escapedSrcPath)
	if _, err := db.Exec(attachSQL); err != nil {
		cleanupDir()
		return nil, fmt.Errorf("attach source database: %w", err)
	}

	// The explicit column lists below only line up when both databases are
	// at the same schema version.
	var srcVersion int
	if err := db.QueryRow("PRAGMA src.user_version").Scan(&srcVersion); err != nil {
		_, _ = db.Exec("DETACH DATABASE src")
		cleanupDir()
		return nil, fmt.Errorf("read source schema version: %w", err)
	}
	if srcVersion != wantVersion {
		_, _ = db.Exec("DETACH DATABASE src")
		cleanupDir()
		return nil, fmt.Errorf("source schema version is %d, want %d; open the source with mailsweep to migrate it first", srcVersion, wantVersion)
	}

	// Begin transaction for bulk copy
	tx, err := db.Begin()
	if err != nil {
		cleanupDir()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	result, err := copyData(tx, senderCount)
	if err != nil {
		_ = tx.Rollback()
		_, _ = db.Exec("DETACH DATABASE src")
		cleanupDir()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		_, _ = db.Exec("DETACH DATABASE src")
		cleanupDir()
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	// Detach source
	if _, err := db.Exec("DETACH DATABASE src"); err != nil {
		cleanupDir()
		return nil, fmt.Errorf("detach source database: %w", err)
	}

	// Get final DB size
	if info, err := os.Stat(dstDBPath); err == nil {
		result.DBSize = info.Size()
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

// copyData executes the INSERT INTO ... SELECT statements for the subset.
func copyData(tx *sql.Tx, senderCount int) (*CopyResult, error) {
	result := &CopyResult{}

	// a. Select the top senders per account, in the same order the senders
	// list renders them (message count descending, address as tie-break).
	if _, err := tx.Exec(`
		CREATE TEMP TABLE selected_senders AS
		SELECT account, address FROM (
			SELECT account, address,
			       ROW_NUMBER() OVER (PARTITION BY account
			                          ORDER BY message_count DESC, address ASC) AS rank
			FROM src.senders
		) WHERE rank <= ?`, senderCount); err != nil {
		return nil, fmt.Errorf("select senders: %w", err)
	}

	// Count actual selected senders
	if err := tx.QueryRow("SELECT COUNT(*) FROM selected_senders").Scan(&result.Senders); err != nil {
		return nil, fmt.Errorf("count selected senders: %w", err)
	}

	// b. Sender aggregates. Columns are named so a stray ordering difference
	// between the two databases cannot scramble values.
	if _, err := tx.Exec(`
		INSERT INTO senders (account, address, display_name, name_variants,
		                     message_count, unread_count, has_unread, last_seen_ms,
		                     unsubscribe_url, unsubscribe_mailto, unsubscribe_subject,
		                     unsubscribe_one_click, updated_at, enriched_unsubscribe_url)
		SELECT s.account, s.address, s.display_name, s.name_variants,
		       s.message_count, s.unread_count, s.has_unread, s.last_seen_ms,
		       s.unsubscribe_url, s.unsubscribe_mailto, s.unsubscribe_subject,
		       s.unsubscribe_one_click, s.updated_at, s.enriched_unsubscribe_url
		FROM src.senders s
		JOIN selected_senders sel
		  ON sel.account = s.account AND sel.address = s.address`); err != nil {
		return nil, fmt.Errorf("copy senders: %w", err)
	}

	// c. Action log (all rows; it is bounded history and useful for testing
	// the jobs listing against realistic data)
	res, err := tx.Exec(`
		INSERT INTO action_log (job_id, account, action, status,
		                        progress_current, progress_total, error_message,
		                        created_at, updated_at, completed_at)
		SELECT a.job_id, a.account, a.action, a.status,
		       a.progress_current, a.progress_total, a.error_message,
		       a.created_at, a.updated_at, a.completed_at
		FROM src.action_log a`)
	if err != nil {
		return nil, fmt.Errorf("copy action_log: %w", err)
	}
	if result.Jobs, err = res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("action_log rows affected: %w", err)
	}

	// Clean up temp table. On rollback this DROP won't execute, but that's
	// fine; temp tables are connection-scoped and cleaned up on db.Close().
	if _, err := tx.Exec("DROP TABLE IF EXISTS selected_senders"); err != nil {
		return nil, fmt.Errorf("drop temp table: %w", err)
	}

	return result, nil
}

func isSafeFilename(filename string) bool {
	// Reject absolute paths and those with null bytes or path separators
	if filepath.IsAbs(filename) || strings.ContainsAny(filename, "\x00/\\") {
		return false
	}
	// Clean and check for traversal (ensures no ".." escapes)
	cleaned := filepath.Clean(filename)
	return filepath.IsLocal(cleaned)
}

// CopyFileIfExists copies a single file from src to dst.
// Returns nil if the source file does not exist.
// Both paths must be absolute. containDir is the root directory that src
// must resolve within after symlink resolution (e.g. the dataset root).
// This prevents a symlink in the source dataset from reading files outside
// the dataset.
func CopyFileIfExists(src, dst, containDir string) error {
	// Validate paths are absolute
	if !filepath.IsAbs(src) || !filepath.IsAbs(dst) {
		return fmt.Errorf("paths must be absolute: src=%q, dst=%q", src, dst)
	}
	if !filepath.IsAbs(containDir) {
		return fmt.Errorf("containDir must be absolute: %q", containDir)
	}

	// Resolve symlinks in src and verify containment within containDir.
	resolvedSrc, err := filepath.EvalSymlinks(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("resolve source file %s: %w", src, err)
	}
	resolvedContainDir, err := filepath.EvalSymlinks(containDir)
	if err != nil {
		return fmt.Errorf("resolve contain directory %s: %w", containDir, err)
	}
	rel, err := filepath.Rel(resolvedContainDir, resolvedSrc)
	if err != nil || !isSafeFilename(rel) {
		return fmt.Errorf("source file %s resolves outside %s (symlink escape)", src, containDir)
	}

	srcFile, err := os.Open(resolvedSrc)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open source file %s: %w", src, err)
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination file %s: %w", dst, err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}

	if err := dstFile.Sync(); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("sync destination file %s: %w", dst, err)
	}

	if err := dstFile.Close(); err != nil {
		return fmt.Errorf("close destination file %s: %w", dst, err)
	}

	return nil
}
