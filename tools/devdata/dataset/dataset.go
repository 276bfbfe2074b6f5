// Package dataset provides filesystem operations for managing mailsweep datasets.
package dataset

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var validDatasetName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateDatasetName checks that name contains only safe characters [a-zA-Z0-9_-].
// This prevents path traversal and SQL injection via dataset names used to
// construct filesystem paths and SQLite ATTACH statements.
func ValidateDatasetName(name string) error {
	if name == "" {
		return fmt.Errorf("dataset name must not be empty")
	}
	if !validDatasetName.MatchString(name) {
		return fmt.Errorf("dataset name %q contains invalid characters; only letters, digits, hyphens, and underscores are allowed", name)
	}
	return nil
}

// DatasetInfo describes a discovered dataset directory.
type DatasetInfo struct {
	Name      string // dataset name (e.g., "gold", "dev") or "(default)" for real ~/.mailsweep
	Path      string // absolute path to the directory
	HasDB     bool   // whether mailsweep.db exists in the directory
	Active    bool   // whether this is the current symlink target
	IsDefault bool   // true for a real ~/.mailsweep directory (not in dev mode)
	DBSize    int64  // size of mailsweep.db in bytes (0 if not present)
}

// IsSymlink reports whether the path is a symbolic link.
func IsSymlink(path string) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

// ReadTarget returns the target of the symbolic link at path.
func ReadTarget(path string) (string, error) {
	return os.Readlink(path)
}

// Exists reports whether the path exists (follows symlinks).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// HasDatabase reports whether path/mailsweep.db exists.
func HasDatabase(path string) bool {
	_, err := os.Stat(filepath.Join(path, "mailsweep.db"))
	return err == nil
}

// DatabaseSize returns the size of mailsweep.db in the given directory, or 0.
func DatabaseSize(path string) int64 {
	info, err := os.Stat(filepath.Join(path, "mailsweep.db"))
	if err != nil {
		return 0
	}
	return info.Size()
}

// ReplaceSymlink atomically replaces the symlink at linkPath to point to target.
// It uses a temp-symlink + rename pattern to avoid any TOCTOU race window:
// os.Rename atomically replaces the old symlink, and will fail with an error
// (not silently delete) if linkPath has become a real directory.
func ReplaceSymlink(linkPath, target string) error {
	// Fast-fail with a clear message if linkPath is not a symlink.
	info, err := os.Lstat(linkPath)
	if err != nil {
		return fmt.Errorf("lstat %s: %w", linkPath, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return fmt.Errorf("%s is not a symlink; refusing to replace (safety check)", linkPath)
	}

	// Create a temporary symlink next to the target, then atomically rename
	// it over linkPath. os.Rename on POSIX replaces an existing symlink
	// atomically, and fails with ENOTDIR/EISDIR if linkPath has become a
	// real directory, so no data can be lost even under a race.
	// Use a random suffix to avoid collisions between concurrent calls.
	var randBytes [4]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return fmt.Errorf("generate random suffix: %w", err)
	}
	tmpPath := linkPath + ".tmp." + hex.EncodeToString(randBytes[:])
	if err := os.Symlink(target, tmpPath); err != nil {
		return fmt.Errorf("create temp symlink %s -> %s: %w", tmpPath, target, err)
	}
	if err := os.Rename(tmpPath, linkPath); err != nil {
		_ = os.Remove(tmpPath) // best-effort cleanup on failure
		return fmt.Errorf("rename symlink %s -> %s: %w", tmpPath, linkPath, err)
	}

	return nil
}

// ListDatasets enumerates all dataset directories in homeDir.
// It looks for directories matching ~/.mailsweep-* and also includes
// ~/.mailsweep itself when it is a real directory (not a symlink).
func ListDatasets(homeDir string) ([]DatasetInfo, error) {
	msPath := filepath.Join(homeDir, ".mailsweep")

	// Determine current symlink target for marking active dataset
	var activeTarget string
	if isSym, _ := IsSymlink(msPath); isSym {
		if target, err := ReadTarget(msPath); err == nil {
			// Resolve to absolute path for comparison
			if !filepath.IsAbs(target) {
				target = filepath.Join(homeDir, target)
			}
			activeTarget = filepath.Clean(target)
		}
	}

	var datasets []DatasetInfo

	// Check if ~/.mailsweep is a real directory (not in dev mode)
	if isSym, err := IsSymlink(msPath); err == nil && !isSym {
		if info, err := os.Stat(msPath); err == nil && info.IsDir() {
			datasets = append(datasets, DatasetInfo{
				Name:      "(default)",
				Path:      msPath,
				HasDB:     HasDatabase(msPath),
				Active:    true,
				IsDefault: true,
				DBSize:    DatabaseSize(msPath),
			})
		}
	}

	// Glob for ~/.mailsweep-* directories
	pattern := filepath.Join(homeDir, ".mailsweep-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob datasets: %w", err)
	}

	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}

		name := strings.TrimPrefix(filepath.Base(m), ".mailsweep-")
		cleanPath := filepath.Clean(m)

		datasets = append(datasets, DatasetInfo{
			Name:   name,
			Path:   cleanPath,
			HasDB:  HasDatabase(cleanPath),
			Active: activeTarget != "" && activeTarget == cleanPath,
			DBSize: DatabaseSize(cleanPath),
		})
	}

	sort.Slice(datasets, func(i, j int) bool {
		return datasets[i].Name < datasets[j].Name
	})

	return datasets, nil
}
