package watch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultBackupKeep is how many backups are kept per data file
const DefaultBackupKeep = 5

// readJSONFile decodes path into v. It reports false when the file is
// missing or holds only whitespace, leaving v untouched.
func readJSONFile(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrStoreCorrupted, filepath.Base(path), err)
	}
	return true, nil
}

// writeJSONFile atomically replaces path with the JSON encoding of v.
// When backupDir is set, the previous content is copied there first and
// older copies beyond keep are removed.
func writeJSONFile(path string, v any, backupDir string, keep int, now time.Time) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	if backupDir != "" {
		if err := backupFile(path, backupDir, now); err != nil {
			return err
		}
		if err := pruneBackups(path, backupDir, keep); err != nil {
			return err
		}
	}

	// Write to temp file first, then rename for atomicity
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}

	return nil
}

// backupStem is the file name without its .json extension
func backupStem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

// backupFile copies path to backupDir/<stem>.<nanos>.json. A missing source is not an error.
func backupFile(path, backupDir string, now time.Time) error {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open %s for backup: %w", filepath.Base(path), err)
	}
	defer src.Close()

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	// Zero-padded so names sort chronologically; bump on collision
	stamp := now.UnixNano()
	var dest string
	for {
		dest = filepath.Join(backupDir, fmt.Sprintf("%s.%020d.json", backupStem(path), stamp))
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		stamp++
	}

	dst, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return dst.Close()
}

// listBackups returns the backups of path, oldest first
func listBackups(path, backupDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(backupDir, backupStem(path)+".*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// pruneBackups removes all but the keep newest backups of path
func pruneBackups(path, backupDir string, keep int) error {
	backups, err := listBackups(path, backupDir)
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}
	for len(backups) > keep {
		if err := os.Remove(backups[0]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}
