package watch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Error variables for store errors
var (
	// ErrStoreCorrupted is returned when a data file cannot be parsed
	ErrStoreCorrupted = errors.New("data file is corrupted")
)

// VersionStore persists the last-known version of every entity.
type VersionStore interface {
	// Read returns the stored record. ok is false when the entity was never recorded.
	Read(entity TrackedEntity) (rec VersionRecord, ok bool, err error)
	// Write replaces the entity's record
	Write(entity TrackedEntity, rec VersionRecord) error
	// MarkChecked stamps LastChecked on the given entities of one category
	MarkChecked(category Category, ids []string, at time.Time) error
}

// Store keeps one JSON file per category in a data directory.
// Every write first copies the current file into backups/ and keeps the newest few.
type Store struct {
	dir       string
	backupDir string
	keep      int
	mu        sync.Mutex
	nowFunc   func() time.Time
}

// StoreOption is a functional option for configuring Store
type StoreOption func(*Store)

// WithBackupKeep sets how many backups are kept per category file
func WithBackupKeep(n int) StoreOption {
	return func(s *Store) {
		s.keep = n
	}
}

// WithStoreNowFunc sets a custom time function for testing
func WithStoreNowFunc(fn func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = fn
	}
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string, opts ...StoreOption) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		dir:       dir,
		backupDir: filepath.Join(dir, "backups"),
		keep:      DefaultBackupKeep,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file holding records of category c
func (s *Store) Path(c Category) string {
	return filepath.Join(s.dir, string(c)+"-versions.json")
}

// Load returns every record of category c. Missing or empty files yield an empty map.
func (s *Store) Load(c Category) (map[string]VersionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUnsafe(c)
}

func (s *Store) loadUnsafe(c Category) (map[string]VersionRecord, error) {
	records := make(map[string]VersionRecord)
	if _, err := readJSONFile(s.Path(c), &records); err != nil {
		return nil, err
	}
	if records == nil {
		// a file holding "null"
		records = make(map[string]VersionRecord)
	}
	return records, nil
}

func (s *Store) saveUnsafe(c Category, records map[string]VersionRecord) error {
	return writeJSONFile(s.Path(c), records, s.backupDir, s.keep, s.nowFunc())
}

// Read implements VersionStore
func (s *Store) Read(entity TrackedEntity) (VersionRecord, bool, error) {
	records, err := s.Load(entity.Category)
	if err != nil {
		return VersionRecord{}, false, err
	}
	rec, ok := records[entity.ID]
	return rec, ok, nil
}

// Write implements VersionStore
func (s *Store) Write(entity TrackedEntity, rec VersionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUnsafe(entity.Category)
	if err != nil {
		return err
	}
	records[entity.ID] = rec
	return s.saveUnsafe(entity.Category, records)
}

// MarkChecked implements VersionStore. Entities without a record get one
// holding only the timestamp.
func (s *Store) MarkChecked(category Category, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUnsafe(category)
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec := records[id]
		rec.LastChecked = at
		records[id] = rec
	}
	return s.saveUnsafe(category, records)
}

// Backups lists the backup files of category c, oldest first
func (s *Store) Backups(c Category) ([]string, error) {
	return listBackups(s.Path(c), s.backupDir)
}
