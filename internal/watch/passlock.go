package watch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/obentoo/switchdex/internal/common/logger"
)

// PassLockFile is the lock file created in the data directory
const PassLockFile = "scan.lock"

// PassLock excludes concurrent passes across processes sharing a data directory.
type PassLock interface {
	TryLock() (bool, error)
	Unlock() error
}

// FileLock is a PassLock backed by an advisory lock on a file in the data directory.
// Separate FileLocks on the same directory exclude each other, in one process or many.
type FileLock struct {
	fl *flock.Flock
}

// NewFileLock creates the data directory if needed and returns its pass lock
func NewFileLock(dataDir string) (*FileLock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileLock{fl: flock.New(filepath.Join(dataDir, PassLockFile))}, nil
}

// TryLock takes the lock without blocking and reports whether it was acquired
func (l *FileLock) TryLock() (bool, error) {
	return l.fl.TryLock()
}

// Unlock releases the lock
func (l *FileLock) Unlock() error {
	return l.fl.Unlock()
}

// AcquirePassLock takes lock for one pass. It returns ErrPassInProgress when
// another holder is scanning. A nil lock always succeeds.
func AcquirePassLock(lock PassLock) (release func(), err error) {
	if lock == nil {
		return func() {}, nil
	}
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !ok {
		return nil, ErrPassInProgress
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release pass lock: %v", err)
		}
	}, nil
}
