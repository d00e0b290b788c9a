// Package flock provides an exclusive advisory lock on a file, used to
// serialize sessionvault processes that share one vault key.
package flock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrLocked is returned by TryLock when another holder owns the lock.
var ErrLocked = errors.New("flock: lock is held by another process")

// Lock is an exclusive lock on a file. The zero value is not usable; call New.
type Lock struct {
	path string

	mu sync.Mutex
	f  *os.File
}

// New returns an unlocked Lock on path. The file is created on first use.
func New(path string) *Lock {
	return &Lock{path: path}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

func (l *Lock) open() (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return nil, fmt.Errorf("flock: failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("flock: failed to open lock file: %w", err)
	}
	return f, nil
}

// Lock blocks until the lock is acquired.
func (l *Lock) Lock() error {
	return l.acquire(true)
}

// TryLock acquires the lock without blocking, returning ErrLocked when it is
// already held.
func (l *Lock) TryLock() error {
	return l.acquire(false)
}

func (l *Lock) acquire(block bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return errors.New("flock: already locked by this process")
	}

	f, err := l.open()
	if err != nil {
		return err
	}
	if err := lockFile(f, block); err != nil {
		f.Close()
		return err
	}
	l.f = f
	return nil
}

// Unlock releases the lock. Unlocking a Lock that is not held is a no-op.
func (l *Lock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return fmt.Errorf("flock: failed to unlock: %w", err)
	}
	return nil
}
