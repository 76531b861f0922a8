// Package locker provides an advisory, timeout-bounded file lock for steps
// that mutate a shared externally-synced artifact store. Failing to get
// the lock is a local, non-fatal condition: the caller skips that sync,
// nothing else.
package locker

import (
	"fmt"
	"os"
	"time"

	"github.com/psantana5/rocm-bench/pkg/models"
)

// FileLock is an O_EXCL-based advisory lock. A lock file older than
// staleAfter is assumed abandoned by a dead process and taken over.
type FileLock struct {
	path       string
	staleAfter time.Duration
	held       bool
}

// New creates a file lock at the given path
func New(path string) *FileLock {
	return &FileLock{
		path:       path,
		staleAfter: 30 * time.Minute,
	}
}

// Acquire tries to take the lock, polling until timeout. Returns a
// LockTimeoutError when the bound expires.
func (l *FileLock) Acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().Format(time.RFC3339))
			f.Close()
			l.held = true
			return nil
		}

		if info, serr := os.Stat(l.path); serr == nil {
			if time.Since(info.ModTime()) > l.staleAfter {
				// Holder is long gone; remove and retry immediately
				os.Remove(l.path)
				continue
			}
		}

		if time.Now().After(deadline) {
			return &models.LockTimeoutError{Path: l.path, Timeout: timeout.String()}
		}

		time.Sleep(500 * time.Millisecond)
	}
}

// Release drops the lock. Safe to call when not held.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	return os.Remove(l.path)
}
