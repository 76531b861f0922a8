// Package backup syncs the log directory to a git remote after each task.
// The sync is guarded by an advisory file lock because several hardware
// hosts push to the same repository; a lock timeout skips this upload and
// nothing more — the benchmark result is already on local disk.
package backup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/rocm-bench/internal/locker"
	rt "github.com/psantana5/rocm-bench/internal/runtime"
	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
)

// Syncer pushes the log directory to a git remote
type Syncer struct {
	dir         string
	remote      string
	branch      string
	lock        *locker.FileLock
	lockTimeout time.Duration
	runner      rt.Runner
	log         *logging.Logger
}

// NewSyncer creates a syncer for the given directory
func NewSyncer(dir, remote, branch string, lockTimeout time.Duration, runner rt.Runner, log *logging.Logger) *Syncer {
	return &Syncer{
		dir:         dir,
		remote:      remote,
		branch:      branch,
		lock:        locker.New(filepath.Join(dir, ".sync.lock")),
		lockTimeout: lockTimeout,
		runner:      runner,
		log:         log,
	}
}

// Sync commits and pushes current logs. Returns a LockTimeoutError when
// the advisory lock could not be acquired; callers treat that as a skipped
// upload, not a failure of the run.
func (s *Syncer) Sync(ctx context.Context, label string) error {
	if err := s.lock.Acquire(s.lockTimeout); err != nil {
		var lt *models.LockTimeoutError
		if errors.As(err, &lt) {
			s.log.Warn("Log sync lock timed out, skipping upload", map[string]interface{}{"path": lt.Path})
		}
		return err
	}
	defer s.lock.Release()

	if out, err := s.runner.Run(ctx, "git", "-C", s.dir, "add", "-A"); err != nil {
		return fmt.Errorf("git add failed: %v: %s", err, strings.TrimSpace(out))
	}

	msg := fmt.Sprintf("nightly logs %s (%s)", time.Now().Format(models.DateLayout), label)
	if out, err := s.runner.Run(ctx, "git", "-C", s.dir, "commit", "-m", msg); err != nil {
		if strings.Contains(out, "nothing to commit") {
			s.log.Debug("No log changes to sync")
			return nil
		}
		return fmt.Errorf("git commit failed: %v: %s", err, strings.TrimSpace(out))
	}

	if out, err := s.runner.Run(ctx, "git", "-C", s.dir, "push", s.remote, s.branch); err != nil {
		return fmt.Errorf("git push failed: %v: %s", err, strings.TrimSpace(out))
	}

	s.log.Info("Logs synced", map[string]interface{}{"remote": s.remote, "branch": s.branch})
	return nil
}
