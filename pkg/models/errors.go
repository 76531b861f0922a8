package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for the orchestration core. Discovery and environment
// errors abort the task; gate failure is a valid terminal outcome, not a
// crash; extraction and lock errors are recovered locally by the caller.

// DiscoveryError means no version family yielded a usable tag for a
// (hardware, date) pair. Needs an external fix (missing nightly build).
type DiscoveryError struct {
	Repository string
	Hardware   string
	Date       string
	Message    string
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("image discovery failed for %s (%s, %s): %s",
		e.Repository, e.Hardware, e.Date, e.Message)
}

// NotPullableError means a tag is listed by the registry but its manifest
// check failed, so a pull would not succeed.
type NotPullableError struct {
	Repository string
	Tag        string
	Err        error
}

func (e *NotPullableError) Error() string {
	return fmt.Sprintf("tag %s:%s is listed but not pullable: %v", e.Repository, e.Tag, e.Err)
}

func (e *NotPullableError) Unwrap() error {
	return e.Err
}

// EnvironmentError wraps container runtime failures (pull, create, start,
// readiness timeout). Task-aborting.
type EnvironmentError struct {
	Operation string // "pull", "create", "start", "exec", "readiness"
	Name      string // container or image name
	Err       error
}

func (e *EnvironmentError) Error() string {
	return fmt.Sprintf("environment %s failed for %s: %v", e.Operation, e.Name, e.Err)
}

func (e *EnvironmentError) Unwrap() error {
	return e.Err
}

// ExtractionIncompleteError reports which required fields were missing from
// a benchmark output section. The gate treats it as score 0; the sweep
// treats it as NA for that trial only.
type ExtractionIncompleteError struct {
	Format  string
	Missing []string
}

func (e *ExtractionIncompleteError) Error() string {
	return fmt.Sprintf("extraction incomplete (%s): missing %s", e.Format, strings.Join(e.Missing, ", "))
}

// LockTimeoutError means the advisory lock guarding the shared artifact
// store could not be acquired in time. The sync step is skipped; the
// benchmark result itself is unaffected.
type LockTimeoutError struct {
	Path    string
	Timeout string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire lock %s within %s", e.Path, e.Timeout)
}

// ErrGateFailure marks a correctness gate that did not pass. It is a valid
// terminal outcome: performance numbers from a functionally broken
// configuration are meaningless, so the sweep must not run.
var ErrGateFailure = errors.New("correctness gate failed")

// ErrAggregationSkipped marks ratio math that was intentionally omitted
// because the measured value was NA or zero.
var ErrAggregationSkipped = errors.New("aggregation skipped")

// IsTaskAborting reports whether an error should abort the whole task
// rather than a single step.
func IsTaskAborting(err error) bool {
	var de *DiscoveryError
	var np *NotPullableError
	var ee *EnvironmentError
	return errors.As(err, &de) || errors.As(err, &np) || errors.As(err, &ee)
}
