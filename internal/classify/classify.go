// Package classify turns prior-day task logs into retry decisions.
//
// Log text is the ground truth for outcomes: operators and this classifier
// reconstruct what happened from grep-able markers, never from exit codes.
// All marker knowledge is concentrated here so call sites never pattern
// match on log text themselves.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/psantana5/rocm-bench/pkg/models"
)

// Kind selects the marker table for a task's workload family
type Kind string

const (
	// KindServing covers vLLM-style serving benchmarks (the default)
	KindServing Kind = "serving"
)

// TaskTerminalMarker is written at the end of a daily task log once all
// work for the task finished, regardless of benchmark-level errors.
const TaskTerminalMarker = "All benchmarks completed"

// TrialTerminalMarker is written at the end of a per-trial log when the
// benchmark subprocess exited cleanly. Its presence is what makes a trial
// skippable on resume.
const TrialTerminalMarker = "Benchmark run completed"

// BenchFailureMarker records a benchmark-level failure inside an otherwise
// finished task run.
const BenchFailureMarker = "Benchmark failed"

// AccuracyFailureMarker records a below-threshold correctness gate.
const AccuracyFailureMarker = "accuracy below threshold"

// markerSet holds the classification patterns for one task kind
type markerSet struct {
	critical []string // any match means the run died
	bencherr []string // benchmark-level failures inside a finished run
}

var markers = map[Kind]markerSet{
	KindServing: {
		critical: []string{
			"RuntimeError",
			"could not acquire lock",
			"resource deadlock avoided",
			"server process exited unexpectedly",
			"core dumped",
		},
		bencherr: []string{
			BenchFailureMarker,
			AccuracyFailureMarker,
		},
	},
}

// ClassifyLog classifies one day's task log text. Rules in priority order:
// critical markers beat everything; a terminal marker with benchmark errors
// is a completed-but-degraded run; a terminal marker alone is success; no
// terminal marker means the run was interrupted and counts as failed.
func ClassifyLog(kind Kind, text string) models.Classification {
	set, ok := markers[kind]
	if !ok {
		set = markers[KindServing]
	}

	for _, m := range set.critical {
		if strings.Contains(text, m) {
			return models.Failed
		}
	}

	terminal := strings.Contains(text, TaskTerminalMarker)

	if terminal {
		for _, m := range set.bencherr {
			if strings.Contains(text, m) {
				return models.CompletedWithErrors
			}
		}
		return models.CompletedSuccess
	}

	// Terminal marker absent and no critical markers: interrupted run
	return models.Failed
}

// HasTrialTerminalMarker reports whether a per-trial log is complete.
// Used by the sweep executor's idempotent resume check.
func HasTrialTerminalMarker(text string) bool {
	return strings.Contains(text, TrialTerminalMarker)
}

// DailyLogPath returns the canonical daily task log path
func DailyLogPath(logDir, taskName string, date time.Time) string {
	return filepath.Join(logDir, fmt.Sprintf("%s_%s.log", taskName, date.Format(models.DateLayout)))
}

// Evaluate classifies one task for one day by reading its daily log.
// An absent log file means the task never ran that day.
func Evaluate(logDir, hardware, taskName string, kind Kind, date time.Time) models.DailyOutcome {
	outcome := models.DailyOutcome{
		Date:     date,
		Hardware: hardware,
		TaskName: taskName,
	}

	data, err := os.ReadFile(DailyLogPath(logDir, taskName, date))
	if err != nil {
		outcome.Classification = models.NotRun
		return outcome
	}

	outcome.Classification = ClassifyLog(kind, string(data))
	return outcome
}

// LookbackDays is how far back the classifier looks for a prior run.
// Fixed at exactly one day: there is no escalation to older images, so a
// build older than yesterday is never reused. Known limitation, kept on
// purpose so stale builds cannot masquerade as current results.
const LookbackDays = 1

// Decide derives the retry decision from yesterday's outcome. Fallback to
// a previous-day image is allowed unless yesterday was a clean success:
// re-running a task that already succeeded on an old image would only
// produce duplicate, stale numbers.
func Decide(outcome models.DailyOutcome) models.RetryDecision {
	d := models.RetryDecision{TaskName: outcome.TaskName}

	switch outcome.Classification {
	case models.CompletedSuccess:
		d.AllowFallback = false
		d.Reason = "previous run completed successfully"
	case models.CompletedWithErrors:
		d.AllowFallback = true
		d.Reason = "previous run completed with benchmark errors"
	case models.Failed:
		d.AllowFallback = true
		d.Reason = "previous run failed or was interrupted"
	case models.NotRun:
		d.AllowFallback = true
		d.Reason = "no previous run found"
	default:
		d.AllowFallback = true
		d.Reason = "unknown previous outcome"
	}

	return d
}
