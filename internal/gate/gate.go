// Package gate runs the correctness gate that must pass before any
// performance measurement happens. Performance numbers from a functionally
// broken configuration are meaningless, not merely low-quality, so a
// failed gate blocks the sweep entirely.
package gate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/psantana5/rocm-bench/internal/extract"
	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
)

// TrialFunc runs one correctness trial and returns the raw captured output
type TrialFunc func(ctx context.Context, trial int) (string, error)

// Controller runs the correctness workload N times and gates on the mean
// accuracy against a task-specific threshold.
type Controller struct {
	trials int
	logDir string
	log    *logging.Logger
}

// NewController creates a gate controller. trials defaults to 5.
func NewController(trials int, logDir string, log *logging.Logger) *Controller {
	if trials <= 0 {
		trials = 5
	}
	return &Controller{trials: trials, logDir: logDir, log: log}
}

// Run executes the gate for one task. Each trial's output is scanned for
// the literal "Accuracy:" marker; a trial with no marker, or one whose
// execution errored, scores 0 (fail closed). The result is terminal state,
// not an error: a failed gate is a valid nightly outcome.
func (c *Controller) Run(ctx context.Context, taskName string, threshold float64, run TrialFunc) (*models.StageResult, error) {
	result := &models.StageResult{
		TrialScores: make([]float64, 0, c.trials),
		Threshold:   threshold,
	}

	for i := 0; i < c.trials; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		out, err := run(ctx, i)

		c.writeTrialLog(taskName, i, out)

		score := 0.0
		if err != nil {
			c.log.Warn("Accuracy trial errored, scoring 0", map[string]interface{}{
				"task": taskName, "trial": i, "error": err.Error(),
			})
		} else if v, ok := extract.ParseAccuracy(out); ok {
			score = v
		} else {
			c.log.Warn("Accuracy marker missing, scoring 0", map[string]interface{}{
				"task": taskName, "trial": i,
			})
		}

		result.TrialScores = append(result.TrialScores, score)
	}

	var sum float64
	for _, s := range result.TrialScores {
		sum += s
	}
	result.MeanScore = sum / float64(len(result.TrialScores))
	result.Passed = result.MeanScore >= threshold

	c.log.Info("Gate result", map[string]interface{}{
		"task":      taskName,
		"mean":      fmt.Sprintf("%.4f", result.MeanScore),
		"threshold": threshold,
		"passed":    result.Passed,
	})

	return result, nil
}

// writeTrialLog persists one accuracy trial's output so operators can grep
// what the gate saw
func (c *Controller) writeTrialLog(taskName string, trial int, out string) {
	if c.logDir == "" {
		return
	}
	ts := time.Now().Format("20060102-150405")
	path := filepath.Join(c.logDir, fmt.Sprintf("%s_acc_run%d_%s.log", taskName, trial, ts))
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		c.log.Warn("Failed to write accuracy trial log", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
	}
}
