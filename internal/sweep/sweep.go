// Package sweep executes the performance workload across the configuration
// matrix, strictly sequentially, with idempotent resume from prior logs.
package sweep

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/psantana5/rocm-bench/internal/classify"
	"github.com/psantana5/rocm-bench/internal/extract"
	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
)

// TrialFunc runs one benchmark trial at a config point and returns the raw
// captured subprocess output
type TrialFunc func(ctx context.Context, configValue, trial int) (string, error)

// PointResult is the selected outcome for one config point. Best is nil
// when no trial produced a valid measurement; downstream renders that as
// an explicit NA, never a numeric zero.
type PointResult struct {
	ConfigValue int
	Trials      []models.TrialRun
	Best        *extract.Metrics
	BestTrial   int
	BestLog     string
	ValidTrials int
	Executed    int // trials actually run this invocation
	Resumed     int // trials skipped because a completed log already existed
}

// Executor runs the sweep for one task on one environment.
//
// The workload consumes the full hardware budget, so there is no
// intra-point parallelism: points run in the configured order (descending
// by load) and trials run back to back.
type Executor struct {
	trials int
	logDir string
	prefix string
	format extract.Format
	log    *logging.Logger

	// OnPoint, when set, is invoked with all results so far after each
	// point finishes. The report aggregator hooks in here so the output
	// table always reflects exactly the points completed so far.
	OnPoint func(results []PointResult)
}

// NewExecutor creates a sweep executor. trials defaults to 3. prefix names
// the log files for this (task, hardware, date) invocation.
func NewExecutor(trials int, logDir, prefix string, log *logging.Logger) *Executor {
	if trials <= 0 {
		trials = 3
	}
	return &Executor{
		trials: trials,
		logDir: logDir,
		prefix: prefix,
		format: extract.FormatV1,
		log:    log,
	}
}

// Run sweeps all config points. Before running a (point, trial) it checks
// for an existing log carrying the terminal marker and skips execution if
// found, which is what makes an interrupted sweep resumable with zero
// repeated work.
func (e *Executor) Run(ctx context.Context, points []int, run TrialFunc) ([]PointResult, error) {
	results := make([]PointResult, 0, len(points))

	for _, point := range points {
		pr := PointResult{ConfigValue: point, BestTrial: -1}

		for trial := 0; trial < e.trials; trial++ {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			default:
			}

			text, logPath, resumed, err := e.obtainTrial(ctx, point, trial, run)
			if err != nil {
				return results, err
			}
			if resumed {
				pr.Resumed++
			} else {
				pr.Executed++
			}

			tr := models.TrialRun{
				ConfigValue: point,
				TrialIndex:  trial,
				LogPath:     logPath,
				Completed:   classify.HasTrialTerminalMarker(text),
			}

			if tr.Completed {
				if m, perr := extract.Parse(e.format, text); perr == nil {
					tr.Latency = m.E2ELatency
					tr.Throughput = m.E2EThroughput
					tr.TTFT = m.TTFT
					tr.ITL = m.ITL
					pr.ValidTrials++

					// Strict less-than keeps the first-encountered trial
					// on equal minimum latency.
					if pr.Best == nil || m.E2ELatency < pr.Best.E2ELatency {
						pr.Best = m
						pr.BestTrial = trial
						pr.BestLog = logPath
					}
				} else {
					e.log.Warn("Trial log complete but extraction failed, counting as NA", map[string]interface{}{
						"log": logPath, "error": perr.Error(),
					})
				}
			}

			pr.Trials = append(pr.Trials, tr)
		}

		e.log.Info("Point swept", map[string]interface{}{
			"point":    point,
			"valid":    pr.ValidTrials,
			"resumed":  pr.Resumed,
			"executed": pr.Executed,
		})

		results = append(results, pr)

		if e.OnPoint != nil {
			e.OnPoint(results)
		}
	}

	return results, nil
}

// obtainTrial returns the log text for a (point, trial), either from a
// prior completed log or by executing the workload now
func (e *Executor) obtainTrial(ctx context.Context, point, trial int, run TrialFunc) (text, logPath string, resumed bool, err error) {
	if existing, data, ok := e.findCompletedLog(point, trial); ok {
		e.log.Debug("Resuming from existing log", map[string]interface{}{"log": existing})
		return data, existing, true, nil
	}

	out, runErr := run(ctx, point, trial)
	if runErr != nil {
		// The subprocess's own failure text stays in the log; the missing
		// terminal marker is what marks the trial invalid.
		e.log.Warn("Trial execution failed", map[string]interface{}{
			"point": point, "trial": trial, "error": runErr.Error(),
		})
	} else {
		out += "\n" + classify.TrialTerminalMarker + "\n"
	}

	logPath, err = e.writeTrialLog(point, trial, out)
	if err != nil {
		return "", "", false, err
	}

	return out, logPath, false, nil
}

// writeTrialLog persists one trial's output under the naming convention
// {prefix}_{configValue}_run{trialIndex}_{timestamp}.log
func (e *Executor) writeTrialLog(point, trial int, out string) (string, error) {
	ts := time.Now().Format("20060102-150405")
	path := fmt.Sprintf("%s/%s_%d_run%d_%s.log", e.logDir, e.prefix, point, trial, ts)
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return "", fmt.Errorf("failed to write trial log %s: %w", path, err)
	}
	return path, nil
}
