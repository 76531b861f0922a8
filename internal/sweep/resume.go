package sweep

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/psantana5/rocm-bench/internal/classify"
	"github.com/psantana5/rocm-bench/internal/extract"
)

// Collect rebuilds point results purely from logs already on disk,
// executing nothing. Used to regenerate reports after the fact.
func (e *Executor) Collect(points []int) []PointResult {
	results := make([]PointResult, 0, len(points))

	for _, point := range points {
		pr := PointResult{ConfigValue: point, BestTrial: -1}

		for trial := 0; trial < e.trials; trial++ {
			logPath, text, ok := e.findCompletedLog(point, trial)
			if !ok {
				continue
			}
			pr.Resumed++

			m, err := extract.Parse(e.format, text)
			if err != nil {
				continue
			}
			pr.ValidTrials++
			if pr.Best == nil || m.E2ELatency < pr.Best.E2ELatency {
				pr.Best = m
				pr.BestTrial = trial
				pr.BestLog = logPath
			}
		}

		results = append(results, pr)
	}

	return results
}

// findCompletedLog looks for an existing trial log that already carries
// the terminal marker. Multiple matches can exist after repeated partial
// runs; the newest (glob order is lexicographic, and the timestamp suffix
// sorts chronologically) completed one wins.
func (e *Executor) findCompletedLog(point, trial int) (path, text string, ok bool) {
	pattern := filepath.Join(e.logDir, fmt.Sprintf("%s_%d_run%d_*.log", e.prefix, point, trial))
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return "", "", false
	}

	for i := len(matches) - 1; i >= 0; i-- {
		data, rerr := os.ReadFile(matches[i])
		if rerr != nil {
			continue
		}
		if classify.HasTrialTerminalMarker(string(data)) {
			return matches[i], string(data), true
		}
	}

	return "", "", false
}
