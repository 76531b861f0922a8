// Package report assembles extracted metrics into the CSV tables consumed
// by plot renderers and the dashboard. Tables are always rebuilt from
// scratch: a process interrupted mid-sweep still leaves a syntactically
// valid file reflecting exactly the points completed so far.
package report

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/psantana5/rocm-bench/internal/sweep"
	"github.com/psantana5/rocm-bench/pkg/config"
	"github.com/psantana5/rocm-bench/pkg/logging"
)

// NA is the explicit not-available sentinel. It is never a numeric zero,
// so downstream ratio and average arithmetic cannot silently absorb it.
const NA = "NA"

// Header is the fixed CSV column order
var Header = []string{
	"TP", "batch_size", "IL", "OL",
	"Prefill_latency(s)", "Median_decode_latency(s)", "E2E_Latency(s)",
	"Prefill_Throughput(token/s)", "Median_Decode_Throughput(token/s)", "E2E_Throughput(token/s)",
}

// Aggregator writes report files for one task
type Aggregator struct {
	log *logging.Logger
}

// NewAggregator creates a report aggregator
func NewAggregator(log *logging.Logger) *Aggregator {
	return &Aggregator{log: log}
}

// Ratio computes round(reference / measured * 100) as a string, or NA when
// the measured value is NA or exactly 0. Dividing by an absent or zero
// measurement would produce unbounded or misleading ratios.
func Ratio(reference, measured float64, measuredValid bool) string {
	if !measuredValid || measured == 0 {
		return NA
	}
	return strconv.Itoa(int(math.Round(reference / measured * 100)))
}

// Rebuild writes the full CSV for a task from scratch. Points with no
// valid trial get NA in every metric column. When the task configures a
// reference baseline for a point, a reference row and a ratio row follow
// that point's data row.
func (a *Aggregator) Rebuild(path string, task *config.TaskConfig, results []sweep.PointResult) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", tmp, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write(Header); err != nil {
		f.Close()
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, pr := range results {
		if err := w.Write(a.dataRow(task, pr)); err != nil {
			f.Close()
			return fmt.Errorf("failed to write row: %w", err)
		}

		ref, hasRef := task.Baseline[pr.ConfigValue]
		if !hasRef {
			continue
		}
		if err := w.Write(a.referenceRow(task, pr.ConfigValue, ref)); err != nil {
			f.Close()
			return fmt.Errorf("failed to write reference row: %w", err)
		}
		if err := w.Write(a.ratioRow(task, pr, ref)); err != nil {
			f.Close()
			return fmt.Errorf("failed to write ratio row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to flush report: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	// Atomic swap keeps the previous table readable up to the instant the
	// new one is complete.
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish report: %w", err)
	}

	a.log.Info("Report rebuilt", map[string]interface{}{"path": path, "points": len(results)})
	return nil
}

// dataRow renders one config point's measurements
func (a *Aggregator) dataRow(task *config.TaskConfig, pr sweep.PointResult) []string {
	row := []string{
		strconv.Itoa(task.TP),
		strconv.Itoa(pr.ConfigValue),
		strconv.Itoa(task.InputLen),
		strconv.Itoa(task.OutputLen),
	}

	if pr.Best == nil {
		for i := 0; i < 6; i++ {
			row = append(row, NA)
		}
		return row
	}

	m := pr.Best
	row = append(row,
		formatFloat(m.PrefillLatency),
		formatFloat(m.DecodeLatency),
		formatFloat(m.E2ELatency),
		formatFloat(m.PrefillThroughput),
		formatFloat(m.DecodeThroughput),
		formatFloat(m.E2EThroughput),
	)
	return row
}

// referenceRow carries the configured baseline E2E latency for a point
func (a *Aggregator) referenceRow(task *config.TaskConfig, point int, ref float64) []string {
	return []string{
		strconv.Itoa(task.TP),
		strconv.Itoa(point),
		strconv.Itoa(task.InputLen),
		strconv.Itoa(task.OutputLen),
		NA, NA, formatFloat(ref), NA, NA, NA,
	}
}

// ratioRow carries reference/measured*100 for the E2E latency column
func (a *Aggregator) ratioRow(task *config.TaskConfig, pr sweep.PointResult, ref float64) []string {
	measured := 0.0
	valid := false
	if pr.Best != nil {
		measured = pr.Best.E2ELatency
		valid = true
	}
	return []string{
		strconv.Itoa(task.TP),
		strconv.Itoa(pr.ConfigValue),
		strconv.Itoa(task.InputLen),
		strconv.Itoa(task.OutputLen),
		NA, NA, Ratio(ref, measured, valid), NA, NA, NA,
	}
}

// WriteStacked writes the alternate structured flavor: three tab-separated
// tables (E2E, TTFT, ITL) stacked in one file.
func (a *Aggregator) WriteStacked(path string, results []sweep.PointResult) error {
	var b strings.Builder

	b.WriteString("E2E\nbatch_size\tlatency(s)\tthroughput(token/s)\n")
	for _, pr := range results {
		if pr.Best == nil {
			fmt.Fprintf(&b, "%d\t%s\t%s\n", pr.ConfigValue, NA, NA)
			continue
		}
		fmt.Fprintf(&b, "%d\t%s\t%s\n", pr.ConfigValue,
			formatFloat(pr.Best.E2ELatency), formatFloat(pr.Best.E2EThroughput))
	}

	b.WriteString("\nTTFT\nbatch_size\tlatency(ms)\n")
	for _, pr := range results {
		if pr.Best == nil {
			fmt.Fprintf(&b, "%d\t%s\n", pr.ConfigValue, NA)
			continue
		}
		fmt.Fprintf(&b, "%d\t%s\n", pr.ConfigValue, formatFloat(pr.Best.TTFT))
	}

	b.WriteString("\nITL\nbatch_size\tlatency(ms)\n")
	for _, pr := range results {
		if pr.Best == nil {
			fmt.Fprintf(&b, "%d\t%s\n", pr.ConfigValue, NA)
			continue
		}
		fmt.Fprintf(&b, "%d\t%s\n", pr.ConfigValue, formatFloat(pr.Best.ITL))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write stacked report: %w", err)
	}
	return os.Rename(tmp, path)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
