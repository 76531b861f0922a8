package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/rocm-bench/internal/report"
	"github.com/psantana5/rocm-bench/internal/sweep"
	"github.com/psantana5/rocm-bench/pkg/models"
)

var (
	reportDate string
	reportTask string
)

// reportCmd represents the report command
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Rebuild CSV reports from existing trial logs",
	Long: `Rebuild the report tables for a date purely from trial logs already on
disk, executing nothing. Useful after moving logs between machines or when
a report file was lost.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportDate, "date", "", "date to rebuild (YYYYMMDD, default today)")
	reportCmd.Flags().StringVar(&reportTask, "task", "", "rebuild a single task only")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger("report")
	if err != nil {
		return err
	}
	defer log.Close()

	date := time.Now()
	if reportDate != "" {
		date, err = time.Parse(models.DateLayout, reportDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", reportDate, err)
		}
	}

	logDir := filepath.Join(cfg.Workdir, "logs")
	reportDir := filepath.Join(cfg.Workdir, "reports")
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return err
	}

	agg := report.NewAggregator(log)

	for i := range cfg.Tasks {
		task := &cfg.Tasks[i]
		if reportTask != "" && task.Name != reportTask {
			continue
		}

		prefix := fmt.Sprintf("%s_%s_%s", task.Name, cfg.Hardware, date.Format(models.DateLayout))
		exec := sweep.NewExecutor(cfg.Sweep.Trials, logDir, prefix, log)
		results := exec.Collect(cfg.PointsFor(task))

		csvPath := filepath.Join(reportDir, prefix+".csv")
		if err := agg.Rebuild(csvPath, task, results); err != nil {
			return err
		}
		if err := agg.WriteStacked(filepath.Join(reportDir, prefix+"_stacked.tsv"), results); err != nil {
			return err
		}

		if !IsJSONOutput() {
			printPointTable(task.Name, results)
		}
	}

	return nil
}

// printPointTable renders the best-of-N selection per config point
func printPointTable(taskName string, results []sweep.PointResult) {
	fmt.Printf("%s:\n", taskName)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Point", "Valid trials", "Best trial", "E2E latency (s)", "Throughput (tok/s)", "TTFT (ms)", "ITL (ms)")

	for _, pr := range results {
		if pr.Best == nil {
			table.Append([]string{strconv.Itoa(pr.ConfigValue), "0", report.NA, report.NA, report.NA, report.NA, report.NA})
			continue
		}
		table.Append([]string{
			strconv.Itoa(pr.ConfigValue),
			strconv.Itoa(pr.ValidTrials),
			strconv.Itoa(pr.BestTrial),
			strconv.FormatFloat(pr.Best.E2ELatency, 'f', 3, 64),
			strconv.FormatFloat(pr.Best.E2EThroughput, 'f', 1, 64),
			strconv.FormatFloat(pr.Best.TTFT, 'f', 2, 64),
			strconv.FormatFloat(pr.Best.ITL, 'f', 2, 64),
		})
	}

	table.Render()
}
