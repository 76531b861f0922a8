package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/rocm-bench/internal/classify"
	"github.com/psantana5/rocm-bench/pkg/models"
)

var classifyDate string

// classifyCmd represents the classify command
var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify a prior day's task logs and show retry decisions",
	Long: `Read each task's daily log for the given date, classify the outcome
from its markers, and show whether a fallback image would be allowed today.
Tasks are classified independently; one failure never blocks another.`,
	RunE: runClassify,
}

func init() {
	classifyCmd.Flags().StringVar(&classifyDate, "date", "", "date to classify (YYYYMMDD, default yesterday)")
	rootCmd.AddCommand(classifyCmd)
}

// classifyRow is the JSON shape for one task's decision
type classifyRow struct {
	Task           string `json:"task"`
	Classification string `json:"classification"`
	AllowFallback  bool   `json:"allow_fallback"`
	Reason         string `json:"reason"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	date := time.Now().AddDate(0, 0, -classify.LookbackDays)
	if classifyDate != "" {
		date, err = time.Parse(models.DateLayout, classifyDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", classifyDate, err)
		}
	}

	logDir := filepath.Join(cfg.Workdir, "logs")
	rows := make([]classifyRow, 0, len(cfg.Tasks))

	for _, task := range cfg.Tasks {
		outcome := classify.Evaluate(logDir, cfg.Hardware, task.Name, classify.KindServing, date)
		decision := classify.Decide(outcome)
		rows = append(rows, classifyRow{
			Task:           task.Name,
			Classification: string(outcome.Classification),
			AllowFallback:  decision.AllowFallback,
			Reason:         decision.Reason,
		})
	}

	if IsJSONOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Printf("Outcomes for %s:\n", date.Format(models.DateLayout))
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task", "Classification", "Fallback allowed", "Reason")

	for _, r := range rows {
		allowed := "no"
		if r.AllowFallback {
			allowed = "yes"
		}
		table.Append([]string{r.Task, r.Classification, allowed, r.Reason})
	}

	table.Render()
	return nil
}
