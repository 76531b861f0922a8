package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/rocm-bench/internal/backup"
	"github.com/psantana5/rocm-bench/internal/lease"
	"github.com/psantana5/rocm-bench/internal/orchestrator"
	"github.com/psantana5/rocm-bench/internal/registry"
	rt "github.com/psantana5/rocm-bench/internal/runtime"
)

var statusAddr string

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the nightly benchmark for all configured tasks",
	Long: `Resolve today's image, bring up the execution environment, run the
correctness gate and the performance sweep for every configured task, and
rebuild the CSV reports. Safe to re-invoke: completed trials are skipped.`,
	RunE: runNightly,
}

func init() {
	runCmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve /status and /metrics on this address (e.g. :9823)")
	rootCmd.AddCommand(runCmd)
}

func runNightly(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger("orchestrator")
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := rt.NewExecRunner()
	docker := rt.NewDocker(cfg.Runtime.Binary, runner, log)
	manager := rt.NewManager(docker, cfg.Runtime.Mounts, cfg.Runtime.Devices, cfg.Runtime.ReadinessTimeout(), log)

	client := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.PageSize, cfg.Registry.RatePerSec, cfg.Registry.RateBurst, log)
	resolver := registry.NewResolver(client, cfg.Registry.Repository, cfg.Hardware, cfg.Registry.DenySuffixes, log)

	var stopOthers func(ctx context.Context) error
	if cfg.Lease.StopOtherOnAquire {
		stopOthers = func(ctx context.Context) error {
			return manager.StopOthers(ctx, "")
		}
	}
	guard := lease.NewGuard(lease.NewSmiProber(runner), cfg.Lease.UtilizationLimit, cfg.Lease.PollInterval(), stopOthers, log)

	var syncer orchestrator.LogSyncer
	if cfg.Backup.Enabled {
		syncer = backup.NewSyncer(
			filepath.Join(cfg.Workdir, "logs"),
			cfg.Backup.Remote, cfg.Backup.Branch,
			cfg.Backup.LockTimeout(), runner, log)
	}

	metrics := orchestrator.NewMetrics()
	orch := orchestrator.New(cfg, resolver, manager, docker, guard, syncer, metrics, log)

	if statusAddr == "" {
		statusAddr = cfg.StatusAddr
	}
	if statusAddr != "" {
		srv := orchestrator.NewStatusServer(statusAddr, orch, metrics, log)
		srv.Start()
		defer srv.Stop()
	}

	summaries, err := orch.RunNightly(ctx)
	if err != nil {
		return err
	}

	printSummaries(summaries)
	return nil
}

// printSummaries renders the per-task terminal states
func printSummaries(summaries []orchestrator.TaskSummary) {
	if IsJSONOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(summaries)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Task", "State", "Image", "Fallback")

	for _, s := range summaries {
		fallback := ""
		if s.Fallback {
			fallback = "yes"
		}
		table.Append([]string{s.Name, string(s.State), s.Image, fallback})
	}

	table.Render()
}
