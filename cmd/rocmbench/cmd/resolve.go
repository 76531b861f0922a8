package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/rocm-bench/internal/registry"
	"github.com/psantana5/rocm-bench/pkg/models"
)

var (
	resolveDate   string
	resolveFamily string
)

// resolveCmd represents the resolve command
var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the nightly image for a date",
	Long:  `Resolve and verify the pullable nightly image tag for the configured hardware and a given date, without running anything.`,
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveDate, "date", "", "date to resolve (YYYYMMDD, default today)")
	resolveCmd.Flags().StringVar(&resolveFamily, "family", "", "restrict to one version family")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger("resolve")
	if err != nil {
		return err
	}
	defer log.Close()

	date := time.Now()
	if resolveDate != "" {
		date, err = time.Parse(models.DateLayout, resolveDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", resolveDate, err)
		}
	}

	client := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.PageSize, cfg.Registry.RatePerSec, cfg.Registry.RateBurst, log)
	resolver := registry.NewResolver(client, cfg.Registry.Repository, cfg.Hardware, cfg.Registry.DenySuffixes, log)

	candidate, err := resolver.Resolve(context.Background(), date, resolveFamily)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(candidate)
	}

	fmt.Printf("%s\n", candidate.Ref())
	fmt.Printf("  family:   %s\n", candidate.RocmVersion)
	fmt.Printf("  hardware: %s\n", candidate.Hardware)
	fmt.Printf("  date:     %s\n", candidate.Date)
	return nil
}
