package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/rocm-bench/pkg/config"
	"github.com/psantana5/rocm-bench/pkg/logging"
)

var (
	cfgFile      string
	logLevel     string
	jsonLogs     bool
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rocmbench",
	Short: "Nightly LLM serving benchmark orchestrator",
	Long: `rocmbench runs nightly performance benchmarks for large-model serving
stacks across rotating container images and heterogeneous hardware,
producing comparable, resumable and auditable results.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rocmbench/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level: DEBUG, INFO, WARN, ERROR")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit orchestrator logs as JSON")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig locates the config file when none was given explicitly
func initConfig() {
	if cfgFile != "" {
		return
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	candidate := filepath.Join(home, ".rocmbench", "config.yaml")
	if _, err := os.Stat(candidate); err == nil {
		cfgFile = candidate
	}

	viper.AutomaticEnv()
	if v := viper.GetString("ROCMBENCH_CONFIG"); v != "" {
		cfgFile = v
	}
}

// loadConfig reads and validates the orchestrator configuration
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("no config file found; pass --config or create ~/.rocmbench/config.yaml")
	}
	return config.Load(cfgFile)
}

// newLogger creates the orchestrator diagnostic logger
func newLogger(component string) (*logging.Logger, error) {
	return logging.NewFileLogger(component, logging.ParseLevel(logLevel), jsonLogs)
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}
