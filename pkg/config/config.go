package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// RegistryConfig configures image discovery
type RegistryConfig struct {
	BaseURL      string   `yaml:"base_url" mapstructure:"base_url"`
	Repository   string   `yaml:"repository" mapstructure:"repository"`
	DenySuffixes []string `yaml:"deny_suffixes" mapstructure:"deny_suffixes"`
	PageSize     int      `yaml:"page_size" mapstructure:"page_size"`
	RatePerSec   float64  `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	RateBurst    int      `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// RuntimeConfig configures the container runtime
type RuntimeConfig struct {
	Binary              string   `yaml:"binary" mapstructure:"binary"`
	Mounts              []string `yaml:"mounts" mapstructure:"mounts"`
	Devices             []string `yaml:"devices" mapstructure:"devices"`
	ReadinessTimeoutSec int      `yaml:"readiness_timeout_sec" mapstructure:"readiness_timeout_sec"`
}

// ReadinessTimeout returns the readiness timeout as a duration
func (r RuntimeConfig) ReadinessTimeout() time.Duration {
	return time.Duration(r.ReadinessTimeoutSec) * time.Second
}

// GateConfig configures the correctness gate
type GateConfig struct {
	Trials int `yaml:"trials" mapstructure:"trials"`
}

// SweepConfig configures the performance sweep
type SweepConfig struct {
	Trials int   `yaml:"trials" mapstructure:"trials"`
	Points []int `yaml:"points" mapstructure:"points"` // descending by load
}

// TaskConfig describes one (model, workload) benchmark task
type TaskConfig struct {
	Name      string          `yaml:"name" mapstructure:"name"`
	Model     string          `yaml:"model" mapstructure:"model"` // model path inside the container
	Threshold float64         `yaml:"threshold" mapstructure:"threshold"`
	TP        int             `yaml:"tp" mapstructure:"tp"` // tensor parallelism degree
	InputLen  int             `yaml:"input_len" mapstructure:"input_len"`
	OutputLen int             `yaml:"output_len" mapstructure:"output_len"`
	Points    []int           `yaml:"points" mapstructure:"points"`     // optional per-task override
	Baseline  map[int]float64 `yaml:"baseline" mapstructure:"baseline"` // reference E2E latency per point
}

// BackupConfig configures git-based log backup
type BackupConfig struct {
	Enabled        bool   `yaml:"enabled" mapstructure:"enabled"`
	Remote         string `yaml:"remote" mapstructure:"remote"`
	Branch         string `yaml:"branch" mapstructure:"branch"`
	LockTimeoutSec int    `yaml:"lock_timeout_sec" mapstructure:"lock_timeout_sec"`
}

// LockTimeout returns the lock timeout as a duration
func (b BackupConfig) LockTimeout() time.Duration {
	return time.Duration(b.LockTimeoutSec) * time.Second
}

// LeaseConfig configures the GPU busy/idle guard
type LeaseConfig struct {
	PollIntervalSec   int     `yaml:"poll_interval_sec" mapstructure:"poll_interval_sec"`
	UtilizationLimit  float64 `yaml:"utilization_limit" mapstructure:"utilization_limit"`
	StopOtherOnAquire bool    `yaml:"stop_others" mapstructure:"stop_others"`
}

// PollInterval returns the poll interval as a duration
func (l LeaseConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalSec) * time.Second
}

// Config is the full orchestrator configuration
type Config struct {
	Hardware   string         `yaml:"hardware" mapstructure:"hardware"`
	Workdir    string         `yaml:"workdir" mapstructure:"workdir"`
	StatusAddr string         `yaml:"status_addr" mapstructure:"status_addr"`
	Registry   RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Runtime    RuntimeConfig  `yaml:"runtime" mapstructure:"runtime"`
	Gate       GateConfig     `yaml:"gate" mapstructure:"gate"`
	Sweep      SweepConfig    `yaml:"sweep" mapstructure:"sweep"`
	Lease      LeaseConfig    `yaml:"lease" mapstructure:"lease"`
	Backup     BackupConfig   `yaml:"backup" mapstructure:"backup"`
	Tasks      []TaskConfig   `yaml:"tasks" mapstructure:"tasks"`
}

// setDefaults registers defaults with viper before unmarshalling
func setDefaults(v *viper.Viper) {
	v.SetDefault("workdir", "./rocmbench-data")
	v.SetDefault("registry.page_size", 100)
	v.SetDefault("registry.rate_per_sec", 5.0)
	v.SetDefault("registry.rate_burst", 5)
	v.SetDefault("registry.deny_suffixes", []string{"_light"})
	v.SetDefault("runtime.binary", "docker")
	v.SetDefault("runtime.readiness_timeout_sec", 600)
	v.SetDefault("gate.trials", 5)
	v.SetDefault("sweep.trials", 3)
	v.SetDefault("sweep.points", []int{128, 64, 16, 4, 1})
	v.SetDefault("lease.poll_interval_sec", 30)
	v.SetDefault("lease.utilization_limit", 5.0)
	v.SetDefault("backup.lock_timeout_sec", 60)
	v.SetDefault("backup.branch", "main")
}

// Load reads configuration from the given file (YAML), applying defaults
// and environment overrides (ROCMBENCH_* variables).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ROCMBENCH")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	// Weak typing lets baseline maps keep integer keys: viper stringifies
	// all map keys internally.
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	if c.Hardware == "" {
		return fmt.Errorf("hardware id is required")
	}
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url is required")
	}
	if c.Registry.Repository == "" {
		return fmt.Errorf("registry.repository is required")
	}
	if c.Gate.Trials <= 0 {
		return fmt.Errorf("gate.trials must be positive, got %d", c.Gate.Trials)
	}
	if c.Sweep.Trials <= 0 {
		return fmt.Errorf("sweep.trials must be positive, got %d", c.Sweep.Trials)
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("at least one task is required")
	}
	seen := make(map[string]bool)
	for _, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task name is required")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate task name: %s", t.Name)
		}
		seen[t.Name] = true
		if t.Model == "" {
			return fmt.Errorf("task %s: model path is required", t.Name)
		}
		if t.Threshold <= 0 || t.Threshold > 1 {
			return fmt.Errorf("task %s: threshold must be in (0,1], got %v", t.Name, t.Threshold)
		}
		if t.TP <= 0 {
			return fmt.Errorf("task %s: tp must be positive", t.Name)
		}
	}
	return nil
}

// PointsFor returns the sweep points for a task, honouring the per-task
// override. The order is preserved as configured (descending by load).
func (c *Config) PointsFor(task *TaskConfig) []int {
	if len(task.Points) > 0 {
		return task.Points
	}
	return c.Sweep.Points
}
