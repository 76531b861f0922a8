package models

import "time"

// DateLayout is the tag date format used by nightly builds (e.g. 20250831)
const DateLayout = "20060102"

// ImageCandidate is a resolved nightly image for one (hardware, date) pair.
// It only lives for the duration of a resolution call.
type ImageCandidate struct {
	Repository  string
	Tag         string
	Hardware    string
	RocmVersion string // version family prefix, e.g. "rocm6.4.1_vllm0.9.1"
	Date        string
	Pullable    bool
	Fallback    bool // true when resolved from a previous day's build
}

// Ref returns the full image reference
func (c *ImageCandidate) Ref() string {
	return c.Repository + ":" + c.Tag
}

// EnvState is the observed state of an execution environment
type EnvState string

const (
	EnvAbsent  EnvState = "absent"
	EnvStopped EnvState = "stopped"
	EnvRunning EnvState = "running"
)

// ExecutionEnvironment is a named long-lived container for one image tag.
// The name is derived from (repository, tag) so repeated invocations find
// and reuse it instead of creating a second one.
type ExecutionEnvironment struct {
	Name       string
	Image      string
	MountSpec  []string
	DeviceSpec []string
	State      EnvState
}

// TrialRun is a single benchmark execution at one config point.
// Once its log carries the terminal marker it is never re-executed.
type TrialRun struct {
	ConfigValue int
	TrialIndex  int
	LogPath     string
	Latency     float64 // end-to-end latency in seconds
	Throughput  float64
	TTFT        float64
	ITL         float64
	Completed   bool
}

// StageResult is the outcome of the correctness gate for one task invocation
type StageResult struct {
	TrialScores []float64
	MeanScore   float64
	Threshold   float64
	Passed      bool
}

// Classification is the outcome class assigned to one prior day's task log
type Classification string

const (
	NotRun              Classification = "NOT_RUN"
	Failed              Classification = "FAILED"
	CompletedWithErrors Classification = "COMPLETED_WITH_ERRORS"
	CompletedSuccess    Classification = "COMPLETED_SUCCESS"
)

// DailyOutcome records how one task ended on one day, for one hardware
type DailyOutcome struct {
	Date           time.Time
	Hardware       string
	TaskName       string
	Classification Classification
}

// RetryDecision says whether a task may fall back to a previous-day image.
// Derived deterministically from yesterday's DailyOutcome: fallback is
// allowed unless yesterday was a clean success.
type RetryDecision struct {
	TaskName      string
	AllowFallback bool
	Reason        string
}
