package classify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/rocm-bench/pkg/models"
)

// TestClassifyLog covers the rule priority: critical markers beat
// everything, then terminal+bencherr, then terminal alone, then
// interrupted
func TestClassifyLog(t *testing.T) {
	cases := []struct {
		name string
		text string
		want models.Classification
	}{
		{
			name: "clean success",
			text: "run starting\ngate passed\nAll benchmarks completed\n",
			want: models.CompletedSuccess,
		},
		{
			name: "completed with benchmark failure",
			text: "Benchmark failed: no valid trials at config point 128\nAll benchmarks completed\n",
			want: models.CompletedWithErrors,
		},
		{
			name: "completed with accuracy failure",
			text: "Benchmark failed: accuracy below threshold (mean 0.75 < 0.80)\nAll benchmarks completed\n",
			want: models.CompletedWithErrors,
		},
		{
			name: "fatal runtime error beats terminal marker",
			text: "RuntimeError: HIP out of memory\nAll benchmarks completed\n",
			want: models.Failed,
		},
		{
			name: "lock conflict",
			text: "could not acquire lock on /dev/kfd\n",
			want: models.Failed,
		},
		{
			name: "abnormal server termination",
			text: "server process exited unexpectedly\n",
			want: models.Failed,
		},
		{
			name: "interrupted run, no markers at all",
			text: "run starting\nsweep point 128 trial 0 starting\n",
			want: models.Failed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyLog(KindServing, tc.text))
		})
	}
}

// TestEvaluate_AbsentLog tests that a missing daily log means the task
// never ran that day
func TestEvaluate_AbsentLog(t *testing.T) {
	date := time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC)
	outcome := Evaluate(t.TempDir(), "mi300", "llama70b", KindServing, date)

	assert.Equal(t, models.NotRun, outcome.Classification)
	assert.Equal(t, "llama70b", outcome.TaskName)
}

// TestEvaluate_ReadsDailyLog tests the log path convention end to end
func TestEvaluate_ReadsDailyLog(t *testing.T) {
	dir := t.TempDir()
	date := time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC)

	path := DailyLogPath(dir, "llama70b", date)
	require.Equal(t, filepath.Join(dir, "llama70b_20250830.log"), path)
	require.NoError(t, os.WriteFile(path, []byte("All benchmarks completed\n"), 0644))

	outcome := Evaluate(dir, "mi300", "llama70b", KindServing, date)
	assert.Equal(t, models.CompletedSuccess, outcome.Classification)
}

// TestDecide tests that fallback is denied exactly when yesterday was a
// clean success
func TestDecide(t *testing.T) {
	cases := []struct {
		classification models.Classification
		allowFallback  bool
	}{
		{models.CompletedSuccess, false},
		{models.CompletedWithErrors, true},
		{models.Failed, true},
		{models.NotRun, true},
	}

	for _, tc := range cases {
		d := Decide(models.DailyOutcome{TaskName: "x", Classification: tc.classification})
		assert.Equal(t, tc.allowFallback, d.AllowFallback, "classification %s", tc.classification)
		assert.NotEmpty(t, d.Reason)
	}
}
