package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/psantana5/rocm-bench/internal/classify"
	"github.com/psantana5/rocm-bench/internal/lease"
	"github.com/psantana5/rocm-bench/pkg/config"
	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
)

var testToday = time.Date(2025, 8, 31, 2, 0, 0, 0, time.UTC)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.ERROR, false)
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Hardware: "mi300",
		Workdir:  t.TempDir(),
		Gate:     config.GateConfig{Trials: 2},
		Sweep:    config.SweepConfig{Trials: 1, Points: []int{4, 1}},
		Tasks: []config.TaskConfig{{
			Name: "llama70b", Model: "/models/llama70b", Threshold: 0.8,
			TP: 8, InputLen: 128, OutputLen: 128,
		}},
	}
}

// fakeResolver serves candidates keyed by date
type fakeResolver struct {
	images map[string]*models.ImageCandidate
}

func (f *fakeResolver) Resolve(ctx context.Context, date time.Time, family string) (*models.ImageCandidate, error) {
	key := date.Format(models.DateLayout)
	if c, ok := f.images[key]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, &models.DiscoveryError{
		Repository: "rocm/vllm-nightly", Hardware: "mi300", Date: key,
		Message: "no tag for any family",
	}
}

type fakeEnvs struct {
	ensured int
}

func (f *fakeEnvs) Ensure(ctx context.Context, candidate *models.ImageCandidate) (*models.ExecutionEnvironment, error) {
	f.ensured++
	return &models.ExecutionEnvironment{
		Name:  "rocmbench-test",
		Image: candidate.Ref(),
		State: models.EnvRunning,
	}, nil
}

func (f *fakeEnvs) StopOthers(ctx context.Context, keep string) error { return nil }

// fakeExecer answers accuracy and serving invocations separately
type fakeExecer struct {
	t           *testing.T
	accuracy    float64
	failServing bool // fail the test if a serving benchmark is ever issued
	served      int
}

func (f *fakeExecer) Exec(ctx context.Context, name string, cmd ...string) (string, error) {
	joined := strings.Join(cmd, " ")

	if strings.Contains(joined, "benchmark_accuracy.py") {
		return fmt.Sprintf("eval done\nAccuracy: %.2f\n", f.accuracy), nil
	}

	if strings.Contains(joined, "benchmark_serving.py") {
		if f.failServing {
			f.t.Errorf("Serving benchmark issued after gate failure: %s", joined)
		}
		f.served++
		return `===== Benchmark Summary =====
Prefill. latency: 0.5 sec, throughput: 2000.0 token/s
Decode. median latency: 0.02 sec, median throughput: 3000.0 token/s
E2E. latency: 5.0 sec, throughput: 800.0 token/s
TTFT: 100
ITL: 10
`, nil
	}

	return "", fmt.Errorf("unexpected command: %s", joined)
}

type fakeGuard struct{ acquired int }

func (f *fakeGuard) Acquire(ctx context.Context, timeout time.Duration) (*lease.Lease, error) {
	f.acquired++
	return &lease.Lease{}, nil
}

func newTestOrchestrator(cfg *config.Config, resolver ImageResolver, execer Execer) (*Orchestrator, *fakeEnvs, *fakeGuard) {
	envs := &fakeEnvs{}
	guard := &fakeGuard{}
	o := New(cfg, resolver, envs, execer, guard, nil, NewMetrics(), testLogger())
	o.now = func() time.Time { return testToday }
	return o, envs, guard
}

func dailyLog(t *testing.T, o *Orchestrator, task string, date time.Time) string {
	t.Helper()
	data, err := os.ReadFile(classify.DailyLogPath(o.logDir(), task, date))
	if err != nil {
		t.Fatalf("Daily log missing: %v", err)
	}
	return string(data)
}

// TestRunNightly_Success tests the full happy path: gate passes, sweep
// runs every point and the daily log ends with the terminal marker
func TestRunNightly_Success(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{images: map[string]*models.ImageCandidate{
		"20250831": {Repository: "rocm/vllm-nightly", Tag: "rocm6.4_vllm0.9-mi300-20250831", Pullable: true},
	}}
	execer := &fakeExecer{t: t, accuracy: 0.9}
	o, envs, guard := newTestOrchestrator(cfg, resolver, execer)

	summaries, err := o.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("RunNightly failed: %v", err)
	}

	if len(summaries) != 1 || summaries[0].State != models.TaskSuccess {
		t.Fatalf("Expected success, got %+v", summaries)
	}
	if summaries[0].Fallback {
		t.Error("Expected a same-day image, not a fallback")
	}
	if envs.ensured != 1 || guard.acquired != 1 {
		t.Errorf("Expected one env and one lease, got %d/%d", envs.ensured, guard.acquired)
	}
	// 2 points x 1 trial
	if execer.served != 2 {
		t.Errorf("Expected 2 serving trials, got %d", execer.served)
	}

	text := dailyLog(t, o, "llama70b", testToday)
	if !strings.Contains(text, classify.TaskTerminalMarker) {
		t.Errorf("Daily log missing terminal marker:\n%s", text)
	}
	if classify.ClassifyLog(classify.KindServing, text) != models.CompletedSuccess {
		t.Errorf("Daily log does not classify as clean success:\n%s", text)
	}
}

// TestRunNightly_GateShortCircuit tests that a failed gate is terminal:
// the sweep never runs, the state is gate_failure, and the daily log still
// carries the terminal marker plus the failure markers
func TestRunNightly_GateShortCircuit(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{images: map[string]*models.ImageCandidate{
		"20250831": {Repository: "rocm/vllm-nightly", Tag: "rocm6.4_vllm0.9-mi300-20250831", Pullable: true},
	}}
	execer := &fakeExecer{t: t, accuracy: 0.1, failServing: true}
	o, _, _ := newTestOrchestrator(cfg, resolver, execer)

	summaries, err := o.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("RunNightly failed: %v", err)
	}

	if summaries[0].State != models.TaskGateFailure {
		t.Fatalf("Expected gate_failure, got %s", summaries[0].State)
	}

	text := dailyLog(t, o, "llama70b", testToday)
	for _, marker := range []string{classify.BenchFailureMarker, classify.AccuracyFailureMarker, classify.TaskTerminalMarker} {
		if !strings.Contains(text, marker) {
			t.Errorf("Daily log missing %q:\n%s", marker, text)
		}
	}
	if classify.ClassifyLog(classify.KindServing, text) != models.CompletedWithErrors {
		t.Errorf("Gate failure should classify as completed-with-errors:\n%s", text)
	}
}

// TestRunNightly_SkipsWhenYesterdayClean tests the no-image path: with no
// build for today and a clean run yesterday, the task is skipped entirely
func TestRunNightly_SkipsWhenYesterdayClean(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{images: map[string]*models.ImageCandidate{}}
	execer := &fakeExecer{t: t, accuracy: 0.9, failServing: true}
	o, envs, _ := newTestOrchestrator(cfg, resolver, execer)

	yesterday := testToday.AddDate(0, 0, -1)
	if err := os.MkdirAll(o.logDir(), 0755); err != nil {
		t.Fatal(err)
	}
	clean := "run abc starting on mi300\n" + classify.TaskTerminalMarker + "\n"
	if err := os.WriteFile(classify.DailyLogPath(o.logDir(), "llama70b", yesterday), []byte(clean), 0644); err != nil {
		t.Fatal(err)
	}

	summaries, err := o.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("RunNightly failed: %v", err)
	}

	if summaries[0].State != models.TaskSkipped {
		t.Fatalf("Expected skipped, got %s", summaries[0].State)
	}
	if envs.ensured != 0 {
		t.Errorf("Skipped task must not touch the environment, got %d ensures", envs.ensured)
	}
}

// TestRunNightly_FallbackWhenYesterdayFailed tests the retry path: no
// build for today and a crashed run yesterday reruns on yesterday's image
func TestRunNightly_FallbackWhenYesterdayFailed(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{images: map[string]*models.ImageCandidate{
		"20250830": {Repository: "rocm/vllm-nightly", Tag: "rocm6.4_vllm0.9-mi300-20250830", Pullable: true},
	}}
	execer := &fakeExecer{t: t, accuracy: 0.9}
	o, _, _ := newTestOrchestrator(cfg, resolver, execer)

	yesterday := testToday.AddDate(0, 0, -1)
	if err := os.MkdirAll(o.logDir(), 0755); err != nil {
		t.Fatal(err)
	}
	crashed := "run abc starting on mi300\nRuntimeError: HIP out of memory\n"
	if err := os.WriteFile(classify.DailyLogPath(o.logDir(), "llama70b", yesterday), []byte(crashed), 0644); err != nil {
		t.Fatal(err)
	}

	summaries, err := o.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("RunNightly failed: %v", err)
	}

	if summaries[0].State != models.TaskSuccess {
		t.Fatalf("Expected success on fallback image, got %s", summaries[0].State)
	}
	if !summaries[0].Fallback {
		t.Error("Expected the fallback flag on the summary")
	}
	if !strings.Contains(summaries[0].Image, "20250830") {
		t.Errorf("Expected yesterday's image, got %s", summaries[0].Image)
	}
}

// TestRunNightly_NoImageNoHistory tests that a task with neither a build
// nor any prior run still attempts a fallback resolve and fails cleanly
func TestRunNightly_NoImageNoHistory(t *testing.T) {
	cfg := testConfig(t)
	resolver := &fakeResolver{images: map[string]*models.ImageCandidate{}}
	execer := &fakeExecer{t: t, failServing: true}
	o, _, _ := newTestOrchestrator(cfg, resolver, execer)

	summaries, err := o.RunNightly(context.Background())
	if err != nil {
		t.Fatalf("RunNightly failed: %v", err)
	}

	// NOT_RUN allows fallback, but yesterday has no image either
	if summaries[0].State != models.TaskFailed {
		t.Fatalf("Expected failed, got %s", summaries[0].State)
	}
}
