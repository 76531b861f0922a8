// Package orchestrator drives the nightly benchmark run: image resolution,
// environment lifecycle, correctness gate, performance sweep and report
// aggregation, one task at a time.
//
// Scheduling is single-threaded, sequential and blocking per invocation.
// Every external step (pull, container op, benchmark subprocess) is
// awaited to completion before the next one starts.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/rocm-bench/internal/classify"
	"github.com/psantana5/rocm-bench/internal/gate"
	"github.com/psantana5/rocm-bench/internal/lease"
	"github.com/psantana5/rocm-bench/internal/report"
	"github.com/psantana5/rocm-bench/internal/sweep"
	"github.com/psantana5/rocm-bench/pkg/config"
	"github.com/psantana5/rocm-bench/pkg/logging"
	"github.com/psantana5/rocm-bench/pkg/models"
)

// leaseTimeout bounds how long a task waits for the GPUs to go idle
const leaseTimeout = 30 * time.Minute

// ImageResolver finds a runnable image for a date
type ImageResolver interface {
	Resolve(ctx context.Context, date time.Time, family string) (*models.ImageCandidate, error)
}

// EnvManager brings execution environments to RUNNING
type EnvManager interface {
	Ensure(ctx context.Context, candidate *models.ImageCandidate) (*models.ExecutionEnvironment, error)
	StopOthers(ctx context.Context, keep string) error
}

// Execer runs a command inside a running environment
type Execer interface {
	Exec(ctx context.Context, name string, cmd ...string) (string, error)
}

// LeaseGuard hands out GPU leases
type LeaseGuard interface {
	Acquire(ctx context.Context, timeout time.Duration) (*lease.Lease, error)
}

// LogSyncer pushes logs to the shared artifact store
type LogSyncer interface {
	Sync(ctx context.Context, label string) error
}

// TaskSummary is the terminal state of one task after a nightly run
type TaskSummary struct {
	Name     string
	State    models.TaskState
	Image    string
	Fallback bool
}

// Orchestrator runs all configured tasks for one day
type Orchestrator struct {
	cfg      *config.Config
	resolver ImageResolver
	envs     EnvManager
	execer   Execer
	guard    LeaseGuard
	syncer   LogSyncer // nil when backup is disabled
	metrics  *Metrics
	log      *logging.Logger

	// now is replaceable in tests
	now func() time.Time

	mu     sync.RWMutex
	states map[string]models.TaskState
	runID  string
}

// New wires an orchestrator
func New(cfg *config.Config, resolver ImageResolver, envs EnvManager, execer Execer, guard LeaseGuard, syncer LogSyncer, metrics *Metrics, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		envs:     envs,
		execer:   execer,
		guard:    guard,
		syncer:   syncer,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		states:   make(map[string]models.TaskState),
	}
}

func (o *Orchestrator) logDir() string    { return filepath.Join(o.cfg.Workdir, "logs") }
func (o *Orchestrator) reportDir() string { return filepath.Join(o.cfg.Workdir, "reports") }

// RunNightly executes every configured task sequentially and returns their
// terminal states. One task's failure never blocks the next task.
func (o *Orchestrator) RunNightly(ctx context.Context) ([]TaskSummary, error) {
	o.runID = uuid.NewString()
	today := o.now()

	for _, dir := range []string{o.logDir(), o.reportDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	o.log.Info("Nightly run starting", map[string]interface{}{
		"run_id":   o.runID,
		"hardware": o.cfg.Hardware,
		"date":     today.Format(models.DateLayout),
		"tasks":    len(o.cfg.Tasks),
	})

	summaries := make([]TaskSummary, 0, len(o.cfg.Tasks))

	for i := range o.cfg.Tasks {
		task := &o.cfg.Tasks[i]

		select {
		case <-ctx.Done():
			return summaries, ctx.Err()
		default:
		}

		summary := o.runTask(ctx, task, today)
		summaries = append(summaries, summary)
		o.metrics.TasksTotal.WithLabelValues(string(summary.State)).Inc()

		if o.syncer != nil {
			if err := o.syncer.Sync(ctx, task.Name); err != nil {
				var lt *models.LockTimeoutError
				if !errors.As(err, &lt) {
					o.log.Warn("Log sync failed", map[string]interface{}{"task": task.Name, "error": err.Error()})
				}
			}
		}
	}

	o.log.Info("Nightly run finished", map[string]interface{}{"run_id": o.runID})
	return summaries, nil
}

// runTask takes one task through its daily state machine:
//
//	PENDING → (today's image found) → RUNNING → {SUCCESS, GATE_FAILURE, FAILED}
//	PENDING → (no image) → classify(yesterday) → {SKIP, RUNNING-with-fallback → ...}
func (o *Orchestrator) runTask(ctx context.Context, task *config.TaskConfig, today time.Time) TaskSummary {
	summary := TaskSummary{Name: task.Name}
	o.setState(task.Name, models.TaskPending)

	tl, err := openTaskLog(classify.DailyLogPath(o.logDir(), task.Name, today))
	if err != nil {
		o.log.Error("Cannot open task log", map[string]interface{}{"task": task.Name, "error": err.Error()})
		summary.State = o.transition(task.Name, models.TaskFailed)
		return summary
	}
	defer tl.Close()

	tl.Printf("run %s starting on %s", o.runID, o.cfg.Hardware)

	candidate, err := o.resolveImage(ctx, task, today, tl)
	if err != nil {
		summary.State = o.transition(task.Name, models.TaskFailed)
		return summary
	}
	if candidate == nil {
		// Yesterday succeeded and today has no build: nothing to do
		summary.State = o.transition(task.Name, models.TaskSkipped)
		return summary
	}

	summary.Image = candidate.Ref()
	summary.Fallback = candidate.Fallback

	if candidate.Fallback {
		o.metrics.ImageFallbacks.Inc()
		o.transition(task.Name, models.TaskRunningFallback)
		tl.Printf("using fallback image %s", candidate.Ref())
	} else {
		o.transition(task.Name, models.TaskRunning)
		tl.Printf("using image %s", candidate.Ref())
	}

	gpuLease, err := o.guard.Acquire(ctx, leaseTimeout)
	if err != nil {
		tl.Printf("gpu lease failed: %v", err)
		summary.State = o.transition(task.Name, models.TaskFailed)
		return summary
	}
	defer gpuLease.Release()

	env, err := o.envs.Ensure(ctx, candidate)
	if err != nil {
		tl.Printf("environment error: %v", err)
		summary.State = o.transition(task.Name, models.TaskFailed)
		return summary
	}
	tl.Printf("environment %s ready", env.Name)

	stage, err := o.runGate(ctx, task, env, tl)
	if err != nil {
		tl.Printf("gate execution error: %v", err)
		summary.State = o.transition(task.Name, models.TaskFailed)
		return summary
	}
	if !stage.Passed {
		// A failed gate is a terminal outcome, not a crash. The sweep
		// must not run on a functionally broken configuration.
		tl.Printf("%s: %s (mean %.4f < threshold %.4f)",
			classify.BenchFailureMarker, classify.AccuracyFailureMarker, stage.MeanScore, stage.Threshold)
		tl.Marker(classify.TaskTerminalMarker)
		summary.State = o.transition(task.Name, models.TaskGateFailure)
		return summary
	}
	tl.Printf("gate passed (mean %.4f >= threshold %.4f)", stage.MeanScore, stage.Threshold)

	results, err := o.runSweep(ctx, task, env, today, tl)
	if err != nil {
		tl.Printf("sweep aborted: %v", err)
		summary.State = o.transition(task.Name, models.TaskFailed)
		return summary
	}

	for _, pr := range results {
		if pr.ValidTrials == 0 {
			tl.Printf("%s: no valid trials at config point %d", classify.BenchFailureMarker, pr.ConfigValue)
		}
	}

	tl.Marker(classify.TaskTerminalMarker)
	summary.State = o.transition(task.Name, models.TaskSuccess)
	return summary
}

// resolveImage finds today's image, or decides on a fallback via the
// prior-day classifier. Returns (nil, nil) when the task should be skipped.
func (o *Orchestrator) resolveImage(ctx context.Context, task *config.TaskConfig, today time.Time, tl *taskLog) (*models.ImageCandidate, error) {
	candidate, err := o.resolver.Resolve(ctx, today, "")
	if err == nil {
		return candidate, nil
	}

	tl.Printf("no image for today: %v", err)
	o.log.Warn("Today's image unavailable", map[string]interface{}{"task": task.Name, "error": err.Error()})

	yesterday := today.AddDate(0, 0, -classify.LookbackDays)
	outcome := classify.Evaluate(o.logDir(), o.cfg.Hardware, task.Name, classify.KindServing, yesterday)
	decision := classify.Decide(outcome)

	tl.Printf("yesterday classified as %s; fallback allowed: %v (%s)",
		outcome.Classification, decision.AllowFallback, decision.Reason)

	if !decision.AllowFallback {
		tl.Printf("skipping: %s", decision.Reason)
		return nil, nil
	}

	candidate, err = o.resolver.Resolve(ctx, yesterday, "")
	if err != nil {
		tl.Printf("fallback image discovery failed: %v", err)
		return nil, err
	}

	candidate.Fallback = true
	return candidate, nil
}

// runGate executes the correctness gate inside the environment
func (o *Orchestrator) runGate(ctx context.Context, task *config.TaskConfig, env *models.ExecutionEnvironment, tl *taskLog) (*models.StageResult, error) {
	ctrl := gate.NewController(o.cfg.Gate.Trials, o.logDir(), o.log)

	stage, err := ctrl.Run(ctx, task.Name, task.Threshold, func(ctx context.Context, trial int) (string, error) {
		tl.Printf("accuracy trial %d starting", trial)
		return o.execer.Exec(ctx, env.Name, accuracyCommand(task)...)
	})
	if err != nil {
		return nil, err
	}

	o.metrics.GateScore.WithLabelValues(task.Name).Set(stage.MeanScore)
	return stage, nil
}

// runSweep executes the performance sweep, rebuilding the report after
// every point so an interruption still leaves a consistent table
func (o *Orchestrator) runSweep(ctx context.Context, task *config.TaskConfig, env *models.ExecutionEnvironment, today time.Time, tl *taskLog) ([]sweep.PointResult, error) {
	prefix := fmt.Sprintf("%s_%s_%s", task.Name, o.cfg.Hardware, today.Format(models.DateLayout))
	exec := sweep.NewExecutor(o.cfg.Sweep.Trials, o.logDir(), prefix, o.log)

	agg := report.NewAggregator(o.log)
	csvPath := filepath.Join(o.reportDir(), prefix+".csv")
	stackedPath := filepath.Join(o.reportDir(), prefix+"_stacked.tsv")

	exec.OnPoint = func(results []sweep.PointResult) {
		if err := agg.Rebuild(csvPath, task, results); err != nil {
			o.log.Error("Report rebuild failed", map[string]interface{}{"path": csvPath, "error": err.Error()})
		}
		if err := agg.WriteStacked(stackedPath, results); err != nil {
			o.log.Error("Stacked report failed", map[string]interface{}{"path": stackedPath, "error": err.Error()})
		}
	}

	results, err := exec.Run(ctx, o.cfg.PointsFor(task), func(ctx context.Context, point, trial int) (string, error) {
		tl.Printf("sweep point %d trial %d starting", point, trial)
		return o.execer.Exec(ctx, env.Name, benchCommand(task, point)...)
	})
	if err != nil {
		return nil, err
	}

	for _, pr := range results {
		o.metrics.TrialsExecuted.Add(float64(pr.Executed))
		o.metrics.TrialsResumed.Add(float64(pr.Resumed))
	}

	return results, nil
}

// transition moves a task to a new state, validating against the FSM
func (o *Orchestrator) transition(taskName string, to models.TaskState) models.TaskState {
	o.mu.Lock()
	defer o.mu.Unlock()

	from := o.states[taskName]
	if err := models.ValidateTransition(from, to); err != nil {
		o.log.Error("Invalid state transition", map[string]interface{}{
			"task": taskName, "from": string(from), "to": string(to), "error": err.Error(),
		})
	}
	o.states[taskName] = to
	return to
}

func (o *Orchestrator) setState(taskName string, s models.TaskState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[taskName] = s
}

// TaskStates returns a snapshot of current task states
func (o *Orchestrator) TaskStates() map[string]models.TaskState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snapshot := make(map[string]models.TaskState, len(o.states))
	for k, v := range o.states {
		snapshot[k] = v
	}
	return snapshot
}

// RunID returns the current run's id
func (o *Orchestrator) RunID() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runID
}

// accuracyCommand builds the correctness workload invocation
func accuracyCommand(task *config.TaskConfig) []string {
	return []string{
		"python3", "/workspace/benchmarks/benchmark_accuracy.py",
		"--model", task.Model,
		"--tp", strconv.Itoa(task.TP),
	}
}

// benchCommand builds the performance workload invocation for one point
func benchCommand(task *config.TaskConfig, point int) []string {
	return []string{
		"python3", "/workspace/benchmarks/benchmark_serving.py",
		"--model", task.Model,
		"--tp", strconv.Itoa(task.TP),
		"--concurrency", strconv.Itoa(point),
		"--input-len", strconv.Itoa(task.InputLen),
		"--output-len", strconv.Itoa(task.OutputLen),
	}
}
