package models

import "fmt"

// TaskState tracks one task through one day of the nightly run
type TaskState string

const (
	TaskPending         TaskState = "pending"          // Not yet started today
	TaskRunning         TaskState = "running"          // Running on today's image
	TaskRunningFallback TaskState = "running_fallback" // Running on a previous day's image
	TaskSkipped         TaskState = "skipped"          // No image and fallback not allowed
	TaskSuccess         TaskState = "success"          // Gate passed, sweep finished
	TaskGateFailure     TaskState = "gate_failure"     // Gate failed, sweep never ran
	TaskFailed          TaskState = "failed"           // Aborted by discovery/environment error
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[TaskState]map[TaskState]bool{
	TaskPending: {
		TaskRunning:         true, // Pending → Running (today's image found)
		TaskRunningFallback: true, // Pending → RunningFallback (classifier allowed reuse)
		TaskSkipped:         true, // Pending → Skipped (no image, yesterday was a clean success)
		TaskFailed:          true, // Pending → Failed (discovery error before any run)
	},
	TaskRunning: {
		TaskSuccess:     true, // Running → Success (sweep completed)
		TaskGateFailure: true, // Running → GateFailure (correctness gate failed)
		TaskFailed:      true, // Running → Failed (environment or execution error)
	},
	TaskRunningFallback: {
		TaskSuccess:     true,
		TaskGateFailure: true,
		TaskFailed:      true,
	},
	// Terminal states (no transitions allowed)
	TaskSkipped:     {},
	TaskSuccess:     {},
	TaskGateFailure: {},
	TaskFailed:      {},
}

// ValidateTransition checks if a task state transition is valid
func ValidateTransition(from, to TaskState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalState returns true if no further transitions are allowed
func IsTerminalState(state TaskState) bool {
	return len(validTransitions[state]) == 0
}

// Outcome maps a terminal task state to the classification a next-day
// classifier would assign if it only saw the state (used for reporting;
// the classifier itself reads log text, never this value).
func (s TaskState) Outcome() Classification {
	switch s {
	case TaskSuccess:
		return CompletedSuccess
	case TaskGateFailure:
		return CompletedWithErrors
	case TaskFailed:
		return Failed
	case TaskSkipped, TaskPending:
		return NotRun
	default:
		return NotRun
	}
}
