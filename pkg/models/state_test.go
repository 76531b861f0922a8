package models

import "testing"

// TestValidTransitions tests every allowed edge of the task state machine
func TestValidTransitions(t *testing.T) {
	valid := []struct{ from, to TaskState }{
		{TaskPending, TaskRunning},
		{TaskPending, TaskRunningFallback},
		{TaskPending, TaskSkipped},
		{TaskPending, TaskFailed},
		{TaskRunning, TaskSuccess},
		{TaskRunning, TaskGateFailure},
		{TaskRunning, TaskFailed},
		{TaskRunningFallback, TaskSuccess},
		{TaskRunningFallback, TaskGateFailure},
		{TaskRunningFallback, TaskFailed},
	}

	for _, tc := range valid {
		if err := ValidateTransition(tc.from, tc.to); err != nil {
			t.Errorf("Expected %s -> %s to be valid: %v", tc.from, tc.to, err)
		}
	}
}

// TestInvalidTransitions tests that terminal states and skips of the
// running stage are rejected
func TestInvalidTransitions(t *testing.T) {
	invalid := []struct{ from, to TaskState }{
		{TaskPending, TaskSuccess},     // must pass through running
		{TaskPending, TaskGateFailure}, // gate only runs on a running task
		{TaskSuccess, TaskRunning},     // terminal
		{TaskSkipped, TaskRunning},     // terminal
		{TaskGateFailure, TaskSuccess}, // terminal
		{TaskFailed, TaskPending},      // terminal
		{TaskRunning, TaskRunningFallback},
	}

	for _, tc := range invalid {
		if err := ValidateTransition(tc.from, tc.to); err == nil {
			t.Errorf("Expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

// TestValidateTransition_UnknownState tests the unknown-source guard
func TestValidateTransition_UnknownState(t *testing.T) {
	if err := ValidateTransition(TaskState("bogus"), TaskRunning); err == nil {
		t.Error("Expected error for unknown source state")
	}
}

// TestIsTerminalState tests the terminal set
func TestIsTerminalState(t *testing.T) {
	for _, s := range []TaskState{TaskSkipped, TaskSuccess, TaskGateFailure, TaskFailed} {
		if !IsTerminalState(s) {
			t.Errorf("Expected %s to be terminal", s)
		}
	}
	for _, s := range []TaskState{TaskPending, TaskRunning, TaskRunningFallback} {
		if IsTerminalState(s) {
			t.Errorf("Expected %s to be non-terminal", s)
		}
	}
}

// TestOutcome tests the state-to-classification mapping used in reports
func TestOutcome(t *testing.T) {
	cases := map[TaskState]Classification{
		TaskSuccess:     CompletedSuccess,
		TaskGateFailure: CompletedWithErrors,
		TaskFailed:      Failed,
		TaskSkipped:     NotRun,
		TaskPending:     NotRun,
	}

	for state, want := range cases {
		if got := state.Outcome(); got != want {
			t.Errorf("%s.Outcome() = %s, want %s", state, got, want)
		}
	}
}
