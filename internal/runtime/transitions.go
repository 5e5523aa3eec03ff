package runtime

import "fmt"

var transitions = map[RunStatus][]RunStatus{
	RunPending:     {RunRunning, RunCancelled, RunInterrupted},
	RunRunning:     {RunStreaming, RunSucceeded, RunFailed, RunCancelled, RunInterrupted},
	RunStreaming:   {RunSucceeded, RunFailed, RunCancelled, RunInterrupted},
	RunInterrupted: {RunPending, RunCancelled},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves r to status, or fails with ErrInvalidTransition.
func transition(r *Run, to RunStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	return nil
}
