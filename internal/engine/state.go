package engine

import (
	"fmt"

	"signalbridge/internal/model"
)

// legalTransitions is the closed edge set of the execution lifecycle.
// FAILED → VALIDATED covers the explicit confirm-replay path.
var legalTransitions = map[model.ExecState][]model.ExecState{
	model.ExecPending:         {model.ExecValidated, model.ExecFailed},
	model.ExecPendingApproval: {model.ExecValidated, model.ExecFailed, model.ExecCancelled},
	model.ExecValidated:       {model.ExecExecuting, model.ExecFailed},
	model.ExecExecuting:       {model.ExecExecuted, model.ExecFailed},
	model.ExecExecuted:        {model.ExecClosed},
	model.ExecFailed:          {model.ExecValidated},
}

// CanTransition reports whether from → to is a legal lifecycle edge.
func CanTransition(from, to model.ExecState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition returns a descriptive error for an illegal edge.
func checkTransition(from, to model.ExecState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal execution transition %s -> %s", from, to)
	}
	return nil
}
