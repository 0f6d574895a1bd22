package engine

import (
	"testing"

	"signalbridge/internal/model"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	legal := []struct{ from, to model.ExecState }{
		{model.ExecPending, model.ExecValidated},
		{model.ExecPending, model.ExecFailed},
		{model.ExecPendingApproval, model.ExecValidated},
		{model.ExecPendingApproval, model.ExecFailed},
		{model.ExecPendingApproval, model.ExecCancelled},
		{model.ExecValidated, model.ExecExecuting},
		{model.ExecValidated, model.ExecFailed},
		{model.ExecExecuting, model.ExecExecuted},
		{model.ExecExecuting, model.ExecFailed},
		{model.ExecExecuted, model.ExecClosed},
		{model.ExecFailed, model.ExecValidated}, // confirm replay
	}
	for _, tc := range legal {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be legal", tc.from, tc.to)
		}
	}

	illegal := []struct{ from, to model.ExecState }{
		{model.ExecPending, model.ExecExecuting},
		{model.ExecPending, model.ExecExecuted},
		// Only the approval gate can be cancelled; an ungated pending
		// execution is already on its way to validation.
		{model.ExecPending, model.ExecCancelled},
		{model.ExecValidated, model.ExecCancelled},
		{model.ExecExecuting, model.ExecCancelled},
		{model.ExecExecuted, model.ExecFailed},
		{model.ExecExecuted, model.ExecExecuting},
		{model.ExecClosed, model.ExecExecuted},
		{model.ExecCancelled, model.ExecValidated},
		{model.ExecFailed, model.ExecExecuting},
	}
	for _, tc := range illegal {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s must be illegal", tc.from, tc.to)
		}
	}

	if err := checkTransition(model.ExecClosed, model.ExecPending); err == nil {
		t.Error("checkTransition must reject reopening a closed execution")
	}
}
