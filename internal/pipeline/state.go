package pipeline

import (
	"fmt"

	"medevent/internal/types"
)

// taskTransitions is the task lifecycle. A task is born pending, is claimed
// into processing by exactly one sweep, and ends completed or failed.
// Deletion is not a transition: a pending task whose event policy now
// contradicts it is removed outright rather than moved to a terminal state.
var taskTransitions = map[types.TaskStatus][]types.TaskStatus{
	types.TaskStatusPending:    {types.TaskStatusProcessing},
	types.TaskStatusProcessing: {types.TaskStatusCompleted, types.TaskStatusFailed},
	types.TaskStatusCompleted:  {},
	types.TaskStatusFailed:     {},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to types.TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a descriptive error when the status change is
// not part of the task lifecycle.
func ValidateTransition(from, to types.TaskStatus) error {
	if !CanTransition(from, to) {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("invalid task transition from %q to %q", from, to), nil)
	}
	return nil
}
