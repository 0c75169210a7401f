package models

import "errors"

// Classified errors returned by the orchestration core. Handlers map these to
// HTTP problem responses; callers inspect them with errors.Is.
var (
	// ErrUnknownWorkflow means the referenced workflow id does not exist.
	ErrUnknownWorkflow = errors.New("unknown workflow")

	// ErrUnauthorized means the caller's credential space does not cover the
	// requested operation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTransition means an attempted write would move a workflow to a
	// structurally invalid state, e.g. storing results before context was
	// fetched. Forward no-op retries are NOT this error.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrAggregationUnavailable means an upstream collaborator failed while
	// assembling the context bundle. The workflow is left untouched so the
	// caller can retry.
	ErrAggregationUnavailable = errors.New("context aggregation unavailable")

	// ErrDuplicateTask means a store-subtask call reused a task id that is
	// already bound to a different workflow.
	ErrDuplicateTask = errors.New("task id bound to another workflow")

	// ErrDuplicateTrigger means another trigger for the same learning context
	// is already in flight within the dedup window.
	ErrDuplicateTrigger = errors.New("trigger already in flight for this context")

	// ErrSubtaskNotFound means the referenced subtask does not exist.
	ErrSubtaskNotFound = errors.New("subtask not found")

	// ErrAttemptLimit means the subtask has already consumed max_attempts.
	ErrAttemptLimit = errors.New("attempt limit reached")

	// ErrSubtaskCompleted means no further attempts are accepted.
	ErrSubtaskCompleted = errors.New("subtask already completed")

	// ErrInvalidRequest covers malformed caller input.
	ErrInvalidRequest = errors.New("invalid request")
)
