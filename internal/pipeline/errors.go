package pipeline

import "errors"

// Errors crossing the orchestrator/pipeline boundary.
var (
	// ErrCancelRequested is returned from a progress callback when the
	// task's cancellation flag is set, and returned from Run by a
	// pipeline that aborted in response. It is the only pipeline error
	// the orchestrator inspects.
	ErrCancelRequested = errors.New("cancellation requested")
)
