package queue

import "errors"

// Sentinel errors for synchronous rejections at the facade boundary. Callers
// distinguish them with errors.Is; none of them ever moves a job into
// Processing.
var (
	// ErrDuplicate marks an add whose source path is already queued.
	ErrDuplicate = errors.New("duplicate source path")
	// ErrCapacity marks an add rejected because the queue is full.
	ErrCapacity = errors.New("queue capacity exceeded")
	// ErrPrecondition marks a start rejected for a missing prerequisite,
	// such as no output directory or no media descriptor.
	ErrPrecondition = errors.New("precondition not met")
	// ErrNotFound marks an operation on an unknown job id.
	ErrNotFound = errors.New("job not found")
)

// Reason maps a rejection error to a stable reason code for callers that
// report outcomes without inspecting error chains.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrCapacity):
		return "capacity"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
