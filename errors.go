package workq

import (
	"fmt"
	"runtime/debug"
)

// Common errors returned by the work queue.
var (
	// ErrAllocation is returned when a queue, event or item could not be
	// allocated. Creation failures are fully unwound before it is returned;
	// a failed submission hands every item it had built back to the
	// free-list.
	ErrAllocation = &QueueError{msg: "allocation failed"}

	// ErrQueueDestroyed is returned when submitting to a destroyed queue.
	ErrQueueDestroyed = &QueueError{msg: "queue is destroyed"}

	// ErrNilCallback is returned when submitting a nil callback.
	ErrNilCallback = &QueueError{msg: "callback is nil"}

	// ErrTimeout is returned by Release when the item did not complete
	// within the release wait. The item stays out of the free-list.
	ErrTimeout = &QueueError{msg: "operation timed out"}

	// ErrInvalidConfig is wrapped by every configuration validation error.
	//
	// Example:
	//
	//	if errors.Is(err, workq.ErrInvalidConfig) {
	//	    // fix options
	//	}
	ErrInvalidConfig = &QueueError{msg: "invalid config"}

	// ErrInvalidParams is returned by SubmitStrided when the parameter
	// slice is too short for the requested count and stride.
	ErrInvalidParams = &QueueError{msg: "parameter slice too short"}
)

// QueueError represents an error that occurred within the work queue.
//
// QueueError implements the error interface and supports error unwrapping
// via errors.Unwrap.
type QueueError struct {
	msg  string      // Human-readable error message
	err  error       // Underlying error (if any)
	kind *QueueError // Sentinel this error is classified as (if any)
}

// Error returns a formatted error message.
// If an underlying error exists, it is included in the output.
func (e *QueueError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("workq: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("workq: %s", e.msg)
}

// Unwrap returns the underlying error, allowing use with errors.Is and errors.As.
func (e *QueueError) Unwrap() error {
	return e.err
}

// Is reports whether target is the sentinel this error is classified as.
func (e *QueueError) Is(target error) bool {
	return e.kind != nil && target == error(e.kind)
}

// errInvalidConfig creates an error for invalid queue configuration.
// This is returned during queue creation when validation fails.
func errInvalidConfig(msg string) error {
	return &QueueError{msg: "invalid config: " + msg, kind: ErrInvalidConfig}
}

// PanicError is stored as the result of an item whose callback panicked.
type PanicError struct {
	Value interface{}
	Stack string
}

// Error implements the error interface for PanicError.
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func newPanicError(r interface{}) *PanicError {
	return &PanicError{Value: r, Stack: string(debug.Stack())}
}
