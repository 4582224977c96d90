package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by the registry and the engine.
var (
	ErrNotFound           = errors.New("task not found")
	ErrSchedulingFailed   = errors.New("scheduling failed")
	ErrCancellationFailed = errors.New("unable to cancel task")
	ErrTaskRequired       = errors.New("task is required")
	ErrNeverFires         = errors.New("schedule has no future activation")
)

// JobError ties a failure to the job id it happened on.
type JobError struct {
	ID  string
	Err error
}

func (e *JobError) Error() string {
	return e.ID + ": " + e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// RemoveError collects every per-id failure of a batch removal. Ids that are
// not listed were cancelled and evicted.
type RemoveError struct {
	// Attempted is the number of ids in the batch.
	Attempted int
	// Errors holds one entry per failed id, in batch order.
	Errors []*JobError
}

func (e *RemoveError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, je := range e.Errors {
		parts[i] = je.Error()
	}
	return fmt.Sprintf("failed to remove %d of %d tasks: %s",
		len(e.Errors), e.Attempted, strings.Join(parts, "; "))
}

// Unwrap exposes the per-id errors to errors.Is and errors.As.
func (e *RemoveError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, je := range e.Errors {
		errs[i] = je
	}
	return errs
}

// Failed returns the ids that could not be removed.
func (e *RemoveError) Failed() []string {
	ids := make([]string, len(e.Errors))
	for i, je := range e.Errors {
		ids[i] = je.ID
	}
	return ids
}

// Partial reports whether some ids in the batch were removed.
func (e *RemoveError) Partial() bool {
	return len(e.Errors) < e.Attempted
}

// Succeeded returns the number of ids that were removed.
func (e *RemoveError) Succeeded() int {
	return e.Attempted - len(e.Errors)
}
