package commands

import (
	"errors"

	"github.com/doughall/taskd/internal/schedule"
	"github.com/doughall/taskd/internal/scheduler"
	"github.com/doughall/taskd/internal/tasks"
)

// Errors returned by the command surface itself.
var (
	ErrNotImplemented = errors.New("not implemented")
	ErrBadRequest     = errors.New("bad request")
	ErrNoHistory      = errors.New("activation history is disabled")
)

// Wire error codes.
const (
	CodeConflictingOrMissingSchedule = "conflicting_or_missing_schedule"
	CodeInvalidDate                  = "invalid_date"
	CodeInvalidEvery                 = "invalid_every"
	CodeSchedulingFailed             = "scheduling_failed"
	CodeNotFound                     = "not_found"
	CodeCancellationFailed           = "cancellation_failed"
	CodeNotImplemented               = "not_implemented"
	CodeBadRequest                   = "bad_request"
	CodeInternal                     = "internal"
	CodeRateLimited                  = "rate_limited"
)

var codes = []struct {
	err  error
	code string
}{
	{schedule.ErrConflictingOrMissingSchedule, CodeConflictingOrMissingSchedule},
	{schedule.ErrInvalidDate, CodeInvalidDate},
	{schedule.ErrInvalidEvery, CodeInvalidEvery},
	{scheduler.ErrSchedulingFailed, CodeSchedulingFailed},
	{scheduler.ErrNotFound, CodeNotFound},
	{scheduler.ErrCancellationFailed, CodeCancellationFailed},
	{ErrNotImplemented, CodeNotImplemented},
	{ErrBadRequest, CodeBadRequest},
	{ErrNoHistory, CodeBadRequest},
	{scheduler.ErrTaskRequired, CodeBadRequest},
	{tasks.ErrInvalidTask, CodeBadRequest},
	{tasks.ErrUnknownType, CodeBadRequest},
	{tasks.ErrNoPublisher, CodeBadRequest},
}

// Code maps an error onto its wire code.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// toErrorBody renders err for a response. Batch removal failures carry one
// entry per failed id.
func toErrorBody(err error) *ErrorBody {
	body := &ErrorBody{Message: err.Error()}

	var re *scheduler.RemoveError
	if errors.As(err, &re) {
		for _, je := range re.Errors {
			body.Errors = append(body.Errors, JobErrorBody{
				ID:      je.ID,
				Code:    Code(je.Err),
				Message: je.Err.Error(),
			})
		}
		// A batch with a single cause reports that cause's code.
		body.Code = body.Errors[0].Code
		for _, e := range body.Errors[1:] {
			if e.Code != body.Code {
				body.Code = CodeCancellationFailed
				break
			}
		}
		return body
	}

	body.Code = Code(err)
	return body
}
