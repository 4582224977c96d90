package schedule

import "errors"

// Errors returned while normalizing a schedule.
var (
	ErrConflictingOrMissingSchedule = errors.New(`use either "for" or "every" but not both`)
	ErrInvalidDate                  = errors.New(`unable to parse "for", is this a real date?`)
	ErrInvalidEvery                 = errors.New(`the "every" argument should be a field mapping`)
	ErrUnknownEndianness            = errors.New("unknown endianness")
	ErrUnknownLocale                = errors.New("unknown locale")
)
