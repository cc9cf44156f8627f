package dispatch

import "errors"

var (
	// ErrUnknownAction is returned for an action name or value outside the
	// closed action set.
	ErrUnknownAction = errors.New("unknown action")

	// ErrEmptyTable is returned when a token table maps no byte at all.
	ErrEmptyTable = errors.New("empty token table")

	// ErrRangeTooWide is returned when the valid token range spans more
	// than MaxRangeWidth bytes.
	ErrRangeTooWide = errors.New("token range too wide")
)
