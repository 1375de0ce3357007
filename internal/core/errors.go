package core

import "fmt"

// ErrorKind classifies the synchronous errors the engine reports from its
// registration and event APIs. Internal inconsistencies (actives counter
// under/overflow) are recovered by clamping and logging; they never surface
// as an ErrorKind.
type ErrorKind int

const (
	// InvalidArgument covers a sub-minimum time limit or an empty observed set.
	InvalidArgument ErrorKind = iota
	// QuotaExceeded covers the per-uid observer cap.
	QuotaExceeded
	// StateConflict covers noteUsageStart on an already-active name, or
	// noteUsageStop on an inactive one.
	StateConflict
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case QuotaExceeded:
		return "QuotaExceeded"
	case StateConflict:
		return "StateConflict"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type returned by the engine's public surface.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NewInvalidArgument builds an InvalidArgument error.
func NewInvalidArgument(format string, args ...any) *Error {
	return newErr(InvalidArgument, format, args...)
}

// NewQuotaExceeded builds a QuotaExceeded error.
func NewQuotaExceeded(format string, args ...any) *Error {
	return newErr(QuotaExceeded, format, args...)
}

// NewStateConflict builds a StateConflict error.
func NewStateConflict(format string, args ...any) *Error {
	return newErr(StateConflict, format, args...)
}

// KindOf extracts the ErrorKind from err, if err is a *Error.
func KindOf(err error) (ErrorKind, bool) {
	e, ok := err.(*Error)
	if !ok {
		return 0, false
	}
	return e.Kind, true
}
