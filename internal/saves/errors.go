package saves

import "errors"

// Error categories. Returned errors wrap one category and the underlying
// cause, so errors.Is matches either.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotFound        = errors.New("save not found")
	ErrCorruptState    = errors.New("corrupt save state")
	ErrIO              = errors.New("storage failure")

	// ErrMissingFile accompanies ErrInvalidInput when an upload has no file.
	ErrMissingFile = errors.New("file is required")
)

// Error pairs a category with its cause.
type Error struct {
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// CauseMessage returns the cause text of a service error without its
// category prefix.
func CauseMessage(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Cause != nil {
		return se.Cause.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func fail(kind, cause error) error {
	return &Error{Kind: kind, Cause: cause}
}
