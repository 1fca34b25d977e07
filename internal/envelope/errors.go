package envelope

import (
	"errors"
	"fmt"
)

// ErrFormatMismatch is wrapped by a FormatError when an envelope has a valid
// shape but the wrong mode for the operation, e.g. a diff where a full
// snapshot was expected.
var ErrFormatMismatch = errors.New("envelope format mismatch")

// FormatError reports a malformed envelope: an unexpected mode byte, a count
// out of range, or a truncated stream. It is never retried.
type FormatError struct {
	// Offset is the byte position where the problem was detected.
	Offset int

	// Reason is a human-readable description.
	Reason string

	// Err is an optional underlying cause such as ErrFormatMismatch or a value codec error.
	Err error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("envelope: %s at offset %d: %v", e.Reason, e.Offset, e.Err)
	}
	return fmt.Sprintf("envelope: %s at offset %d", e.Reason, e.Offset)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// IsFormatError reports whether err is or wraps a *FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

// IsFormatMismatch reports whether err signals a mode mismatch.
func IsFormatMismatch(err error) bool {
	return errors.Is(err, ErrFormatMismatch)
}
