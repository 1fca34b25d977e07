package session

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes lock protocol errors.
type ErrorCode string

const (
	// ErrCodeInvalidState indicates a release against a record that is not locked.
	// This is a caller bug such as releasing twice.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeOwnershipMismatch indicates a release whose owner or token does not
	// match the held lock, typically a stale message after the lock was reassigned.
	ErrCodeOwnershipMismatch ErrorCode = "LOCK_OWNERSHIP_MISMATCH"
)

// Error is a lock protocol failure. It is fatal to the call that produced it
// and is never retried by this package.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Key is the store key of the affected record, when known.
	Key string

	// Details contains additional context.
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsInvalidState reports whether err is a release-without-lock error.
// Uses errors.As to handle wrapped errors.
func IsInvalidState(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeInvalidState
	}
	return false
}

// IsOwnershipMismatch reports whether err is a fencing rejection.
// Uses errors.As to handle wrapped errors.
func IsOwnershipMismatch(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == ErrCodeOwnershipMismatch
	}
	return false
}

// NewInvalidStateError creates an Error for a release without a held lock.
func NewInvalidStateError() *Error {
	return &Error{
		Code:    ErrCodeInvalidState,
		Message: "release without held lock",
	}
}

// NewOwnershipMismatchError creates an Error for a release whose owner or token
// does not match the held lock.
func NewOwnershipMismatchError(held, presented Lock) *Error {
	msg := "lock token check failed"
	if held.Owner != presented.Owner {
		msg = "lock owner check failed"
	}
	return &Error{
		Code:    ErrCodeOwnershipMismatch,
		Message: msg,
		Details: map[string]string{
			"held_owner":      held.Owner.String(),
			"held_token":      fmt.Sprintf("%d", held.Token),
			"presented_owner": presented.Owner.String(),
			"presented_token": fmt.Sprintf("%d", presented.Token),
		},
	}
}

// withKey sets the key on a protocol error, leaving other errors untouched.
func withKey(err error, key string) error {
	var se *Error
	if errors.As(err, &se) && se.Key == "" {
		se.Key = key
	}
	return err
}
