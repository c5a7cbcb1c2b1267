// Package taskerr defines the failures surfaced by the task sources and the
// mutation pipeline.
package taskerr

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned when a backend lacks an operation, e.g. deleting
// rows from a spreadsheet.
var ErrUnsupported = errors.New("operation not supported by this backend")

// FetchError reports a failure reading from the remote source.
type FetchError struct {
	Source string
	Msg    string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil && e.Msg == "" {
		return fmt.Sprintf("%s: fetch failed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("%s: fetch failed: %s", e.Source, e.Msg)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ValidationError reports input rejected before any remote call.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid task: " + e.Msg
	}
	return fmt.Sprintf("invalid task %s: %s", e.Field, e.Msg)
}

// AuthError reports a write attempted without the required principal.
type AuthError struct {
	Msg string
	Err error
}

func (e *AuthError) Error() string {
	if e.Msg == "" {
		return "authentication required"
	}
	return "authentication required: " + e.Msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// NotFoundError reports a mutation target that does not exist.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.ID)
}

// RemoteWriteError reports a write rejected by the server. Msg holds the
// server's message verbatim when one was supplied.
type RemoteWriteError struct {
	Op  string
	Msg string
	Err error
}

func (e *RemoteWriteError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s rejected: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s rejected: %v", e.Op, e.Err)
}

func (e *RemoteWriteError) Unwrap() error { return e.Err }

// Message returns the most specific human-readable text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var rw *RemoteWriteError
	if errors.As(err, &rw) && rw.Msg != "" {
		return rw.Msg
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Msg != "" {
		return fe.Msg
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return err.Error()
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
