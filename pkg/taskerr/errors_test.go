package taskerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessagePrefersServerText(t *testing.T) {
	err := fmt.Errorf("update: %w", &RemoteWriteError{Op: "update", Msg: "Requested entity was not found.", Err: errors.New("googleapi: 404")})
	if got := Message(err); got != "Requested entity was not found." {
		t.Errorf("Message() = %q", got)
	}
}

func TestMessageFallsBackToError(t *testing.T) {
	err := &NotFoundError{ID: "task-9"}
	if got := Message(err); got != `task "task-9" not found` {
		t.Errorf("Message() = %q", got)
	}
	if Message(nil) != "" {
		t.Error("Message(nil) should be empty")
	}
}

func TestPredicates(t *testing.T) {
	wrapped := fmt.Errorf("create: %w", &AuthError{Msg: "no user"})
	if !IsAuth(wrapped) {
		t.Error("expected IsAuth")
	}
	if IsNotFound(wrapped) || IsValidation(wrapped) {
		t.Error("unexpected classification")
	}
	if !IsValidation(&ValidationError{Field: "title", Msg: "title is required"}) {
		t.Error("expected IsValidation")
	}
}

func TestFetchErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &FetchError{Source: "sheets", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("FetchError should unwrap to its cause")
	}
	if err.Error() != "sheets: fetch failed: connection refused" {
		t.Errorf("Error() = %q", err.Error())
	}
}
