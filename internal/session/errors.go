package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stemsi/exstem-runtime/internal/window"
)

var (
	ErrAlreadyAttempted = errors.New("exam already attempted")
	ErrAlreadySubmitted = errors.New("session already submitted")
	ErrAlreadyStarted   = errors.New("session already started")
	ErrBusy             = errors.New("a start or submit request is already in flight")
	ErrNotRunning       = errors.New("session is not running")
	ErrNotOpen          = errors.New("session has not been opened")
	ErrClosed           = errors.New("session is closed")
	ErrUnknownQuestion  = errors.New("question does not belong to this exam")
	ErrInvalidOption    = errors.New("answer must be one of A, B, C, D")
)

// StartRejectedError is a real-mode start refused by the window check or by
// the Exam Service.
type StartRejectedError struct {
	WindowStatus window.Status
	Reason       string
}

func (e *StartRejectedError) Error() string {
	if e.Reason == "" {
		return "exam start rejected"
	}
	return "exam start rejected: " + e.Reason
}

// ConfirmationRequiredError is returned by Submit in real mode while questions
// are still unanswered. SubmitAnyway proceeds.
type ConfirmationRequiredError struct {
	Unanswered []string
}

func (e *ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("%d question(s) unanswered: %s", len(e.Unanswered), strings.Join(e.Unanswered, ", "))
}
