package models

import (
	"errors"
	"fmt"
)

// Application-wide standard errors
var (
	// Common resource/DB errors
	ErrNotFound = errors.New("resource not found")

	// Auth errors
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")

	// Workflow errors
	ErrGenerationInProgress = errors.New("a generation job is already in flight for this session")
	ErrSessionLocked        = errors.New("session is submitted and no longer editable")
	ErrInvalidStep          = errors.New("action is not valid for the current workflow step")
	ErrNoImageSelected      = errors.New("no image is selected")
	ErrImageNotInSession    = errors.New("image does not belong to this session")
	ErrNothingToUndo        = errors.New("edit history is empty")
	ErrEmptyPrompt          = errors.New("prompt must not be empty")

	// Generation backend errors
	ErrNoOutput          = errors.New("generation produced neither a result nor a job handle")
	ErrGenerationTimeout = errors.New("generation job did not finish within the polling budget")
	ErrGenerationFailed  = errors.New("generation job failed")

	// Any other remote failure, recoverable by retry
	ErrUpstream = errors.New("upstream service error")

	// General request/server errors
	ErrInternalServer = errors.New("internal server error")
	ErrInvalidInput   = errors.New("invalid input data")
)

// InsufficientBalanceError is returned by the ledger when a debit exceeds the
// server-side balance. It carries the shortfall so the UI can route the user
// to a top-up with concrete numbers.
type InsufficientBalanceError struct {
	Required int
	Current  int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, have %d", e.Required, e.Current)
}

// Shortfall is the number of credits missing for the attempted operation.
func (e *InsufficientBalanceError) Shortfall() int {
	return e.Required - e.Current
}
