package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrIllegalTransition is returned when an operation is not legal in the current phase.
var ErrIllegalTransition = errors.New("illegal transition")

// ErrBusy is returned when a request arrives while another external call is in flight.
var ErrBusy = errors.New("session busy: a request is already in flight")

// ErrNoHistory is returned when going back with an empty history.
var ErrNoHistory = errors.New("no previous question")

// ErrNoSuggestion is returned when accepting a suggestion that does not exist.
var ErrNoSuggestion = errors.New("no pending suggestion")

// ErrCancelled is returned to callers whose in-flight work was superseded by a cancel.
var ErrCancelled = errors.New("session cancelled")

// ErrAnalysisRejected is returned by an analyzer that explicitly refuses the document.
var ErrAnalysisRejected = errors.New("document rejected by analysis")

// ErrExtensionNotAllowed is returned when attaching a file with a non-whitelisted extension.
var ErrExtensionNotAllowed = errors.New("file extension not allowed")

// ErrInvalidFile is returned when attaching a file reference without an ID.
var ErrInvalidFile = errors.New("invalid file reference")

// PhaseError reports an operation attempted in the wrong phase.
type PhaseError struct {
	Op    string
	Phase Phase
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s not allowed in phase %q", e.Op, e.Phase)
}

func (e *PhaseError) Unwrap() error {
	return ErrIllegalTransition
}

// ValidationError is a local (client-side) validation failure.
// It never reaches the network. Suggestion is set when the rule that failed
// has an obvious correction.
type ValidationError struct {
	QuestionID string
	Reason     string
	Suggestion string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// RejectionError is an authoritative server-side rejection of an answer.
// Suggestion is empty when the server offered no alternative.
type RejectionError struct {
	QuestionID string
	Reason     string
	Suggestion string
}

func (e *RejectionError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Reason, e.Suggestion)
	}
	return e.Reason
}

// HasSuggestion reports whether the rejection carries a replacement value.
func (e *RejectionError) HasSuggestion() bool {
	return e.Suggestion != ""
}

// TransportError is a connectivity or server failure unrelated to answer validity.
type TransportError struct {
	Op     string
	Status int // HTTP status when known, 0 otherwise
	Detail string
	Err    error
}

func (e *TransportError) Error() string {
	msg := e.Op + ": "
	if e.Status != 0 {
		msg += fmt.Sprintf("status %d: ", e.Status)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else if e.Err != nil {
		msg += e.Err.Error()
	} else {
		msg += "request failed"
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
