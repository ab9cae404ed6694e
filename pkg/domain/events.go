package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventPhaseChange EventType = "phase_change"
	EventEcho        EventType = "echo"
	EventThinking    EventType = "thinking"
	EventError       EventType = "error"
)

// ErrorKind classifies surfaced errors.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "validation" // local rule failed
	ErrorKindRejection  ErrorKind = "rejection"  // server rejected the answer
	ErrorKindTransport  ErrorKind = "transport"  // connectivity or server failure
	ErrorKindAnalysis   ErrorKind = "analysis"   // analysis degraded
	ErrorKindUpload     ErrorKind = "upload"     // confirm/upload failed
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// PhaseEvent represents a transition between phases.
type PhaseEvent struct {
	EventBase
	From Phase `json:"from"`
	To   Phase `json:"to"`
}

// EchoEvent is the optimistic echo of a submitted answer.
type EchoEvent struct {
	EventBase
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text"`
	Answer       string `json:"answer"`
}

// ThinkingEvent toggles the transient "generating" indicator.
type ThinkingEvent struct {
	EventBase
	Active bool   `json:"active"`
	Stage  string `json:"stage"`
}

// ErrorEvent reports an error surfaced to the user.
type ErrorEvent struct {
	EventBase
	Kind       ErrorKind `json:"kind"`
	QuestionID string    `json:"question_id,omitempty"`
	Message    string    `json:"message"`
}

// Hooks defines callbacks for session observability.
// Hooks run synchronously once the session has released its lock, so they
// may read it (View, Phase). Starting another operation from a hook is not
// supported.
type Hooks struct {
	OnPhaseChange func(context.Context, *PhaseEvent)
	OnEcho        func(context.Context, *EchoEvent)
	OnThinking    func(context.Context, *ThinkingEvent)
	OnError       func(context.Context, *ErrorEvent)
}

// Merge returns hooks that call h first and then other.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnPhaseChange: chain(h.OnPhaseChange, other.OnPhaseChange),
		OnEcho:        chain(h.OnEcho, other.OnEcho),
		OnThinking:    chain(h.OnThinking, other.OnThinking),
		OnError:       chain(h.OnError, other.OnError),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
