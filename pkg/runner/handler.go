package runner

import (
	"context"

	"github.com/aretw0/docket/pkg/session"
)

// Signal names passed to IOHandler.Signal.
const (
	SignalThinking = "thinking"
	SignalEcho     = "echo"
	SignalError    = "error"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (CLI/TUI) and JSON (Structured) modes.
type IOHandler interface {
	// Render presents the session as it stands after an operation.
	Render(ctx context.Context, view session.View) error

	// Input reads a response from the user.
	Input(ctx context.Context) (string, error)

	// Signal notifies the handler of a transient event (thinking indicator,
	// answer echo, surfaced error). It must not block.
	Signal(ctx context.Context, name string, args map[string]any) error

	// SystemOutput presents a meta-message to the user (e.g. status updates).
	// This is distinct from content rendering.
	SystemOutput(ctx context.Context, msg string) error
}
