package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/docket/pkg/domain"
)

// LogHooks logs session lifecycle events.
func LogHooks(logger *slog.Logger) domain.Hooks {
	return domain.Hooks{
		OnPhaseChange: func(ctx context.Context, e *domain.PhaseEvent) {
			logger.InfoContext(ctx, "phase_change",
				"session_id", e.SessionID,
				"from", e.From,
				"to", e.To,
			)
		},
		OnEcho: func(ctx context.Context, e *domain.EchoEvent) {
			logger.DebugContext(ctx, "answer",
				"session_id", e.SessionID,
				"question_id", e.QuestionID,
			)
		},
		OnError: func(ctx context.Context, e *domain.ErrorEvent) {
			logger.WarnContext(ctx, "session_error",
				"session_id", e.SessionID,
				"kind", e.Kind,
				"question_id", e.QuestionID,
				"message", e.Message,
			)
		},
	}
}
