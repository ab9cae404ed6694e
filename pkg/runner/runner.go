package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/session"
)

// ErrInterrupted is returned when a signal ended the conversation. The
// session was cancelled and its file discarded.
var ErrInterrupted = errors.New("interrupted")

// ContentRenderer is a function that transforms the content before outputting it.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)

// Runner drives one session from a terminal or a JSON pipe: it renders the
// session, reads a line, and maps it to an answer or a command.
type Runner struct {
	// Handler is the strategy for IO. If nil, a TextHandler over Input/Output is used.
	Handler IOHandler

	// Logger is used for internal debug logging.
	Logger *slog.Logger

	Input    io.Reader
	Output   io.Writer
	Headless bool
	Renderer ContentRenderer
}

// NewRunner creates a new Runner with default Stdin/Stdout.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		Input:  os.Stdin,
		Output: os.Stdout,
		Logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// resolveHandler ensures a valid IOHandler is set.
func (r *Runner) resolveHandler() IOHandler {
	if r.Handler != nil {
		return r.Handler
	}
	th := NewTextHandler(r.Input, r.Output, WithTextHandlerRenderer(r.Renderer))
	// Memoize to prevent creating new pumps on subsequent Run() calls
	r.Handler = th
	return th
}

// Hooks forwards transient session events to the handler. Register them on
// the Manager before calling Run.
func (r *Runner) Hooks() domain.Hooks {
	return domain.Hooks{
		OnThinking: func(ctx context.Context, e *domain.ThinkingEvent) {
			_ = r.resolveHandler().Signal(ctx, SignalThinking, map[string]any{"active": e.Active, "stage": e.Stage})
		},
		OnEcho: func(ctx context.Context, e *domain.EchoEvent) {
			_ = r.resolveHandler().Signal(ctx, SignalEcho, map[string]any{"question_id": e.QuestionID, "answer": e.Answer})
		},
		OnError: func(ctx context.Context, e *domain.ErrorEvent) {
			_ = r.resolveHandler().Signal(ctx, SignalError, map[string]any{"kind": e.Kind, "message": e.Message})
		},
	}
}

// Op is one session operation chosen from user input.
type Op func(context.Context, *session.Controller) error

// Run converses until the session is terminal, the input ends or a signal
// arrives. On EOF or quit the session stays stored and can be resumed.
func (r *Runner) Run(ctx context.Context, mgr *session.Manager, sessionID string) (session.View, error) {
	handler := r.resolveHandler()

	signals := NewSignalManager(ctx)
	defer signals.Stop()

	view, err := mgr.Get(ctx, sessionID)
	if err != nil {
		return view, err
	}
	if !r.Headless {
		_ = handler.SystemOutput(ctx, "Escribe :ayuda para ver los comandos.")
	}

	render := true
	for {
		if render {
			if err := handler.Render(ctx, view); err != nil {
				return view, fmt.Errorf("output error: %w", err)
			}
		}
		render = true
		if view.Phase.IsTerminal() {
			return view, nil
		}

		line, err := handler.Input(signals.Context())
		if err != nil {
			signals.CheckRace()
			if signals.Interrupted() {
				return r.interrupt(mgr, sessionID, view)
			}
			if errors.Is(err, io.EOF) {
				r.Logger.Debug("input closed, session kept", "session_id", sessionID, "phase", view.Phase)
				return view, nil
			}
			return view, fmt.Errorf("input error: %w", err)
		}

		op, quit := r.dispatch(ctx, handler, view, line)
		if quit {
			return view, nil
		}
		if op == nil {
			render = false
			continue
		}

		next, err := mgr.Do(signals.Context(), sessionID, op)
		if next.Snapshot != nil {
			view = next
		}
		if err == nil {
			continue
		}
		if signals.Interrupted() {
			return r.interrupt(mgr, sessionID, view)
		}
		if errors.Is(err, domain.ErrSessionNotFound) {
			return view, err
		}
		r.report(ctx, handler, err)
	}
}

// dispatch maps a line to an operation. A nil op means nothing to run.
func (r *Runner) dispatch(ctx context.Context, h IOHandler, view session.View, line string) (Op, bool) {
	cmd, ok := ParseCommand(line)
	if !ok {
		switch {
		case view.Phase.Editable():
			answer := line
			return func(ctx context.Context, c *session.Controller) error { return c.Submit(ctx, answer) }, false
		case view.Phase == domain.PhasePreviewPending && strings.TrimSpace(line) == "":
			return (*session.Controller).Analyze, false
		}
		_ = h.SystemOutput(ctx, "No entiendo esa respuesta aquí. Escribe :ayuda para ver los comandos.")
		return nil, false
	}

	switch cmd {
	case CmdQuit:
		return nil, true
	case CmdHelp:
		_ = h.SystemOutput(ctx, strings.Join(Help(view.Phase), "\n"))
		return nil, false
	case CmdBack:
		return (*session.Controller).Back, false
	case CmdEdit:
		return (*session.Controller).EditAnswers, false
	case CmdAccept:
		return (*session.Controller).AcceptSuggestion, false
	case CmdCancel:
		return (*session.Controller).Cancel, false
	case CmdAnalyze:
		return (*session.Controller).Analyze, false
	case CmdSkip:
		return (*session.Controller).Skip, false
	case CmdConfirm:
		if view.Phase == domain.PhaseAnalysisPreview {
			return (*session.Controller).ConfirmAnalysis, false
		}
		return (*session.Controller).Confirm, false
	}
	return nil, false
}

// report shows errors the rendered view does not already explain.
func (r *Runner) report(ctx context.Context, h IOHandler, err error) {
	var (
		verr *domain.ValidationError
		rej  *domain.RejectionError
	)
	if errors.As(err, &verr) || errors.As(err, &rej) {
		return
	}
	switch {
	case errors.Is(err, domain.ErrIllegalTransition):
		_ = h.SystemOutput(ctx, "Ese comando no está disponible ahora.")
	case errors.Is(err, domain.ErrNoHistory):
		_ = h.SystemOutput(ctx, "Ya estás en la primera pregunta.")
	case errors.Is(err, domain.ErrNoSuggestion):
		_ = h.SystemOutput(ctx, "No hay ninguna sugerencia que usar.")
	case errors.Is(err, domain.ErrAnalysisRejected):
		_ = h.SystemOutput(ctx, "El documento ha sido rechazado por el análisis.")
	default:
		r.Logger.Debug("session operation failed", "err", err)
		_ = h.SystemOutput(ctx, err.Error())
	}
}

func (r *Runner) interrupt(mgr *session.Manager, sessionID string, view session.View) (session.View, error) {
	ctx := context.Background()
	next, err := mgr.Do(ctx, sessionID, (*session.Controller).Cancel)
	if err != nil {
		r.Logger.Warn("failed to cancel interrupted session", "session_id", sessionID, "err", err)
		return view, ErrInterrupted
	}
	return next, ErrInterrupted
}
