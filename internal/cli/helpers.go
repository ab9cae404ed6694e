package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aretw0/docket/internal/config"
	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/runner"
)

// SignalContext wraps a context and captures the signal that cancelled it.
type SignalContext struct {
	context.Context
	Cancel func()
	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	sigVal os.Signal
	mu     sync.Mutex
}

// NewSignalContext creates a context that is cancelled on SIGINT or SIGTERM.
// It acts as a drop-in replacement for signal.NotifyContext but allows retrieving the signal.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
				// Context cancelled elsewhere
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that caused the context to be cancelled, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// createLogger configures the application logger for the servers.
func createLogger(cfg config.LogConfig, debug bool) *slog.Logger {
	level := cfg.SlogLevel()
	if debug {
		level = slog.LevelDebug
	}
	return logging.NewWithFormat(os.Stderr, level, logging.Format(cfg.Format))
}

// createQuietLogger is used by the interactive runner.
// It stays silent unless debugging so Stderr does not interleave with the conversation.
func createQuietLogger(debug bool) *slog.Logger {
	if debug {
		return logging.New(slog.LevelDebug)
	}
	return logging.NewNop()
}

// printSystemMessage prints a standardized system message.
func printSystemMessage(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, ">>> %s\n", fmt.Sprintf(format, args...))
}

func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, runner.ErrInterrupted)
}

func handleExecutionError(err error) error {
	if err == nil {
		return nil
	}
	if isInterrupted(err) {
		return nil // Exit 0 for interruptions
	}
	return err
}

// logCompletion reports how the conversation ended.
func logCompletion(w io.Writer, sessionID string, phase domain.Phase, err error, quiet bool, sig os.Signal) {
	if quiet {
		return
	}
	if err == nil {
		switch phase {
		case domain.PhaseCompleted:
			printSystemMessage(w, "Documento subido.")
		case domain.PhaseCancelled:
			printSystemMessage(w, "Sesión cancelada.")
		default:
			printSystemMessage(w, "Sesión '%s' guardada en '%s'. Retómala con --session %s.", sessionID, phase, sessionID)
		}
		return
	}

	if isInterrupted(err) {
		if sig == os.Interrupt {
			fmt.Fprintf(w, "[CTRL+C]\n")
			printSystemMessage(w, "Interrumpido. Sesión '%s' cancelada.", sessionID)
		} else {
			fmt.Fprintf(w, "\n")
			printSystemMessage(w, "Terminado. Sesión '%s' cancelada.", sessionID)
		}
	}
}
