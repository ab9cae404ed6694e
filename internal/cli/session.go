package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/aretw0/docket"
	"github.com/aretw0/docket/internal/config"
	"github.com/aretw0/docket/internal/presentation/tui"
	"github.com/aretw0/docket/pkg/adapters/rest"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/observability"
	"github.com/aretw0/docket/pkg/runner"
	"github.com/aretw0/docket/pkg/session"
)

// RunOptions contains all the configuration for the Run command.
type RunOptions struct {
	SessionID string
	FilePath  string // Local file uploaded before the conversation starts
	FileID    string // Already staged file
	FileName  string // Name of the staged file
	Headless  bool
	JSON      bool
	Debug     bool
	Fresh     bool
}

// RunSession converses with the user about one document.
// A stored session with the same ID is resumed instead of starting over.
func RunSession(cfg config.Config, opts RunOptions) error {
	logger := createQuietLogger(opts.Debug)
	quiet := opts.JSON || opts.Headless

	if !quiet {
		tui.PrintBanner(os.Stdout, docket.Version)
	}

	p, err := OpenPersistence(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	client := rest.New(cfg.Backend.URL,
		rest.WithTimeout(cfg.Backend.Timeout),
		rest.WithTargetUse(cfg.Backend.TargetUse),
		rest.WithLogger(logger),
	)

	r := runner.NewRunner(createRunnerOptions(opts, logger)...)

	mgr := NewManager(p, client, cfg.Session, logger,
		session.WithSessionHooks(r.Hooks()),
		session.WithSessionHooks(observability.LogHooks(logger)),
	)

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if opts.Fresh {
		if err := mgr.Delete(sigCtx, sessionID); err != nil {
			logger.Warn("failed to reset session", "session_id", sessionID, "err", err)
		}
	}

	if err := openSession(sigCtx, mgr, client, sessionID, opts, quiet); err != nil {
		return handleExecutionError(err)
	}

	view, runErr := r.Run(sigCtx, mgr, sessionID)
	if sigCtx.Err() != nil && runErr == nil {
		runErr = sigCtx.Err()
	}

	var phase domain.Phase
	if view.Snapshot != nil {
		phase = view.Phase
	}
	logCompletion(os.Stdout, sessionID, phase, runErr, quiet, sigCtx.Signal())
	return handleExecutionError(runErr)
}

// openSession resumes sessionID or starts it with the file named in opts.
func openSession(ctx context.Context, mgr *session.Manager, client *rest.Client, sessionID string, opts RunOptions, quiet bool) error {
	view, err := mgr.Get(ctx, sessionID)
	if err == nil {
		if !quiet {
			printSystemMessage(os.Stdout, "Retomando la sesión '%s' (%s).", sessionID, view.Phase)
		}
		return nil
	}
	if !errors.Is(err, domain.ErrSessionNotFound) {
		return err
	}

	ref, err := resolveFile(ctx, client, opts)
	if err != nil {
		return err
	}
	if _, err := mgr.Open(ctx, sessionID, ref); err != nil {
		return err
	}
	if !quiet {
		printSystemMessage(os.Stdout, "Sesión '%s' iniciada.", sessionID)
	}
	return nil
}

// resolveFile uploads the local file or references an already staged one.
func resolveFile(ctx context.Context, client *rest.Client, opts RunOptions) (domain.FileRef, error) {
	switch {
	case opts.FilePath != "":
		f, err := os.Open(opts.FilePath)
		if err != nil {
			return domain.FileRef{}, fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		ref, err := client.UploadTemp(ctx, filepath.Base(opts.FilePath), f)
		if err != nil {
			return domain.FileRef{}, fmt.Errorf("failed to upload file: %w", err)
		}
		return ref, nil
	case opts.FileID != "":
		name := opts.FileName
		if name == "" {
			name = opts.FileID
		}
		return domain.FileRef{
			ID:        opts.FileID,
			Name:      name,
			Extension: strings.ToLower(filepath.Ext(name)),
		}, nil
	default:
		return domain.FileRef{}, errors.New("no stored session: provide --file or --file-id")
	}
}

// createRunnerOptions prepares the functional options for the Runner.
func createRunnerOptions(opts RunOptions, logger *slog.Logger) []runner.Option {
	ro := []runner.Option{
		runner.WithLogger(logger),
		runner.WithHeadless(opts.Headless),
	}
	if opts.JSON {
		ro = append(ro, runner.WithInputHandler(runner.NewJSONHandler(os.Stdin, os.Stdout)))
	} else if !opts.Headless {
		ro = append(ro, runner.WithRenderer(tui.NewRenderer()))
	}
	return ro
}
