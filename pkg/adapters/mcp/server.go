package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/docket"
	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/ports"
	"github.com/aretw0/docket/pkg/runner"
	"github.com/aretw0/docket/pkg/session"
)

// SessionResponse is the result of every session tool. A refused answer is
// not a tool failure: the view is returned together with the reason.
type SessionResponse struct {
	View       session.View `json:"view" jsonschema_description:"The session after the operation"`
	Error      string       `json:"error,omitempty" jsonschema_description:"Why the operation was refused, if it was"`
	Suggestion string       `json:"suggestion,omitempty" jsonschema_description:"A corrected answer the user may accept"`
}

// SessionArgs identifies a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// AnswerArgs carries the answer to the current question.
type AnswerArgs struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// OpenArgs attaches a staged file to a new session.
type OpenArgs struct {
	SessionID string `json:"session_id"`
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
	Path      string `json:"path"`
}

// Server exposes docket sessions as MCP tools.
type Server struct {
	manager   *session.Manager
	uploader  ports.Uploader
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithUploader enables opening sessions from a local file path.
func WithUploader(u ports.Uploader) Option {
	return func(s *Server) {
		s.uploader = u
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		manager:   mgr,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("docket-mcp", strings.TrimSpace(docket.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func sessionParam() mcp.ToolOption {
	return mcp.WithString("session_id", mcp.Required(), mcp.Description("The session ID"))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("open_session",
		mcp.WithDescription("Open a session for a document. Pass either a staged file_id or a local path to upload."),
		mcp.WithString("file_id", mcp.Description("ID of a file already staged on the backend")),
		mcp.WithString("file_name", mcp.Description("Original file name of the staged file")),
		mcp.WithString("path", mcp.Description("Local path of a file to upload first")),
		mcp.WithString("session_id", mcp.Description("Session ID (defaults to the file ID)")),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleOpen))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Return the current question, answers and phase of a session."),
		sessionParam(),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleGet))

	s.mcpServer.AddTool(mcp.NewTool("answer",
		mcp.WithDescription("Answer the current question."),
		sessionParam(),
		mcp.WithString("answer", mcp.Required(), mcp.Description("The answer text")),
		mcp.WithOutputSchema[SessionResponse](),
	), mcp.NewStructuredToolHandler(s.handleAnswer))

	actions := []struct {
		name, desc string
		op         func(*session.Controller, context.Context) error
	}{
		{"analyze", "Analyze the document before the questions; falls back to questions when unavailable.", (*session.Controller).Analyze},
		{"skip_analysis", "Start the questions without analysis.", (*session.Controller).Skip},
		{"confirm_analysis", "Accept the analysis preview and continue with prefilled questions.", (*session.Controller).ConfirmAnalysis},
		{"back", "Return to the previous question.", (*session.Controller).Back},
		{"accept_suggestion", "Use the offered suggestion as the draft answer.", (*session.Controller).AcceptSuggestion},
		{"edit_answers", "Go back to the first question keeping all answers as drafts.", (*session.Controller).EditAnswers},
		{"confirm", "Upload the document with the proposed name and destination.", (*session.Controller).Confirm},
		{"cancel", "Cancel the session and discard the staged document.", (*session.Controller).Cancel},
	}
	for _, a := range actions {
		s.mcpServer.AddTool(mcp.NewTool(a.name,
			mcp.WithDescription(a.desc),
			sessionParam(),
			mcp.WithOutputSchema[SessionResponse](),
		), mcp.NewStructuredToolHandler(s.action(a.op)))
	}
}

func (s *Server) handleOpen(ctx context.Context, request mcp.CallToolRequest, args OpenArgs) (SessionResponse, error) {
	file := domain.FileRef{ID: args.FileID, Name: args.FileName, Extension: filepath.Ext(args.FileName)}
	if args.Path != "" {
		if s.uploader == nil {
			return SessionResponse{}, errors.New("uploads are not enabled")
		}
		ref, err := s.upload(ctx, args.Path)
		if err != nil {
			return SessionResponse{}, err
		}
		file = ref
	}
	if file.ID == "" {
		return SessionResponse{}, errors.New("file_id or path is required")
	}

	id := args.SessionID
	if id == "" {
		id = file.ID
	}
	view, err := s.manager.Open(ctx, id, file)
	if err != nil {
		return SessionResponse{}, err
	}
	return SessionResponse{View: view}, nil
}

func (s *Server) upload(ctx context.Context, path string) (domain.FileRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.FileRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidFile, err)
	}
	defer f.Close()
	return s.uploader.UploadTemp(ctx, filepath.Base(path), f)
}

func (s *Server) handleGet(ctx context.Context, request mcp.CallToolRequest, args SessionArgs) (SessionResponse, error) {
	view, err := s.manager.Get(ctx, args.SessionID)
	if err != nil {
		return SessionResponse{}, err
	}
	return SessionResponse{View: view}, nil
}

func (s *Server) handleAnswer(ctx context.Context, request mcp.CallToolRequest, args AnswerArgs) (SessionResponse, error) {
	clean, err := runner.SanitizeInput(args.Answer)
	if err != nil {
		s.logger.Warn("MCP Answer: Input rejected", "error", err, "size", len(args.Answer))
		return SessionResponse{}, fmt.Errorf("input rejected: %w", err)
	}
	return s.do(ctx, args.SessionID, func(ctx context.Context, c *session.Controller) error {
		return c.Submit(ctx, clean)
	})
}

func (s *Server) action(op func(*session.Controller, context.Context) error) func(context.Context, mcp.CallToolRequest, SessionArgs) (SessionResponse, error) {
	return func(ctx context.Context, request mcp.CallToolRequest, args SessionArgs) (SessionResponse, error) {
		return s.do(ctx, args.SessionID, func(ctx context.Context, c *session.Controller) error {
			return op(c, ctx)
		})
	}
}

// do runs fn on the session. Answer problems and illegal moves are reported
// in the response so the caller still sees where the session stands.
func (s *Server) do(ctx context.Context, id string, fn func(context.Context, *session.Controller) error) (SessionResponse, error) {
	view, err := s.manager.Do(ctx, id, fn)
	if err == nil {
		return SessionResponse{View: view}, nil
	}
	if view.Snapshot == nil {
		return SessionResponse{}, err
	}

	resp := SessionResponse{View: view, Error: err.Error()}
	var (
		verr *domain.ValidationError
		rej  *domain.RejectionError
	)
	switch {
	case errors.As(err, &verr):
		resp.Error = verr.Reason
		resp.Suggestion = verr.Suggestion
	case errors.As(err, &rej):
		resp.Error = rej.Reason
		resp.Suggestion = rej.Suggestion
	}
	s.logger.Debug("MCP session operation refused", "session_id", id, "err", err)
	return resp, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("docket://sessions", "Open Sessions",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := s.manager.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		if ids == nil {
			ids = []string{}
		}
		jsonBytes, _ := json.Marshal(map[string]any{"sessions": ids})

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "docket://sessions",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}
