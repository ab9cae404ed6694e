package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/docket"
	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/ports"
	"github.com/aretw0/docket/pkg/runner"
	"github.com/aretw0/docket/pkg/session"
)

// maxUploadMemory bounds the multipart form held in memory when attaching by upload.
const maxUploadMemory = 8 << 20

// Server exposes session controllers to a browser front end.
type Server struct {
	Manager  *session.Manager
	Streams  *StreamManager
	Uploader ports.Uploader
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithStreams shares a StreamManager, typically the one whose Hooks were
// registered on the Manager.
func WithStreams(sm *StreamManager) Option {
	return func(s *Server) {
		s.Streams = sm
	}
}

// WithUploader lets POST /sessions accept a multipart file upload.
func WithUploader(u ports.Uploader) Option {
	return func(s *Server) {
		s.Uploader = u
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewHandler creates a new HTTP handler for the session manager.
func NewHandler(mgr *session.Manager, opts ...Option) http.Handler {
	server := &Server{
		Manager: mgr,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.Streams == nil {
		server.Streams = NewStreamManager()
	}

	r := chi.NewRouter()
	r.Get("/health", server.GetHealth)
	r.Get("/info", server.GetInfo)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", server.ListSessions)
		r.Post("/", server.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", server.GetSession)
			r.Delete("/", server.DeleteSession)
			r.Get("/events", server.SubscribeEvents)
			r.Put("/draft", server.SetDraft)
			r.Post("/answer", server.Answer)
			r.Post("/analyze", server.action("analyze", (*session.Controller).Analyze))
			r.Post("/skip", server.action("skip", (*session.Controller).Skip))
			r.Post("/confirm-analysis", server.action("confirm analysis", (*session.Controller).ConfirmAnalysis))
			r.Post("/back", server.action("back", (*session.Controller).Back))
			r.Post("/accept-suggestion", server.action("accept suggestion", (*session.Controller).AcceptSuggestion))
			r.Post("/edit", server.action("edit", (*session.Controller).EditAnswers))
			r.Post("/confirm", server.action("confirm", (*session.Controller).Confirm))
			r.Post("/cancel", server.action("cancel", (*session.Controller).Cancel))
		})
	})

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "docket-http",
		"version": strings.TrimSpace(docket.Version),
	})
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Manager.List(r.Context())
	if err != nil {
		s.logger.Error("list sessions failed", "err", err)
		writeProblem(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

type createRequest struct {
	SessionID string         `json:"session_id,omitempty"`
	File      domain.FileRef `json:"file"`
}

// CreateSession handles the POST /sessions request. The body is either a JSON
// file reference or, when an Uploader is configured, a multipart "file" field.
// The session id defaults to the file id.
func (s *Server) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if s.Uploader == nil {
			writeProblem(w, http.StatusUnsupportedMediaType, "unsupported", "uploads are not enabled", nil)
			return
		}
		ref, err := s.upload(r)
		if err != nil {
			s.logger.Warn("upload failed", "err", err)
			writeError(w, err, nil)
			return
		}
		req.File = ref
		req.SessionID = r.FormValue("session_id")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", "Invalid request body", nil)
		s.logger.Warn("CreateSession: Invalid request body", "err", err)
		return
	}

	id := req.SessionID
	if id == "" {
		id = req.File.ID
	}
	if id == "" {
		writeProblem(w, http.StatusBadRequest, "bad_request", "file.file_id is required", nil)
		return
	}

	view, err := s.Manager.Open(r.Context(), id, req.File)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	s.publish(id, view)
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) upload(r *http.Request) (domain.FileRef, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return domain.FileRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidFile, err)
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return domain.FileRef{}, fmt.Errorf("%w: %v", domain.ErrInvalidFile, err)
	}
	defer f.Close()
	return s.Uploader.UploadTemp(r.Context(), header.Filename, f)
}

// GetSession handles the GET /sessions/{id} request.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.Manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// DeleteSession handles the DELETE /sessions/{id} request.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Manager.Delete(r.Context(), id); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type textRequest struct {
	Answer string `json:"answer"`
	Draft  string `json:"draft"`
}

// SetDraft handles the PUT /sessions/{id}/draft request.
func (s *Server) SetDraft(w http.ResponseWriter, r *http.Request) {
	text, ok := s.readText(w, r, func(b textRequest) string { return b.Draft })
	if !ok {
		return
	}
	s.run(w, r, "draft", func(ctx context.Context, c *session.Controller) error {
		return c.SetDraft(text)
	})
}

// Answer handles the POST /sessions/{id}/answer request.
func (s *Server) Answer(w http.ResponseWriter, r *http.Request) {
	text, ok := s.readText(w, r, func(b textRequest) string { return b.Answer })
	if !ok {
		return
	}
	s.run(w, r, "answer", func(ctx context.Context, c *session.Controller) error {
		return c.Submit(ctx, text)
	})
}

// readText decodes and sanitizes the user-provided text of a request.
func (s *Server) readText(w http.ResponseWriter, r *http.Request, field func(textRequest) string) (string, bool) {
	var body textRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", "Invalid request body", nil)
		s.logger.Warn("Invalid request body", "err", err)
		return "", false
	}
	clean, err := runner.SanitizeInput(field(body))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("Invalid input: %v", err), nil)
		s.logger.Warn("Input rejected", "err", err)
		return "", false
	}
	return clean, true
}

func (s *Server) action(name string, op func(*session.Controller, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.run(w, r, name, func(ctx context.Context, c *session.Controller) error {
			return op(c, ctx)
		})
	}
}

func (s *Server) run(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context, *session.Controller) error) {
	id := chi.URLParam(r, "id")
	view, err := s.Manager.Do(r.Context(), id, fn)
	if view.Snapshot != nil {
		s.publish(id, view)
	}
	if err != nil {
		s.logger.Debug("session operation failed", "session_id", id, "op", name, "err", err)
		writeError(w, err, &view)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) publish(id string, view session.View) {
	if data, err := json.Marshal(view); err == nil {
		s.Streams.Broadcast(id, Message{Event: EventView, Data: data})
	}
}

// Problem is the error body. View is the session state after the failed
// operation when the session exists.
type Problem struct {
	Error struct {
		Kind       string `json:"kind"`
		Message    string `json:"message"`
		Suggestion string `json:"suggestion,omitempty"`
	} `json:"error"`
	View *session.View `json:"view,omitempty"`
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string, view *session.View) {
	var p Problem
	p.Error.Kind = kind
	p.Error.Message = msg
	if view != nil && view.Snapshot != nil {
		p.View = view
	}
	writeJSON(w, status, p)
}

func writeError(w http.ResponseWriter, err error, view *session.View) {
	var (
		verr *domain.ValidationError
		rej  *domain.RejectionError
		te   *domain.TransportError
	)
	switch {
	case errors.As(err, &verr):
		var p Problem
		p.Error.Kind = string(domain.ErrorKindValidation)
		p.Error.Message = verr.Reason
		p.Error.Suggestion = verr.Suggestion
		p.View = nonEmpty(view)
		writeJSON(w, http.StatusUnprocessableEntity, p)
	case errors.As(err, &rej):
		var p Problem
		p.Error.Kind = string(domain.ErrorKindRejection)
		p.Error.Message = rej.Reason
		p.Error.Suggestion = rej.Suggestion
		p.View = nonEmpty(view)
		writeJSON(w, http.StatusUnprocessableEntity, p)
	case errors.Is(err, domain.ErrSessionNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrBusy):
		writeProblem(w, http.StatusConflict, "busy", err.Error(), view)
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrNoHistory),
		errors.Is(err, domain.ErrNoSuggestion),
		errors.Is(err, domain.ErrCancelled):
		writeProblem(w, http.StatusConflict, "conflict", err.Error(), view)
	case errors.Is(err, domain.ErrExtensionNotAllowed), errors.Is(err, domain.ErrInvalidFile):
		writeProblem(w, http.StatusBadRequest, "bad_request", err.Error(), view)
	case errors.As(err, &te):
		writeProblem(w, http.StatusBadGateway, string(domain.ErrorKindTransport), te.Error(), view)
	default:
		slog.Error("session request failed", "err", err)
		writeProblem(w, http.StatusInternalServerError, "internal", err.Error(), view)
	}
}

func nonEmpty(view *session.View) *session.View {
	if view == nil || view.Snapshot == nil {
		return nil
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}
