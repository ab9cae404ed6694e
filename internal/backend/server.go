package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/aretw0/docket/internal/backend/catalog"
	"github.com/aretw0/docket/internal/backend/storage"
	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/session"
)

const (
	// DefaultMaxUploadSize is the largest accepted upload.
	DefaultMaxUploadSize = 50 << 20
	// DefaultSessionTTL is how long an idle upload is kept.
	DefaultSessionTTL = time.Hour
	// DefaultExtension is assumed when generate-path receives none.
	DefaultExtension = ".pdf"
)

// DefaultAllowedExtensions is the upload whitelist.
var DefaultAllowedExtensions = []string{".pdf", ".docx", ".xlsx", ".jpg", ".jpeg", ".png", ".txt"}

// Server is the reference document service.
type Server struct {
	catalog    *catalog.Catalog
	rules      *Rules
	sessions   *SessionCache
	sink       storage.Sink
	analyzer   Analyzer
	stagingDir string
	maxUpload  int64
	allowed    []string
	sessionTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithCatalog replaces the default question catalog.
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithSink sets where confirmed documents are written.
func WithSink(sink storage.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithAnalyzer enables document previews.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Server) {
		s.analyzer = a
	}
}

// WithStagingDir sets where uploads wait for confirmation.
func WithStagingDir(dir string) Option {
	return func(s *Server) {
		s.stagingDir = dir
	}
}

// WithMaxUploadSize overrides DefaultMaxUploadSize.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) {
		s.maxUpload = n
	}
}

// WithAllowedExtensions overrides DefaultAllowedExtensions.
func WithAllowedExtensions(exts ...string) Option {
	return func(s *Server) {
		s.allowed = nil
		for _, e := range exts {
			s.allowed = append(s.allowed, session.NormalizeExtension(e))
		}
	}
}

// WithSessionTTL overrides DefaultSessionTTL.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.sessionTTL = ttl
	}
}

// WithClock sets the source of "today" for date answers.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a Server. Without a sink, confirmed documents are written to
// a "dropbox" directory next to the staging area.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		catalog:    catalog.Default(),
		stagingDir: filepath.Join(os.TempDir(), "docket-staging"),
		maxUpload:  DefaultMaxUploadSize,
		allowed:    slices.Clone(DefaultAllowedExtensions),
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(s.stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	if s.sink == nil {
		local, err := storage.NewLocal(filepath.Join(filepath.Dir(s.stagingDir), "docket-dropbox"))
		if err != nil {
			return nil, err
		}
		s.sink = local
	}

	s.rules = NewRules(s.now)
	s.sessions = NewSessionCache(s.sessionTTL)
	s.sessions.OnEvicted(func(fileID string, u *Upload) {
		if err := os.Remove(u.StagedAt); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove staged file", "file_id", fileID, "err", err)
		}
	})
	return s, nil
}

// Catalog returns the question catalog.
func (s *Server) Catalog() *catalog.Catalog {
	return s.catalog
}

// Sessions exposes the upload records.
func (s *Server) Sessions() *SessionCache {
	return s.sessions
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/upload-temp", s.uploadTemp)
		r.Post("/questions/start", s.start)
		r.Post("/questions/answer", s.answer)
		r.Post("/questions/generate-path", s.generatePath)
		r.Post("/upload-final", s.uploadFinal)
		r.Post("/document/preview", s.preview)
		r.Post("/document/confirm", s.confirmDocument)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "docket-backend",
		"questions": len(s.catalog.Questions),
		"sessions":  s.sessions.Len(),
	})
}

func (s *Server) uploadTemp(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "File size exceeds upload limit")
			return
		}
		writeDetail(w, http.StatusBadRequest, "Missing multipart field \"file\"")
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := session.NormalizeExtension(filepath.Ext(name))
	if !slices.Contains(s.allowed, ext) {
		writeDetail(w, http.StatusBadRequest, fmt.Sprintf("File extension '%s' not allowed. Allowed: %s", ext, strings.Join(s.allowed, ", ")))
		return
	}

	id := uuid.NewString()
	staged := filepath.Join(s.stagingDir, id+"_"+name)
	size, err := s.stage(staged, file)
	if err != nil {
		_ = os.Remove(staged)
		if errors.Is(err, errTooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File size exceeds %dMB limit", s.maxUpload>>20))
			return
		}
		s.logger.Error("failed to stage upload", "err", err)
		writeDetail(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	ref := domain.FileRef{
		ID:        id,
		Name:      name,
		Extension: ext,
		Size:      size,
		MimeType:  header.Header.Get("Content-Type"),
	}
	s.sessions.Put(&Upload{File: ref, StagedAt: staged})
	s.logger.Info("file staged", "file_id", id, "name", name, "size", size)
	writeJSON(w, http.StatusOK, ref)
}

var errTooLarge = errors.New("upload too large")

func (s *Server) stage(dest string, r io.Reader) (int64, error) {
	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(r, s.maxUpload+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, err
	}
	if n > s.maxUpload {
		return n, errTooLarge
	}
	return n, nil
}

type fileRequest struct {
	FileID string `json:"file_id"`
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req fileRequest
	if !decode(w, r, &req) {
		return
	}
	first := s.catalog.First()
	found, _ := s.sessions.Update(req.FileID, func(u *Upload) error {
		u.Current = first.ID
		u.Answers = make(map[string]string)
		return nil
	})
	if !found {
		writeDetail(w, http.StatusNotFound, "Unknown file_id: "+req.FileID)
		return
	}
	writeJSON(w, http.StatusOK, first)
}

type answerRequest struct {
	FileID     string `json:"file_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

type answerResponse struct {
	Next      *domain.Question `json:"next_question"`
	Completed bool             `json:"completed"`
	Validated string           `json:"validated_value"`
}

type rejection struct {
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion"`
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	q, err := s.catalog.Get(req.QuestionID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid question_id")
		return
	}

	verdict := s.rules.Check(q, req.Answer)
	if !verdict.Accepted() {
		s.logger.Debug("answer rejected", "file_id", req.FileID, "question_id", q.ID, "suggestion", verdict.Suggestion)
		if verdict.Suggestion != "" {
			writeDetail(w, http.StatusBadRequest, rejection{Detail: verdict.Reason, Suggestion: verdict.Suggestion})
			return
		}
		writeDetail(w, http.StatusBadRequest, verdict.Reason)
		return
	}

	next, err := s.catalog.Next(q.ID)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid question_id")
		return
	}
	found, _ := s.sessions.Update(req.FileID, func(u *Upload) error {
		u.Answers[q.ID] = verdict.Value
		if next != nil {
			u.Current = next.ID
		} else {
			u.Current = ""
		}
		return nil
	})
	if !found {
		writeDetail(w, http.StatusNotFound, "Unknown file_id: "+req.FileID)
		return
	}

	writeJSON(w, http.StatusOK, answerResponse{
		Next:      next,
		Completed: next == nil,
		Validated: verdict.Value,
	})
}

type generatePathRequest struct {
	FileID            string            `json:"file_id"`
	Answers           map[string]string `json:"answers"`
	OriginalExtension string            `json:"original_extension"`
}

type generatePathResponse struct {
	domain.Proposal
	FullPath string `json:"full_path"`
}

func (s *Server) generatePath(w http.ResponseWriter, r *http.Request) {
	var req generatePathRequest
	if !decode(w, r, &req) {
		return
	}

	// Answers validated by this server win over the ones the client echoes.
	answers := make(map[string]string, len(req.Answers))
	for k, v := range req.Answers {
		answers[k] = v
	}
	if u, ok := s.sessions.Get(req.FileID); ok {
		for k, v := range u.Answers {
			answers[k] = v
		}
	}

	p := Propose(s.catalog, answers, req.OriginalExtension)
	writeJSON(w, http.StatusOK, generatePathResponse{Proposal: p, FullPath: p.FullPath()})
}

type uploadFinalRequest struct {
	FileID          string   `json:"file_id"`
	NewFilename     string   `json:"new_filename"`
	Filename        string   `json:"filename"`
	DropboxPath     string   `json:"dropbox_path"`
	FolderStructure []string `json:"folder_structure"`
}

type uploadFinalResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	DropboxPath string `json:"dropbox_path"`
	DropboxName string `json:"dropbox_name"`
	Size        int64  `json:"size"`
}

func (s *Server) uploadFinal(w http.ResponseWriter, r *http.Request) {
	var req uploadFinalRequest
	if !decode(w, r, &req) {
		return
	}
	name := req.NewFilename
	if name == "" {
		name = req.Filename
	}
	dir := req.DropboxPath
	if dir == "" && len(req.FolderStructure) > 0 {
		dir = "/" + strings.Join(req.FolderStructure, "/")
	}

	u, ok := s.sessions.Get(req.FileID)
	var f *os.File
	if ok {
		var err error
		f, err = os.Open(u.StagedAt)
		if err != nil {
			ok = false
		}
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Temporary file not found for file_id: "+req.FileID)
		return
	}

	obj, err := s.sink.Put(r.Context(), dir, name, f)
	f.Close()
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("upload failed", "file_id", req.FileID, "err", err)
		writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error uploading document: %v", err))
		return
	}

	// Removing the record also removes the staged copy.
	s.sessions.Delete(req.FileID)
	s.logger.Info("document filed", "file_id", req.FileID, "path", obj.Path)

	writeJSON(w, http.StatusOK, uploadFinalResponse{
		Success:     true,
		Message:     "Archivo subido exitosamente",
		DropboxPath: obj.Path,
		DropboxName: obj.Name,
		Size:        obj.Size,
	})
}

type previewRequest struct {
	FileID    string `json:"file_id"`
	TargetUse string `json:"target_use"`
}

type previewResponse struct {
	FileID  string           `json:"file_id"`
	Status  string           `json:"status"`
	Preview *domain.Analysis `json:"preview,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if !decode(w, r, &req) {
		return
	}
	u, ok := s.sessions.Get(req.FileID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Unknown file_id: "+req.FileID)
		return
	}

	resp := previewResponse{FileID: req.FileID}
	if s.analyzer == nil {
		resp.Status = "unavailable"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()
	analysis, err := s.analyzer.Analyze(ctx, Document{File: u.File, Path: u.StagedAt})
	switch {
	case err == nil && analysis != nil:
		resp.Status = "success"
		resp.Preview = analysis
		_, _ = s.sessions.Update(req.FileID, func(u *Upload) error {
			u.Analysis = analysis
			return nil
		})
	case err == nil, errors.Is(err, ErrNoAnalysis):
		resp.Status = "unavailable"
	case errors.Is(err, domain.ErrAnalysisRejected):
		resp.Status = "rejected"
		resp.Error = "El documento no se puede archivar"
	default:
		s.logger.Warn("analysis failed", "file_id", req.FileID, "err", err)
		resp.Status = "error"
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type confirmDocumentRequest struct {
	FileID    string `json:"file_id"`
	Confirmed bool   `json:"confirmed"`
}

func (s *Server) confirmDocument(w http.ResponseWriter, r *http.Request) {
	var req confirmDocumentRequest
	if !decode(w, r, &req) {
		return
	}

	if !req.Confirmed {
		s.sessions.Delete(req.FileID)
		s.logger.Info("upload discarded", "file_id", req.FileID)
		writeJSON(w, http.StatusOK, map[string]any{"file_id": req.FileID, "confirmed": false, "message": "Documento descartado"})
		return
	}

	found, _ := s.sessions.Update(req.FileID, func(u *Upload) error {
		u.Confirmed = true
		return nil
	})
	if !found {
		writeDetail(w, http.StatusNotFound, "Unknown file_id: "+req.FileID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"file_id": req.FileID, "confirmed": true, "message": "Análisis confirmado"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body")
		return false
	}
	return true
}

func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}
