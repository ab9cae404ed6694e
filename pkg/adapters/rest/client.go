// Package rest implements ports.Backend over the document service's JSON API.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
)

// API routes.
const (
	PathUploadTemp      = "/api/upload-temp"
	PathStart           = "/api/questions/start"
	PathAnswer          = "/api/questions/answer"
	PathGeneratePath    = "/api/questions/generate-path"
	PathUploadFinal     = "/api/upload-final"
	PathPreview         = "/api/document/preview"
	PathConfirmDocument = "/api/document/confirm"
	PathHealth          = "/health"
)

// DefaultTimeout bounds each request.
const DefaultTimeout = 30 * time.Second

// DefaultTargetUse is sent with preview requests.
const DefaultTargetUse = "legal"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client talks to the document service.
type Client struct {
	baseURL   string
	http      *http.Client
	targetUse string
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http = &http.Client{Timeout: d}
	}
}

// WithTargetUse sets the analysis profile requested from the preview endpoint.
func WithTargetUse(use string) Option {
	return func(c *Client) {
		c.targetUse = use
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:      &http.Client{Timeout: DefaultTimeout},
		targetUse: DefaultTargetUse,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the service address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type startRequest struct {
	FileID string `json:"file_id"`
}

type answerRequest struct {
	FileID     string `json:"file_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

type generatePathRequest struct {
	FileID            string            `json:"file_id"`
	Answers           map[string]string `json:"answers"`
	OriginalExtension string            `json:"original_extension"`
}

type uploadFinalRequest struct {
	FileID          string   `json:"file_id"`
	NewFilename     string   `json:"new_filename"`
	DropboxPath     string   `json:"dropbox_path"`
	FolderStructure []string `json:"folder_structure,omitempty"`
}

type uploadFinalResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	DropboxPath string `json:"dropbox_path"`
	DropboxName string `json:"dropbox_name"`
	Size        int64  `json:"size"`
}

type previewRequest struct {
	FileID    string `json:"file_id"`
	TargetUse string `json:"target_use"`
}

// Preview statuses.
const (
	PreviewSuccess     = "success"
	PreviewUnavailable = "unavailable"
	PreviewRejected    = "rejected"
	PreviewError       = "error"
)

type previewResponse struct {
	FileID  string           `json:"file_id"`
	Status  string           `json:"status"`
	Preview *domain.Analysis `json:"preview"`
	Error   string           `json:"error,omitempty"`
}

type confirmDocumentRequest struct {
	FileID    string `json:"file_id"`
	Confirmed bool   `json:"confirmed"`
}

// Start returns the first question for a file.
func (c *Client) Start(ctx context.Context, file domain.FileRef) (domain.Question, error) {
	var q domain.Question
	if err := c.post(ctx, "start", PathStart, startRequest{FileID: file.ID}, &q); err != nil {
		return domain.Question{}, transport(err)
	}
	if q.ID == "" {
		return domain.Question{}, &domain.TransportError{Op: "start", Detail: "response carries no question"}
	}
	return q, nil
}

// Answer submits an answer. A 4xx reply is a rejection of the value.
func (c *Client) Answer(ctx context.Context, file domain.FileRef, questionID, value string) (domain.AnswerOutcome, error) {
	var out domain.AnswerOutcome
	err := c.post(ctx, "answer", PathAnswer, answerRequest{FileID: file.ID, QuestionID: questionID, Answer: value}, &out)

	var se *statusError
	if errors.As(err, &se) && isRejection(se.status) {
		rej := parseRejection(se.body)
		rej.QuestionID = questionID
		return domain.AnswerOutcome{}, rej
	}
	if err != nil {
		return domain.AnswerOutcome{}, transport(err)
	}
	if !out.Completed && out.Next == nil {
		return domain.AnswerOutcome{}, &domain.TransportError{Op: "answer", Detail: "response has neither next question nor completion"}
	}
	return out, nil
}

// GeneratePath requests the proposed name and destination.
func (c *Client) GeneratePath(ctx context.Context, file domain.FileRef, answers map[string]string, originalExtension string) (domain.Proposal, error) {
	var p domain.Proposal
	req := generatePathRequest{FileID: file.ID, Answers: answers, OriginalExtension: originalExtension}
	if err := c.post(ctx, "generate path", PathGeneratePath, req, &p); err != nil {
		return domain.Proposal{}, transport(err)
	}
	if p.Name == "" {
		return domain.Proposal{}, &domain.TransportError{Op: "generate path", Detail: "response carries no name"}
	}
	return p, nil
}

// ConfirmUpload moves the staged file to its destination.
func (c *Client) ConfirmUpload(ctx context.Context, file domain.FileRef, p domain.Proposal) (domain.Receipt, error) {
	var out uploadFinalResponse
	req := uploadFinalRequest{FileID: file.ID, NewFilename: p.Name, DropboxPath: p.Path, FolderStructure: p.FolderStructure}
	if err := c.post(ctx, "upload", PathUploadFinal, req, &out); err != nil {
		return domain.Receipt{}, transport(err)
	}
	final := out.DropboxPath
	if final == "" {
		final = p.FullPath()
	}
	return domain.Receipt{FinalPath: final, Name: out.DropboxName, Size: out.Size}, nil
}

// AnalyzePreview requests a document analysis. It returns nil when the
// service reports no usable preview.
func (c *Client) AnalyzePreview(ctx context.Context, file domain.FileRef) (*domain.Analysis, error) {
	var out previewResponse
	if err := c.post(ctx, "preview", PathPreview, previewRequest{FileID: file.ID, TargetUse: c.targetUse}, &out); err != nil {
		return nil, transport(err)
	}
	switch out.Status {
	case PreviewSuccess:
		return out.Preview, nil
	case PreviewRejected:
		return nil, domain.ErrAnalysisRejected
	case PreviewError:
		return nil, &domain.TransportError{Op: "preview", Detail: out.Error}
	default:
		return nil, nil
	}
}

// ConfirmAnalysis records that the analysis was accepted.
func (c *Client) ConfirmAnalysis(ctx context.Context, file domain.FileRef) error {
	return transport(c.post(ctx, "confirm document", PathConfirmDocument, confirmDocumentRequest{FileID: file.ID, Confirmed: true}, nil))
}

// Discard tells the service the file was abandoned.
func (c *Client) Discard(ctx context.Context, file domain.FileRef) error {
	return transport(c.post(ctx, "discard", PathConfirmDocument, confirmDocumentRequest{FileID: file.ID, Confirmed: false}, nil))
}

// UploadTemp stages a local file and returns its reference.
func (c *Client) UploadTemp(ctx context.Context, name string, r io.Reader) (domain.FileRef, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return domain.FileRef{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return domain.FileRef{}, fmt.Errorf("read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return domain.FileRef{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathUploadTemp, &buf)
	if err != nil {
		return domain.FileRef{}, &domain.TransportError{Op: "upload temp", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var ref domain.FileRef
	if err := c.do(req, "upload temp", &ref); err != nil {
		return domain.FileRef{}, transport(err)
	}
	return ref, nil
}

// Health checks the service.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return &domain.TransportError{Op: "health", Err: err}
	}
	return transport(c.do(req, "health", nil))
}

// statusError is a non-2xx reply, kept raw so callers can interpret the body.
type statusError struct {
	op     string
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.op, e.status)
}

func (c *Client) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, op, out)
}

// isRejection reports whether status means the service refused the answer
// itself rather than failing to process it.
func isRejection(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnprocessableEntity
}

// transport converts a raw status error into a *domain.TransportError.
func transport(err error) error {
	var se *statusError
	if errors.As(err, &se) {
		return &domain.TransportError{Op: se.op, Status: se.status, Detail: detailText(se.body)}
	}
	return err
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend call", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{op: op, status: resp.StatusCode, body: data}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.TransportError{Op: op, Status: resp.StatusCode, Detail: "invalid response body", Err: err}
	}
	return nil
}
