package ports

import (
	"context"
	"io"

	"github.com/aretw0/docket/pkg/domain"
)

// Backend is the server side of a session.
//
// Implementations report an answer refused by the server as *domain.RejectionError
// and connectivity or server failures as *domain.TransportError.
type Backend interface {
	// Start returns the first question for a file.
	Start(ctx context.Context, file domain.FileRef) (domain.Question, error)

	// Answer submits the answer to a question. It returns either the next
	// question or a completion signal.
	Answer(ctx context.Context, file domain.FileRef, questionID, value string) (domain.AnswerOutcome, error)

	// GeneratePath builds the proposed name and destination from the answers.
	// The controller calls it exactly once per completion.
	GeneratePath(ctx context.Context, file domain.FileRef, answers map[string]string, originalExtension string) (domain.Proposal, error)

	// ConfirmUpload moves the file to its confirmed destination.
	ConfirmUpload(ctx context.Context, file domain.FileRef, proposal domain.Proposal) (domain.Receipt, error)

	// AnalyzePreview requests an AI analysis of the document.
	// A nil Analysis means analysis is unavailable; the session falls back to questions.
	// domain.ErrAnalysisRejected means the document was explicitly refused.
	AnalyzePreview(ctx context.Context, file domain.FileRef) (*domain.Analysis, error)

	// ConfirmAnalysis records that the user accepted the analysis.
	ConfirmAnalysis(ctx context.Context, file domain.FileRef) error

	// Discard releases the staged file. Best-effort.
	Discard(ctx context.Context, file domain.FileRef) error
}

// Uploader stages a local file on the backend and returns its reference.
type Uploader interface {
	UploadTemp(ctx context.Context, name string, r io.Reader) (domain.FileRef, error)
}
