package session_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aretw0/docket/pkg/domain"
)

var (
	qDocType = domain.Question{
		ID:         domain.FieldDocType,
		Text:       "¿Qué tipo de documento es?",
		Required:   true,
		Validation: domain.Validation{MinLength: 2, OnlyLetters: true},
	}
	qClient = domain.Question{
		ID:         domain.FieldClient,
		Text:       "¿Para qué cliente o empresa es?",
		Required:   true,
		Validation: domain.Validation{MinLength: 2},
	}
	qDate = domain.Question{
		ID:         domain.FieldDate,
		Text:       "¿Cuál es la fecha del documento?",
		Required:   true,
		Validation: domain.Validation{Format: domain.FormatISODate},
	}

	testFile = domain.FileRef{ID: "file-1", Name: "scan.pdf", Extension: ".pdf", Size: 2048}

	errOffline = errors.New("connection refused")
)

// fakeBackend is a scripted ports.Backend.
type fakeBackend struct {
	mu sync.Mutex

	questions []domain.Question
	// rejections keyed by question ID then value.
	rejections map[string]map[string]*domain.RejectionError

	answerErrs  []error // consumed one per Answer call
	answerDelay time.Duration
	answerGate  chan struct{} // when set, Answer blocks until closed

	analysis    *domain.Analysis
	analysisErr error
	startErr    error
	pathErr     error
	uploadErrs  []error

	proposal domain.Proposal

	starts, generates, uploads, discards, confirms int
	answered                                       []string
	pathAnswers                                    map[string]string
	pathExt                                        string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		questions:  []domain.Question{qDocType, qClient, qDate},
		rejections: map[string]map[string]*domain.RejectionError{},
		proposal: domain.Proposal{
			Name:            "2025-01-15_Factura_Acme_Corp.pdf",
			Path:            "/Documentos/Acme_Corp/Factura",
			FolderStructure: []string{"Documentos", "Acme_Corp", "Factura"},
		},
	}
}

func (f *fakeBackend) reject(questionID, value, reason, suggestion string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejections[questionID] == nil {
		f.rejections[questionID] = map[string]*domain.RejectionError{}
	}
	f.rejections[questionID][value] = &domain.RejectionError{QuestionID: questionID, Reason: reason, Suggestion: suggestion}
}

func (f *fakeBackend) Start(ctx context.Context, file domain.FileRef) (domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return domain.Question{}, f.startErr
	}
	return f.questions[0], nil
}

func (f *fakeBackend) Answer(ctx context.Context, file domain.FileRef, questionID, value string) (domain.AnswerOutcome, error) {
	f.mu.Lock()
	gate, delay := f.answerGate, f.answerDelay
	f.answered = append(f.answered, questionID+"="+value)
	var err error
	if len(f.answerErrs) > 0 {
		err, f.answerErrs = f.answerErrs[0], f.answerErrs[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.AnswerOutcome{}, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if rej, ok := f.rejections[questionID][value]; ok {
		r := *rej
		return domain.AnswerOutcome{}, &r
	}
	for i, q := range f.questions {
		if q.ID != questionID {
			continue
		}
		if i == len(f.questions)-1 {
			return domain.AnswerOutcome{Completed: true}, nil
		}
		next := f.questions[i+1]
		return domain.AnswerOutcome{Next: &next}, nil
	}
	return domain.AnswerOutcome{}, &domain.TransportError{Op: "answer", Status: 404, Detail: "unknown question"}
}

func (f *fakeBackend) GeneratePath(ctx context.Context, file domain.FileRef, answers map[string]string, ext string) (domain.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generates++
	f.pathAnswers = answers
	f.pathExt = ext
	if f.pathErr != nil {
		return domain.Proposal{}, f.pathErr
	}
	return f.proposal, nil
}

func (f *fakeBackend) ConfirmUpload(ctx context.Context, file domain.FileRef, p domain.Proposal) (domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if len(f.uploadErrs) > 0 {
		err := f.uploadErrs[0]
		f.uploadErrs = f.uploadErrs[1:]
		return domain.Receipt{}, err
	}
	return domain.Receipt{FinalPath: p.FullPath(), Name: p.Name, Size: file.Size}, nil
}

func (f *fakeBackend) AnalyzePreview(ctx context.Context, file domain.FileRef) (*domain.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analysis, f.analysisErr
}

func (f *fakeBackend) ConfirmAnalysis(ctx context.Context, file domain.FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	return nil
}

func (f *fakeBackend) Discard(ctx context.Context, file domain.FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discards++
	return nil
}

func (f *fakeBackend) answerCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.answered...)
}

// recorder collects hook events.
type recorder struct {
	mu     sync.Mutex
	phases []domain.Phase
	echoes []string
	think  []bool
	errors []domain.ErrorKind
}

func (r *recorder) hooks() domain.Hooks {
	return domain.Hooks{
		OnPhaseChange: func(_ context.Context, e *domain.PhaseEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.phases = append(r.phases, e.To)
		},
		OnEcho: func(_ context.Context, e *domain.EchoEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.echoes = append(r.echoes, e.QuestionID+"="+e.Answer)
		},
		OnThinking: func(_ context.Context, e *domain.ThinkingEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.think = append(r.think, e.Active)
		},
		OnError: func(_ context.Context, e *domain.ErrorEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errors = append(r.errors, e.Kind)
		},
	}
}
