package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/docket/internal/logging"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/history"
	"github.com/aretw0/docket/pkg/pacing"
	"github.com/aretw0/docket/pkg/ports"
	"github.com/aretw0/docket/pkg/suggestion"
	"github.com/aretw0/docket/pkg/validation"
)

// Controller drives a single session through its phases.
// All methods are safe for concurrent use. A mutating call that arrives while
// an external call is in flight fails with domain.ErrBusy.
type Controller struct {
	id        string
	backend   ports.Backend
	cfg       Config
	validator *validation.Engine
	pacer     *pacing.Scheduler
	hooks     domain.Hooks
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	phase     domain.Phase
	file      domain.FileRef
	current   *domain.Question
	draft     string
	hist      *history.History
	sugg      *suggestion.Resolver
	valErr    string
	sessErr   string
	analysis  *domain.Analysis
	proposal  *domain.Proposal
	receipt   *domain.Receipt
	updatedAt time.Time

	// gen is bumped by Cancel; a call that returns under an older generation is dropped.
	gen        uint64
	cancelCall context.CancelFunc

	// outbox holds hook calls raised under mu; unlock delivers them.
	outbox []func()
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithHooks registers observability callbacks.
func WithHooks(h domain.Hooks) ControllerOption {
	return func(c *Controller) {
		c.hooks = c.hooks.Merge(h)
	}
}

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithValidator replaces the local validation engine.
func WithValidator(v *validation.Engine) ControllerOption {
	return func(c *Controller) {
		c.validator = v
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates an idle session controller.
func NewController(id string, backend ports.Backend, cfg Config, opts ...ControllerOption) *Controller {
	c := &Controller{
		id:        id,
		backend:   backend,
		cfg:       cfg.withDefaults(),
		validator: validation.New(),
		logger:    logging.NewNop(),
		now:       time.Now,
		phase:     domain.PhaseIdle,
		hist:      history.New(),
		sugg:      suggestion.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.pacer = pacing.New(c.cfg.Pacing, pacing.WithNotifier(c.notifyThinking))
	c.updatedAt = c.now()
	return c
}

// ID returns the session ID.
func (c *Controller) ID() string {
	return c.id
}

// Phase returns the current phase.
func (c *Controller) Phase() domain.Phase {
	c.mu.Lock()
	defer c.unlock()
	return c.phase
}

// Attach binds an uploaded file to an idle session.
func (c *Controller) Attach(ctx context.Context, file domain.FileRef) error {
	c.mu.Lock()
	defer c.unlock()

	if err := c.guard("attach", domain.PhaseIdle); err != nil {
		return err
	}
	if strings.TrimSpace(file.ID) == "" {
		return domain.ErrInvalidFile
	}
	ext := extensionOf(file.Extension, file.Name)
	if !c.cfg.Allows(ext) {
		return fmt.Errorf("%w: %q", domain.ErrExtensionNotAllowed, ext)
	}
	file.Extension = ext

	c.file = file
	c.setPhase(ctx, domain.PhasePreviewPending)
	return nil
}

// Analyze requests a document analysis. When analysis is disabled, unavailable
// or fails, the session degrades to the question sequence.
func (c *Controller) Analyze(ctx context.Context) error {
	return c.begin(ctx, "analyze", c.cfg.AnalysisEnabled)
}

// Skip starts the question sequence without analysis.
func (c *Controller) Skip(ctx context.Context) error {
	return c.begin(ctx, "skip", false)
}

func (c *Controller) begin(ctx context.Context, op string, analyze bool) error {
	c.mu.Lock()
	if err := c.guard(op, domain.PhasePreviewPending); err != nil {
		c.unlock()
		return err
	}
	c.sessErr = ""
	c.setPhase(ctx, domain.PhaseAnalyzing)
	gen, callCtx, file := c.beginCall(ctx)
	c.unlock()

	if analyze {
		analysis, err := c.backend.AnalyzePreview(callCtx, file)
		switch {
		case errors.Is(err, domain.ErrAnalysisRejected):
			return c.rejectAnalysis(ctx, gen, file)
		case err != nil:
			c.logger.Warn("analysis failed, falling back to questions", "session_id", c.id, "err", err)
			c.emitError(ctx, domain.ErrorKindAnalysis, "", err.Error())
		case analysis != nil:
			c.mu.Lock()
			defer c.unlock()
			if c.stale(gen) {
				return domain.ErrCancelled
			}
			c.endCall()
			a := *analysis
			c.analysis = &a
			c.setPhase(ctx, domain.PhaseAnalysisPreview)
			return nil
		default:
			c.logger.Debug("analysis unavailable", "session_id", c.id)
		}
	}

	return c.startQuestions(ctx, gen, callCtx, file, domain.PhasePreviewPending)
}

func (c *Controller) rejectAnalysis(ctx context.Context, gen uint64, file domain.FileRef) error {
	c.mu.Lock()
	if c.stale(gen) {
		c.unlock()
		return domain.ErrCancelled
	}
	c.endCall()
	c.gen++
	c.setPhase(ctx, domain.PhaseCancelled)
	c.unlock()

	c.discard(ctx, file)
	return domain.ErrAnalysisRejected
}

// startQuestions fetches the first question. On failure the session rests in fallback.
func (c *Controller) startQuestions(ctx context.Context, gen uint64, callCtx context.Context, file domain.FileRef, fallback domain.Phase) error {
	q, err := c.backend.Start(callCtx, file)

	c.mu.Lock()
	defer c.unlock()
	if c.stale(gen) {
		return domain.ErrCancelled
	}
	c.endCall()

	if err != nil {
		err = asTransport("start", err)
		c.sessErr = err.Error()
		c.setPhase(ctx, fallback)
		c.queueError(ctx, domain.ErrorKindTransport, "", c.sessErr)
		return err
	}

	c.show(q)
	c.setPhase(ctx, domain.PhaseAsking)
	return nil
}

// ConfirmAnalysis accepts the analysis preview and starts the question sequence.
// Suggested answers from the analysis prefill the drafts.
func (c *Controller) ConfirmAnalysis(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("confirm analysis", domain.PhaseAnalysisPreview); err != nil {
		c.unlock()
		return err
	}
	c.sessErr = ""
	c.setPhase(ctx, domain.PhaseAnalyzing)
	gen, callCtx, file := c.beginCall(ctx)
	c.unlock()

	if err := c.backend.ConfirmAnalysis(callCtx, file); err != nil {
		c.logger.Warn("analysis confirmation failed", "session_id", c.id, "err", err)
	}

	return c.startQuestions(ctx, gen, callCtx, file, domain.PhaseAnalysisPreview)
}

// SetDraft replaces the editable answer. A live suggestion stays available.
func (c *Controller) SetDraft(text string) error {
	c.mu.Lock()
	defer c.unlock()

	if err := c.guard("edit draft", domain.PhaseAsking, domain.PhaseSuggestionOffered); err != nil {
		return err
	}
	c.draft = text
	c.valErr = ""
	c.touch()
	return nil
}

// Submit validates raw locally and, when it passes, sends it to the backend.
// A local failure with an obvious correction offers it like a server suggestion.
//
// The returned error describes why the session did not advance:
// *domain.ValidationError (local rule, no network call), *domain.RejectionError
// (server refusal), *domain.TransportError (retry allowed) or domain.ErrCancelled.
// The session state already reflects the outcome in every case.
func (c *Controller) Submit(ctx context.Context, raw string) error {
	c.mu.Lock()
	if err := c.guard("submit", domain.PhaseAsking, domain.PhaseSuggestionOffered); err != nil {
		c.unlock()
		return err
	}
	q := *c.current
	value := strings.TrimSpace(raw)

	if res := c.validator.Validate(value, q); !res.Valid {
		verr := &domain.ValidationError{QuestionID: q.ID, Reason: res.Reason}
		c.draft = raw
		c.valErr = res.Reason
		c.sessErr = ""
		if s, ok := c.validator.Suggest(value, q); ok {
			verr.Suggestion = s
			c.sugg.Offer(&domain.RejectionError{QuestionID: q.ID, Reason: res.Reason, Suggestion: s})
			c.setPhase(ctx, domain.PhaseSuggestionOffered)
		} else {
			c.sugg.Clear()
			c.setPhase(ctx, domain.PhaseAsking)
		}
		c.touch()
		c.unlock()
		c.emitError(ctx, domain.ErrorKindValidation, q.ID, res.Reason)
		return verr
	}

	c.draft = value
	c.valErr = ""
	c.sessErr = ""
	c.sugg.Clear()
	c.setPhase(ctx, domain.PhaseSubmitting)
	gen, callCtx, file := c.beginCall(ctx)
	c.unlock()

	c.emitEcho(ctx, q, value)

	out, err := pacing.Run(callCtx, c.pacer, func(ctx context.Context) (domain.AnswerOutcome, error) {
		return c.backend.Answer(ctx, file, q.ID, value)
	})

	c.mu.Lock()
	if c.stale(gen) {
		c.unlock()
		return domain.ErrCancelled
	}
	if err != nil {
		c.endCall()
		defer c.unlock()
		return c.failSubmit(ctx, q, err)
	}

	if !out.Completed && out.Next != nil {
		c.endCall()
		defer c.unlock()
		c.hist.Advance(q, value)
		c.show(*out.Next)
		c.setPhase(ctx, domain.PhaseAsking)
		return nil
	}

	// The final question is recorded but never pushed.
	c.hist.Record(q.ID, value)
	answers := c.hist.Answers()
	ext := c.file.Extension
	if ext == "" {
		ext = c.cfg.DefaultExtension
	}
	c.unlock()

	proposal, err := c.backend.GeneratePath(callCtx, file, answers, ext)

	c.mu.Lock()
	defer c.unlock()
	if c.stale(gen) {
		return domain.ErrCancelled
	}
	c.endCall()

	if err != nil {
		err = asTransport("generate path", err)
		c.sessErr = err.Error()
		c.setPhase(ctx, domain.PhaseAsking)
		c.queueError(ctx, domain.ErrorKindTransport, q.ID, c.sessErr)
		return err
	}

	if proposal.Path == "" {
		proposal.Path = c.cfg.DefaultPath
	}
	c.proposal = &proposal
	c.setPhase(ctx, domain.PhaseCompleted)
	return nil
}

// failSubmit routes a failed answer call. The caller holds the lock.
func (c *Controller) failSubmit(ctx context.Context, q domain.Question, err error) error {
	var rej *domain.RejectionError
	if errors.As(err, &rej) {
		if rej.QuestionID == "" {
			rej.QuestionID = q.ID
		}
		c.valErr = rej.Reason
		if c.sugg.Offer(rej) {
			c.setPhase(ctx, domain.PhaseSuggestionOffered)
		} else {
			c.setPhase(ctx, domain.PhaseAsking)
		}
		c.queueError(ctx, domain.ErrorKindRejection, q.ID, rej.Reason)
		return rej
	}

	err = asTransport("answer", err)
	c.sessErr = err.Error()
	c.setPhase(ctx, domain.PhaseAsking)
	c.queueError(ctx, domain.ErrorKindTransport, q.ID, c.sessErr)
	return err
}

// AcceptSuggestion stages the pending suggestion as the draft.
// The user still submits it explicitly.
func (c *Controller) AcceptSuggestion(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()

	if err := c.guard("accept suggestion", domain.PhaseSuggestionOffered); err != nil {
		return err
	}
	value, err := c.sugg.Accept()
	if err != nil {
		return err
	}
	c.draft = value
	c.valErr = ""
	c.setPhase(ctx, domain.PhaseAsking)
	return nil
}

// Back returns to the previous question with its recorded answer as the draft.
func (c *Controller) Back(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()

	if err := c.guard("back", domain.PhaseAsking, domain.PhaseSuggestionOffered); err != nil {
		return err
	}
	entry, err := c.hist.GoBack(c.current.ID)
	if err != nil {
		return err
	}

	q := entry.Question
	c.current = &q
	c.draft = entry.Answer
	c.sugg.Clear()
	c.valErr = ""
	c.sessErr = ""
	c.setPhase(ctx, domain.PhaseAsking)
	c.touch()
	return nil
}

// EditAnswers jumps back to the first question, clearing the history while
// keeping every answer for reuse as drafts.
func (c *Controller) EditAnswers(ctx context.Context) error {
	c.mu.Lock()
	defer c.unlock()

	if err := c.guard("edit answers", domain.PhaseCompleted, domain.PhaseAsking, domain.PhaseSuggestionOffered); err != nil {
		return err
	}
	entry := c.hist.ResetToFirst(*c.current)

	q := entry.Question
	c.current = &q
	c.draft = entry.Answer
	c.proposal = nil
	c.sugg.Clear()
	c.valErr = ""
	c.sessErr = ""
	c.setPhase(ctx, domain.PhaseAsking)
	c.touch()
	return nil
}

// Confirm uploads the file to the generated destination.
// On failure the session returns to Completed with the error set.
func (c *Controller) Confirm(ctx context.Context) error {
	c.mu.Lock()
	if err := c.guard("confirm", domain.PhaseCompleted); err != nil {
		c.unlock()
		return err
	}
	proposal := *c.proposal
	c.sessErr = ""
	c.setPhase(ctx, domain.PhaseConfirmed)
	gen, callCtx, file := c.beginCall(ctx)
	c.unlock()

	receipt, err := c.backend.ConfirmUpload(callCtx, file, proposal)

	c.mu.Lock()
	defer c.unlock()
	if c.stale(gen) {
		return domain.ErrCancelled
	}
	c.endCall()

	if err != nil {
		err = asTransport("upload", err)
		c.sessErr = err.Error()
		c.setPhase(ctx, domain.PhaseCompleted)
		c.queueError(ctx, domain.ErrorKindUpload, "", c.sessErr)
		return err
	}

	c.receipt = &receipt
	c.setPhase(ctx, domain.PhaseUploaded)
	c.logger.Info("file uploaded", "session_id", c.id, "path", receipt.FinalPath)
	return nil
}

// Cancel ends the session from any non-terminal phase. Work in flight is
// abandoned and its result ignored. The staged file is discarded best-effort.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case domain.PhaseCancelled:
		c.unlock()
		return nil
	case domain.PhaseUploaded:
		c.unlock()
		return &domain.PhaseError{Op: "cancel", Phase: c.phase}
	}

	c.gen++
	if c.cancelCall != nil {
		c.cancelCall()
		c.cancelCall = nil
	}
	attached := c.phase != domain.PhaseIdle
	file := c.file
	c.sugg.Clear()
	c.setPhase(ctx, domain.PhaseCancelled)
	c.unlock()

	if attached {
		c.discard(ctx, file)
	}
	return nil
}

// View returns the renderable state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.unlock()

	return View{
		Snapshot:  c.snapshot(c.phase),
		Step:      c.hist.Len() + 1,
		CanGoBack: c.phase.Editable() && !c.hist.Empty(),
		Busy:      c.phase.InFlight(),
	}
}

// Snapshot returns the persistable state. In-flight phases are reported as
// the phase the session rests in if the call never returns.
func (c *Controller) Snapshot() *domain.Snapshot {
	c.mu.Lock()
	defer c.unlock()
	return c.snapshot(c.phase.Settled())
}

func (c *Controller) snapshot(phase domain.Phase) *domain.Snapshot {
	snap := domain.NewSnapshot(c.id)
	snap.Phase = phase
	snap.File = c.file
	if c.current != nil {
		q := c.current.Clone()
		snap.Current = &q
	}
	snap.Draft = c.draft
	snap.History = c.hist.Questions()
	snap.Answers = c.hist.Answers()
	if offer, ok := c.sugg.Pending(); ok {
		snap.Suggestion = offer.Value
		snap.SuggestionReason = offer.Reason
	}
	snap.ValidationError = c.valErr
	snap.SessionError = c.sessErr
	snap.Analysis = c.analysis
	snap.Proposal = c.proposal
	snap.Receipt = c.receipt
	snap.UpdatedAt = c.updatedAt
	return snap.Clone()
}

// Restore loads a persisted snapshot into an idle controller.
func (c *Controller) Restore(snap *domain.Snapshot) error {
	if snap == nil {
		return domain.ErrSessionNotFound
	}
	c.mu.Lock()
	defer c.unlock()

	if c.phase != domain.PhaseIdle || c.cancelCall != nil {
		return &domain.PhaseError{Op: "restore", Phase: c.phase}
	}

	s := snap.Clone()
	c.phase = s.Phase.Settled()
	c.file = s.File
	c.current = s.Current
	c.draft = s.Draft
	c.hist = history.Restore(s.History, s.Answers)
	c.sugg = suggestion.New()
	if c.current != nil {
		c.sugg.Restore(c.current.ID, s.Suggestion, s.SuggestionReason)
	}
	if _, ok := c.sugg.Pending(); c.phase == domain.PhaseSuggestionOffered && !ok {
		c.phase = domain.PhaseAsking
	}
	if c.phase.Editable() && c.current == nil {
		return fmt.Errorf("restore %s: phase %q without a current question", c.id, c.phase)
	}
	if c.phase == domain.PhaseCompleted && s.Proposal == nil {
		return fmt.Errorf("restore %s: completed without a proposal", c.id)
	}
	c.valErr = s.ValidationError
	c.sessErr = s.SessionError
	c.analysis = s.Analysis
	c.proposal = s.Proposal
	c.receipt = s.Receipt
	c.updatedAt = s.UpdatedAt
	return nil
}

// guard fails fast while a call is in flight and rejects phases not listed.
func (c *Controller) guard(op string, allowed ...domain.Phase) error {
	if c.phase.InFlight() {
		return domain.ErrBusy
	}
	for _, p := range allowed {
		if c.phase == p {
			if p.Editable() && c.current == nil {
				break
			}
			if p == domain.PhaseCompleted && (c.current == nil || c.proposal == nil) {
				break
			}
			return nil
		}
	}
	return &domain.PhaseError{Op: op, Phase: c.phase}
}

// show makes q current and prefills the draft from a stored answer, or from
// the analysis when the question was never answered.
func (c *Controller) show(q domain.Question) {
	q = q.Clone()
	c.current = &q
	c.draft = ""
	if a, ok := c.hist.Answer(q.ID); ok {
		c.draft = a
	} else if c.analysis != nil {
		c.draft = c.analysis.SuggestedAnswers[q.ID]
	}
	c.touch()
}

func (c *Controller) beginCall(ctx context.Context) (uint64, context.Context, domain.FileRef) {
	callCtx, cancel := context.WithCancel(ctx)
	c.cancelCall = cancel
	return c.gen, callCtx, c.file
}

func (c *Controller) endCall() {
	if c.cancelCall != nil {
		c.cancelCall()
		c.cancelCall = nil
	}
}

func (c *Controller) stale(gen uint64) bool {
	return c.gen != gen
}

func (c *Controller) discard(ctx context.Context, file domain.FileRef) {
	if err := c.backend.Discard(context.WithoutCancel(ctx), file); err != nil {
		c.logger.Warn("failed to discard file", "session_id", c.id, "file_id", file.ID, "err", err)
	}
}

// unlock releases mu, then runs the hook calls queued while it was held, so
// a hook may read the controller.
func (c *Controller) unlock() {
	events := c.outbox
	c.outbox = nil
	c.mu.Unlock()
	for _, fire := range events {
		fire()
	}
}

func (c *Controller) touch() {
	c.updatedAt = c.now()
}

func (c *Controller) setPhase(ctx context.Context, to domain.Phase) {
	from := c.phase
	if from == to {
		return
	}
	c.phase = to
	c.touch()
	c.logger.Debug("phase change", "session_id", c.id, "from", from, "to", to)

	if c.hooks.OnPhaseChange != nil {
		ev := &domain.PhaseEvent{
			EventBase: c.base(domain.EventPhaseChange),
			From:      from,
			To:        to,
		}
		c.outbox = append(c.outbox, func() { c.hooks.OnPhaseChange(ctx, ev) })
	}
}

func (c *Controller) emitEcho(ctx context.Context, q domain.Question, answer string) {
	if c.hooks.OnEcho != nil {
		c.hooks.OnEcho(ctx, &domain.EchoEvent{
			EventBase:    c.base(domain.EventEcho),
			QuestionID:   q.ID,
			QuestionText: q.Text,
			Answer:       answer,
		})
	}
}

func (c *Controller) emitError(ctx context.Context, kind domain.ErrorKind, questionID, msg string) {
	if c.hooks.OnError != nil {
		c.hooks.OnError(ctx, &domain.ErrorEvent{
			EventBase:  c.base(domain.EventError),
			Kind:       kind,
			QuestionID: questionID,
			Message:    msg,
		})
	}
}

// queueError is emitError for callers holding mu.
func (c *Controller) queueError(ctx context.Context, kind domain.ErrorKind, questionID, msg string) {
	if c.hooks.OnError != nil {
		c.outbox = append(c.outbox, func() { c.emitError(ctx, kind, questionID, msg) })
	}
}

func (c *Controller) notifyThinking(ctx context.Context, active bool, stage pacing.Stage) {
	if c.hooks.OnThinking != nil {
		c.hooks.OnThinking(ctx, &domain.ThinkingEvent{
			EventBase: c.base(domain.EventThinking),
			Active:    active,
			Stage:     string(stage),
		})
	}
}

func (c *Controller) base(t domain.EventType) domain.EventBase {
	return domain.EventBase{Timestamp: c.now(), Type: t, SessionID: c.id}
}

// asTransport wraps any error that is not already a transport error.
func asTransport(op string, err error) error {
	var te *domain.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &domain.TransportError{Op: op, Err: err}
}
