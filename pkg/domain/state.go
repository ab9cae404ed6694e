package domain

import "time"

// Phase is the explicit state of a session.
// Exactly one phase is active at a time; it determines which operations are legal.
type Phase string

const (
	PhaseIdle              Phase = "idle"               // No file attached yet
	PhasePreviewPending    Phase = "preview_pending"    // Raw file shown, not yet analyzed
	PhaseAnalyzing         Phase = "analyzing"          // Analysis call in flight
	PhaseAnalysisPreview   Phase = "analysis_preview"   // Analysis shown for confirmation
	PhaseAsking            Phase = "asking"             // One question displayed, input editable
	PhaseSubmitting        Phase = "submitting"         // Answer call in flight, input locked
	PhaseSuggestionOffered Phase = "suggestion_offered" // A correction is available
	PhaseCompleted         Phase = "completed"          // Proposal generated, awaiting confirmation
	PhaseConfirmed         Phase = "confirmed"          // Upload call in flight
	PhaseUploaded          Phase = "uploaded"           // Terminal success
	PhaseCancelled         Phase = "cancelled"          // Terminal, session discarded
)

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseUploaded || p == PhaseCancelled
}

// InFlight reports whether an external call owns the session.
func (p Phase) InFlight() bool {
	return p == PhaseSubmitting || p == PhaseAnalyzing || p == PhaseConfirmed
}

// Editable reports whether the answer input accepts edits and submissions.
func (p Phase) Editable() bool {
	return p == PhaseAsking || p == PhaseSuggestionOffered
}

// Settled maps an in-flight phase to the phase the session rests in when the
// call never returned (e.g. after a restart).
func (p Phase) Settled() Phase {
	switch p {
	case PhaseSubmitting:
		return PhaseAsking
	case PhaseAnalyzing:
		return PhasePreviewPending
	case PhaseConfirmed:
		return PhaseCompleted
	default:
		return p
	}
}

// Snapshot is the persistable image of a session.
// Transient presentation state (thinking indicator, echo) is not part of it.
type Snapshot struct {
	SessionID string  `json:"session_id"`
	Phase     Phase   `json:"phase"`
	File      FileRef `json:"file"`

	// Current is the question on display. Nil before the sequence starts.
	Current *Question `json:"current,omitempty"`
	// Draft is the editable answer for Current.
	Draft string `json:"draft,omitempty"`

	// History holds the questions advanced past, oldest first.
	History []Question `json:"history"`
	// Answers maps question IDs to the last given (trimmed) answer.
	Answers map[string]string `json:"answers"`

	Suggestion       string `json:"suggestion,omitempty"`
	SuggestionReason string `json:"suggestion_reason,omitempty"`
	ValidationError  string `json:"validation_error,omitempty"`
	SessionError     string `json:"session_error,omitempty"`

	Analysis *Analysis `json:"analysis,omitempty"`
	Proposal *Proposal `json:"proposal,omitempty"`
	Receipt  *Receipt  `json:"receipt,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewSnapshot creates a clean idle snapshot.
func NewSnapshot(sessionID string) *Snapshot {
	return &Snapshot{
		SessionID: sessionID,
		Phase:     PhaseIdle,
		History:   []Question{},
		Answers:   make(map[string]string),
	}
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := *s
	if s.Current != nil {
		q := s.Current.Clone()
		c.Current = &q
	}
	c.History = make([]Question, len(s.History))
	for i, q := range s.History {
		c.History[i] = q.Clone()
	}
	c.Answers = make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	if s.Analysis != nil {
		a := *s.Analysis
		c.Analysis = &a
	}
	if s.Proposal != nil {
		p := *s.Proposal
		p.FolderStructure = append([]string(nil), s.Proposal.FolderStructure...)
		c.Proposal = &p
	}
	if s.Receipt != nil {
		r := *s.Receipt
		c.Receipt = &r
	}
	return &c
}
