// Package suggestion holds the single server-proposed correction a session may
// carry for its current question.
package suggestion

import "github.com/aretw0/docket/pkg/domain"

// Offer is a pending server-supplied replacement value.
type Offer struct {
	QuestionID string
	Value      string
	Reason     string
}

// Resolver keeps at most one live Offer.
// It is not safe for concurrent use; the session controller owns it.
type Resolver struct {
	pending *Offer
}

// New creates an empty resolver.
func New() *Resolver {
	return &Resolver{}
}

// Offer records the suggestion carried by a rejection, replacing any
// previous one. It reports whether a suggestion was recorded.
func (r *Resolver) Offer(rej *domain.RejectionError) bool {
	if rej == nil || !rej.HasSuggestion() {
		r.pending = nil
		return false
	}
	r.pending = &Offer{
		QuestionID: rej.QuestionID,
		Value:      rej.Suggestion,
		Reason:     rej.Reason,
	}
	return true
}

// Pending returns the live offer, if any.
func (r *Resolver) Pending() (Offer, bool) {
	if r.pending == nil {
		return Offer{}, false
	}
	return *r.pending, true
}

// Accept consumes the live offer and returns the value to stage as the draft.
func (r *Resolver) Accept() (string, error) {
	if r.pending == nil {
		return "", domain.ErrNoSuggestion
	}
	v := r.pending.Value
	r.pending = nil
	return v, nil
}

// Clear drops the live offer.
func (r *Resolver) Clear() {
	r.pending = nil
}

// Restore reinstates an offer read from a snapshot.
func (r *Resolver) Restore(questionID, value, reason string) {
	if value == "" {
		r.pending = nil
		return
	}
	r.pending = &Offer{QuestionID: questionID, Value: value, Reason: reason}
}
