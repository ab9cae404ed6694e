package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/ports"
)

// Masked replaces personal values in stored snapshots.
const Masked = "***"

type piiMiddleware struct {
	next     ports.SnapshotStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks the answers of questions
// whose ID matches one of the patterns, together with the draft and
// suggestion when such a question is on display.
//
// Masked answers are dropped on Load, so a resumed session asks for them again.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.SnapshotStore) ports.SnapshotStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) sensitive(questionID string) bool {
	for _, p := range m.patterns {
		if p.MatchString(questionID) {
			return true
		}
	}
	return false
}

func (m *piiMiddleware) Save(ctx context.Context, sessionID string, snap *domain.Snapshot) error {
	// Clone so the live controller's snapshot is not touched.
	masked := snap.Clone()
	for id := range masked.Answers {
		if m.sensitive(id) {
			masked.Answers[id] = Masked
		}
	}
	if masked.Current != nil && m.sensitive(masked.Current.ID) {
		if masked.Draft != "" {
			masked.Draft = Masked
		}
		if masked.Suggestion != "" {
			masked.Suggestion = Masked
		}
	}
	if a := masked.Analysis; a != nil {
		a.SuggestedAnswers = maskMap(a.SuggestedAnswers, m.sensitive)
		a.KeyInformation = maskMap(a.KeyInformation, m.sensitive)
	}
	return m.next.Save(ctx, sessionID, masked)
}

func (m *piiMiddleware) Load(ctx context.Context, sessionID string) (*domain.Snapshot, error) {
	snap, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for id, v := range snap.Answers {
		if v == Masked {
			delete(snap.Answers, id)
		}
	}
	if snap.Draft == Masked {
		snap.Draft = ""
	}
	if snap.Suggestion == Masked {
		snap.Suggestion = ""
		snap.SuggestionReason = ""
	}
	return snap, nil
}

func (m *piiMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *piiMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func maskMap(in map[string]string, sensitive func(string) bool) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if sensitive(k) {
			v = Masked
		}
		out[k] = v
	}
	return out
}
