// Package history records the questions a session has advanced past together
// with every answer given, so the user can step back or re-walk the sequence
// without losing what they typed.
package history

import (
	"github.com/aretw0/docket/pkg/domain"
)

// Entry is a question restored from the history with its recorded answer.
type Entry struct {
	Question domain.Question
	Answer   string
}

// History is an ordered stack of advanced-past questions plus a map of
// question ID to the last answer given.
//
// Invariant: Len() equals the number of Advance calls since creation or the
// last ResetToFirst, minus GoBack calls. The question on display is never a member.
// History is not safe for concurrent use; the session controller owns it.
type History struct {
	questions []domain.Question
	answers   map[string]string
}

// New creates an empty history.
func New() *History {
	return &History{
		questions: []domain.Question{},
		answers:   make(map[string]string),
	}
}

// Restore rebuilds a history from persisted questions and answers.
func Restore(questions []domain.Question, answers map[string]string) *History {
	h := New()
	for _, q := range questions {
		h.questions = append(h.questions, q.Clone())
	}
	for k, v := range answers {
		h.answers[k] = v
	}
	return h
}

// Advance pushes q and records answer under its ID.
// The caller must immediately replace its current question.
func (h *History) Advance(q domain.Question, answer string) {
	h.questions = append(h.questions, q.Clone())
	h.answers[q.ID] = answer
}

// Record stores an answer without pushing its question.
// It is used for the final question of a sequence, which is never pushed.
func (h *History) Record(questionID, answer string) {
	h.answers[questionID] = answer
}

// GoBack pops the last question and returns it with its recorded answer.
// Any answer recorded under currentID (the question being abandoned) is dropped;
// the popped question's own answer stays available for resubmission.
func (h *History) GoBack(currentID string) (Entry, error) {
	if len(h.questions) == 0 {
		return Entry{}, domain.ErrNoHistory
	}

	last := h.questions[len(h.questions)-1]
	h.questions = h.questions[:len(h.questions)-1]

	if currentID != "" && currentID != last.ID {
		delete(h.answers, currentID)
	}

	return Entry{Question: last, Answer: h.answers[last.ID]}, nil
}

// ResetToFirst clears the history and returns the first question ever asked.
// With an empty history the current question is already the first one and is
// returned unchanged. Answers are kept for reuse.
func (h *History) ResetToFirst(current domain.Question) Entry {
	if len(h.questions) == 0 {
		return Entry{Question: current, Answer: h.answers[current.ID]}
	}

	first := h.questions[0]
	h.questions = []domain.Question{}
	return Entry{Question: first, Answer: h.answers[first.ID]}
}

// Answer returns the answer recorded for a question ID.
func (h *History) Answer(questionID string) (string, bool) {
	a, ok := h.answers[questionID]
	return a, ok
}

// Answers returns a copy of every recorded answer.
func (h *History) Answers() map[string]string {
	out := make(map[string]string, len(h.answers))
	for k, v := range h.answers {
		out[k] = v
	}
	return out
}

// Questions returns a copy of the advanced-past questions, oldest first.
func (h *History) Questions() []domain.Question {
	out := make([]domain.Question, len(h.questions))
	for i, q := range h.questions {
		out[i] = q.Clone()
	}
	return out
}

// Len returns the number of advanced-past questions.
func (h *History) Len() int {
	return len(h.questions)
}

// Empty reports whether going back is impossible.
func (h *History) Empty() bool {
	return len(h.questions) == 0
}
