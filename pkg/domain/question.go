package domain

// FormatISODate is the Validation.Format tag for calendar dates (YYYY-MM-DD).
const FormatISODate = "YYYY-MM-DD"

// Well-known question identifiers that carry extra character rules.
const (
	// FieldDocType designates the "document type" question.
	FieldDocType = "doc_type"
	// FieldClient designates the "client/customer name" question.
	FieldClient = "client"
	// FieldDate designates the document date question.
	FieldDate = "date"
)

// Validation is the declarative constraint set attached to a Question.
type Validation struct {
	MinLength   int      `json:"min_length,omitempty" yaml:"min_length,omitempty" mapstructure:"min_length"`
	Format      string   `json:"format,omitempty" yaml:"format,omitempty" mapstructure:"format"`
	OnlyLetters bool     `json:"only_letters,omitempty" yaml:"only_letters,omitempty" mapstructure:"only_letters"`
	HelpText    string   `json:"help_text,omitempty" yaml:"help_text,omitempty" mapstructure:"help_text"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty" mapstructure:"examples"`
}

// Question identifies one prompt in the sequence.
// It is immutable once received from the backend.
type Question struct {
	ID         string     `json:"question_id" yaml:"id" mapstructure:"id"`
	Text       string     `json:"question_text" yaml:"text" mapstructure:"text"`
	Required   bool       `json:"required" yaml:"required" mapstructure:"required"`
	Validation Validation `json:"validation" yaml:"validation" mapstructure:"validation"`
	HelpText   string     `json:"help_text,omitempty" yaml:"help_text,omitempty" mapstructure:"help_text"`
	Examples   []string   `json:"examples,omitempty" yaml:"examples,omitempty" mapstructure:"examples"`
}

// Clone returns a deep copy of the question, safe to retain in History.
func (q Question) Clone() Question {
	c := q
	if q.Examples != nil {
		c.Examples = append([]string(nil), q.Examples...)
	}
	if q.Validation.Examples != nil {
		c.Validation.Examples = append([]string(nil), q.Validation.Examples...)
	}
	return c
}

// Help returns the help text, preferring the question level over the validation level.
func (q Question) Help() string {
	if q.HelpText != "" {
		return q.HelpText
	}
	return q.Validation.HelpText
}

// AnswerOutcome is the backend's reply to an accepted answer.
type AnswerOutcome struct {
	Next      *Question `json:"next_question"`
	Completed bool      `json:"completed"`
}
