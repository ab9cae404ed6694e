// Package validation mirrors the server-side answer rules so that most invalid
// answers are rejected before any network round trip.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/aretw0/docket/pkg/domain"
)

const (
	// MaxDocTypeLength is the maximum rune count of a document type.
	MaxDocTypeLength = 50
	// MaxClientLength is the maximum rune count of a client name.
	MaxClientLength = 100
)

// Reasons shown to the user. They match the backend wording so a client-side
// rejection reads the same as a server-side one.
const (
	msgMinLength     = "La respuesta debe tener mínimo %d caracteres"
	msgDocTypeLetter = "El tipo debe contener solo letras y espacios (sin números ni símbolos). Ejemplo: Factura"
	msgDocTypeMax    = "El tipo debe tener máximo %d caracteres"
	msgClientChars   = "El cliente solo puede contener letras, números, espacios, guiones y puntos. Ejemplo: Acme Corp."
	msgClientMax     = "El cliente debe tener máximo %d caracteres"
	msgDateFormat    = "Formato de fecha inválido. Usa YYYY-MM-DD (ejemplo: 2025-01-15)"
	msgDateInvalid   = "Fecha inválida. Verifica el día y mes"
	msgDateFuture    = "La fecha no puede estar en el futuro. Usa una fecha de hoy o anterior."
)

var (
	lettersOnly   = regexp.MustCompile(`^[\p{L}\s]+$`)
	clientPattern = regexp.MustCompile(`^[\p{L}\p{Nd}\s.\-]+$`)
	isoDate       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// Result is the outcome of validating one answer. It is never persisted.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

func accept() Result { return Result{Valid: true} }

func reject(format string, args ...any) Result {
	if len(args) == 0 {
		return Result{Reason: format}
	}
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Engine validates answers against a question's declarative rules.
type Engine struct {
	now      func() time.Time
	location *time.Location
}

// Option configures the Engine.
type Option func(*Engine)

// WithClock sets the source of "today" for date rules.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLocation sets the calendar used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		e.location = loc
	}
}

// New creates a validation engine using the wall clock and local time zone by default.
func New(opts ...Option) *Engine {
	e := &Engine{
		now:      time.Now,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = New()

// Validate checks raw against q using the wall clock.
func Validate(raw string, q domain.Question) Result {
	return defaultEngine.Validate(raw, q)
}

// Validate applies the rules in order; the first failure wins.
//  1. min_length on the trimmed value
//  2. document type: letters and spaces only, at most MaxDocTypeLength
//  3. client name: letters, digits, spaces, hyphens, periods, at most MaxClientLength
//  4. ISO date format: well-formed, a real calendar date, not after today
func (e *Engine) Validate(raw string, q domain.Question) Result {
	value := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(value)
	rules := q.Validation

	if rules.MinLength > 0 && length < rules.MinLength {
		return reject(msgMinLength, rules.MinLength)
	}

	if q.ID == domain.FieldDocType && rules.OnlyLetters {
		if !lettersOnly.MatchString(value) {
			return reject(msgDocTypeLetter)
		}
		if length > MaxDocTypeLength {
			return reject(msgDocTypeMax, MaxDocTypeLength)
		}
	}

	if q.ID == domain.FieldClient {
		if !clientPattern.MatchString(value) {
			return reject(msgClientChars)
		}
		if length > MaxClientLength {
			return reject(msgClientMax, MaxClientLength)
		}
	}

	if rules.Format == domain.FormatISODate {
		return e.validateDate(value)
	}

	return accept()
}

func (e *Engine) validateDate(value string) Result {
	if !isoDate.MatchString(value) {
		return reject(msgDateFormat)
	}

	date, err := time.ParseInLocation("2006-01-02", value, e.location)
	if err != nil {
		// time.Parse rejects out-of-range days and months (e.g. 2025-04-31).
		return reject(msgDateInvalid)
	}

	now := e.now().In(e.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.location)
	if date.After(today) {
		return reject(msgDateFuture)
	}
	return accept()
}

var (
	dayFirstDash = regexp.MustCompile(`^(\d{2})-(\d{2})-(\d{4})$`)
	slashDate    = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)
)

// Suggest proposes a corrected value for an answer that failed Validate.
// Only candidates that pass Validate themselves are returned:
//   - document type: the input with everything but letters and spaces removed
//   - ISO date: DD-MM-YYYY, MM/DD/YYYY and DD/MM/YYYY rewritten as YYYY-MM-DD,
//     month-first winning for ambiguous slash dates
func (e *Engine) Suggest(raw string, q domain.Question) (string, bool) {
	value := strings.TrimSpace(raw)
	var candidates []string
	switch {
	case q.Validation.Format == domain.FormatISODate:
		candidates = dateCandidates(value)
	case q.ID == domain.FieldDocType:
		candidates = []string{lettersAndSpaces(value)}
	}

	for _, c := range candidates {
		if c != "" && c != value && e.Validate(c, q).Valid {
			return c, true
		}
	}
	return "", false
}

// Suggest proposes a correction using the wall clock.
func Suggest(raw string, q domain.Question) (string, bool) {
	return defaultEngine.Suggest(raw, q)
}

func lettersAndSpaces(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func dateCandidates(s string) []string {
	var out []string
	if m := dayFirstDash.FindStringSubmatch(s); m != nil {
		out = append(out, m[3]+"-"+m[2]+"-"+m[1])
	}
	if m := slashDate.FindStringSubmatch(s); m != nil {
		out = append(out, m[3]+"-"+m[1]+"-"+m[2], m[3]+"-"+m[2]+"-"+m[1])
	}
	return out
}
