package backend

import (
	"path"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/aretw0/docket/internal/backend/catalog"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/session"
	"github.com/aretw0/docket/pkg/validation"
)

const msgRequired = "La respuesta es obligatoria"

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Verdict is the server's judgement on one answer.
type Verdict struct {
	Value      string // trimmed, accepted value
	Reason     string // empty when accepted
	Suggestion string // replacement value, may be empty
}

// Accepted reports whether the answer passed.
func (v Verdict) Accepted() bool {
	return v.Reason == ""
}

// Rules applies the authoritative answer checks.
type Rules struct {
	engine *validation.Engine
}

// NewRules creates answer rules reading "today" from now.
func NewRules(now func() time.Time) *Rules {
	return &Rules{engine: validation.New(validation.WithClock(now))}
}

// Check validates raw against q and proposes a correction when one is obvious.
func (r *Rules) Check(q domain.Question, raw string) Verdict {
	value := strings.TrimSpace(raw)
	if q.Required && value == "" && q.Validation.MinLength == 0 {
		return Verdict{Reason: msgRequired}
	}

	res := r.engine.Validate(value, q)
	if res.Valid {
		return Verdict{Value: value}
	}

	v := Verdict{Reason: res.Reason}
	if s, ok := r.engine.Suggest(value, q); ok {
		v.Suggestion = s
	}
	return v
}

// SanitizePart makes text safe for a file or folder name: accents are
// removed, spaces become underscores and anything but letters, digits,
// underscores and hyphens is dropped.
func SanitizePart(text string) string {
	ascii := catalog.StripAccents(strings.TrimSpace(text))
	ascii = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return -1
		}
		return r
	}, ascii)
	ascii = strings.ReplaceAll(ascii, " ", "_")
	return unsafeNameChars.ReplaceAllString(ascii, "")
}

// Propose builds the destination for a file from its answers:
// "{date}_{doc type}_{client}{ext}" in the document type's folder, under a
// sub-folder for the client. Answers to other catalog questions are appended
// to the name in catalog order.
func Propose(c *catalog.Catalog, answers map[string]string, ext string) domain.Proposal {
	var parts []string
	if d := strings.TrimSpace(answers[domain.FieldDate]); d != "" {
		parts = append(parts, d)
	}
	for _, id := range c.IDs() {
		if id == domain.FieldDate {
			continue
		}
		if s := SanitizePart(answers[id]); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "documento")
	}
	if ext = session.NormalizeExtension(ext); ext == "" {
		ext = DefaultExtension
	}
	name := strings.Join(parts, "_") + ext

	folder := c.FolderFor(answers[domain.FieldDocType])
	if client := SanitizePart(answers[domain.FieldClient]); client != "" {
		folder = path.Join(folder, client)
	}
	folder = path.Clean("/" + folder)

	return domain.Proposal{
		Name:            name,
		Path:            folder,
		FolderStructure: strings.Split(strings.Trim(folder, "/"), "/"),
	}
}
