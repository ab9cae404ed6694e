package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/aretw0/docket/internal/backend/catalog"
	"github.com/aretw0/docket/pkg/domain"
)

// ErrNoAnalysis is returned by an Analyzer that cannot read a document.
// The preview endpoint reports it as "unavailable".
var ErrNoAnalysis = errors.New("analysis unavailable")

// Document is a staged file handed to an Analyzer.
type Document struct {
	File domain.FileRef
	Path string
}

// Analyzer derives a preview from a staged document.
// It returns domain.ErrAnalysisRejected for documents that must not be filed.
type Analyzer interface {
	Analyze(ctx context.Context, doc Document) (*domain.Analysis, error)
}

// AnalyzerFunc adapts a function to Analyzer.
type AnalyzerFunc func(ctx context.Context, doc Document) (*domain.Analysis, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, doc Document) (*domain.Analysis, error) {
	return f(ctx, doc)
}

const maxAnalyzedBytes = 256 << 10

var (
	isoInText   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	dmyInText   = regexp.MustCompile(`\b(\d{2})[/-](\d{2})[/-](\d{4})\b`)
	clientLabel = regexp.MustCompile(`(?im)^\s*(?:cliente|client|customer)\s*:\s*(.+?)\s*$`)
)

// Extractor turns a non-text document into text.
type Extractor interface {
	Supports(ext string) bool
	Extract(ctx context.Context, path, ext string) (string, error)
}

// KeywordAnalyzer reads plain-text documents and extracts the document type
// from the catalog folder keywords, the first date and a "Cliente:" line.
// Other formats are read through the Extractor when one is configured.
type KeywordAnalyzer struct {
	catalog   *catalog.Catalog
	extractor Extractor
}

// KeywordOption configures a KeywordAnalyzer.
type KeywordOption func(*KeywordAnalyzer)

// WithExtractor lets the analyzer read the formats x supports.
func WithExtractor(x Extractor) KeywordOption {
	return func(a *KeywordAnalyzer) {
		a.extractor = x
	}
}

// NewKeywordAnalyzer creates an analyzer that recognises the catalog's document types.
func NewKeywordAnalyzer(c *catalog.Catalog, opts ...KeywordOption) *KeywordAnalyzer {
	a := &KeywordAnalyzer{catalog: c}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// read returns the document text, or ErrNoAnalysis for unreadable formats.
func (a *KeywordAnalyzer) read(ctx context.Context, doc Document) (string, error) {
	if doc.File.Extension != ".txt" {
		if a.extractor == nil || !a.extractor.Supports(doc.File.Extension) {
			return "", ErrNoAnalysis
		}
		text, err := a.extractor.Extract(ctx, doc.Path, doc.File.Extension)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoAnalysis, err)
		}
		if r := []rune(text); len(r) > maxAnalyzedBytes {
			text = string(r[:maxAnalyzedBytes])
		}
		return text, nil
	}

	f, err := os.Open(doc.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxAnalyzedBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return string(data), nil
}

// Analyze implements Analyzer.
func (a *KeywordAnalyzer) Analyze(ctx context.Context, doc Document) (*domain.Analysis, error) {
	raw, err := a.read(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, domain.ErrAnalysisRejected
	}

	answers := make(map[string]string)
	info := make(map[string]string)

	if docType := a.docType(text); docType != "" {
		answers[domain.FieldDocType] = docType
	}
	if m := clientLabel.FindStringSubmatch(text); m != nil {
		answers[domain.FieldClient] = m[1]
	}
	if m := isoInText.FindStringSubmatch(text); m != nil {
		answers[domain.FieldDate] = m[0]
	} else if m := dmyInText.FindStringSubmatch(text); m != nil {
		answers[domain.FieldDate] = m[3] + "-" + m[2] + "-" + m[1]
	}
	for k, v := range answers {
		info[k] = v
	}

	return &domain.Analysis{
		Summary:          summarize(text),
		DocumentType:     answers[domain.FieldDocType],
		Confidence:       float64(len(answers)) / 3,
		KeyInformation:   info,
		SuggestedAnswers: answers,
	}, nil
}

// docType returns the first catalog keyword found in text, capitalised.
func (a *KeywordAnalyzer) docType(text string) string {
	words := strings.FieldsFunc(catalog.FoldKey(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	})
	for _, w := range words {
		if _, ok := a.catalog.Folders[w]; ok {
			return strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return ""
}

func summarize(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(line)
	if r := []rune(line); len(r) > 160 {
		line = string(r[:160]) + "…"
	}
	return line
}
