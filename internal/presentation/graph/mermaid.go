package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/docket/pkg/domain"
)

// Fixed node IDs around the question sequence.
const (
	NodeStart    = "start"
	NodeAnalysis = "analysis"
	NodeProposal = "proposal"
	NodeUpload   = "upload"
)

// Overlay contains session data to visualize on the graph.
type Overlay struct {
	Answered []string // question IDs with a recorded answer
	Current  string   // question or fixed node ID on display
}

// OverlayFor derives an overlay from a session snapshot.
func OverlayFor(snap *domain.Snapshot) *Overlay {
	if snap == nil {
		return nil
	}
	o := &Overlay{}
	for id := range snap.Answers {
		o.Answered = append(o.Answered, id)
	}
	switch {
	case snap.Phase == domain.PhasePreviewPending || snap.Phase == domain.PhaseAnalyzing || snap.Phase == domain.PhaseAnalysisPreview:
		o.Current = NodeAnalysis
	case snap.Phase == domain.PhaseCompleted || snap.Phase == domain.PhaseConfirmed:
		o.Current = NodeProposal
	case snap.Phase == domain.PhaseUploaded:
		o.Current = NodeUpload
	case snap.Current != nil:
		o.Current = snap.Current.ID
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of a question sequence:
// analysis, each question in order, path generation and upload. Questions are
// drawn as input parallelograms labelled with their text and rules; the back
// transitions are dotted.
func GenerateMermaid(questions []domain.Question, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	fmt.Fprintf(&sb, "    %s((\"inicio\"))\n", NodeStart)
	fmt.Fprintf(&sb, "    %s{\"¿analizar?\"}\n", NodeAnalysis)
	fmt.Fprintf(&sb, "    %s --> %s\n", NodeStart, NodeAnalysis)

	prev := NodeAnalysis
	for i, q := range questions {
		id := sanitizeMermaidID(q.ID)
		fmt.Fprintf(&sb, "    %s[/\"%s%s\"/]\n", id, escape(q.Text), rules(q.Validation))

		switch {
		case i == 0:
			fmt.Fprintf(&sb, "    %s -- \"omitir / confirmar\" --> %s\n", prev, id)
		default:
			fmt.Fprintf(&sb, "    %s --> %s\n", prev, id)
			fmt.Fprintf(&sb, "    %s -. \"atrás\" .-> %s\n", id, prev)
		}
		prev = id
	}

	fmt.Fprintf(&sb, "    %s[[\"generar nombre y ruta\"]]\n", NodeProposal)
	fmt.Fprintf(&sb, "    %s --> %s\n", prev, NodeProposal)
	if len(questions) > 0 {
		fmt.Fprintf(&sb, "    %s -. \"editar\" .-> %s\n", NodeProposal, sanitizeMermaidID(questions[0].ID))
	}
	fmt.Fprintf(&sb, "    %s((\"subido\"))\n", NodeUpload)
	fmt.Fprintf(&sb, "    %s -- \"confirmar\" --> %s\n", NodeProposal, NodeUpload)

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		seen := make(map[string]bool)
		for _, q := range questions {
			// Catalog order keeps the output stable.
			if !seen[q.ID] && contains(overlay.Answered, q.ID) {
				seen[q.ID] = true
				fmt.Fprintf(&sb, "    class %s visited;\n", sanitizeMermaidID(q.ID))
			}
		}
		if overlay.Current != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Current))
		}
	}

	return sb.String()
}

func rules(v domain.Validation) string {
	var parts []string
	if v.MinLength > 0 {
		parts = append(parts, fmt.Sprintf("mín. %d", v.MinLength))
	}
	if v.OnlyLetters {
		parts = append(parts, "solo letras")
	}
	if v.Format != "" {
		parts = append(parts, v.Format)
	}
	if len(parts) == 0 {
		return ""
	}
	return " <br/> " + strings.Join(parts, ", ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}
