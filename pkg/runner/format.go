package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/session"
)

// FormatView renders a session view as markdown.
func FormatView(v session.View) string {
	if v.Snapshot == nil {
		return ""
	}
	var b strings.Builder

	switch v.Phase {
	case domain.PhasePreviewPending:
		fmt.Fprintf(&b, "**Documento:** %s (%s)\n\n", v.File.Name, humanSize(v.File.Size))
		b.WriteString("Pulsa Enter para analizarlo o escribe `:omitir` para responder las preguntas.\n")

	case domain.PhaseAnalysisPreview:
		a := v.Analysis
		b.WriteString("## Análisis del documento\n\n")
		if a != nil {
			fmt.Fprintf(&b, "- **Tipo:** %s (confianza %.0f%%)\n", a.DocumentType, a.Confidence*100)
			for _, k := range sortedKeys(a.KeyInformation) {
				fmt.Fprintf(&b, "- **%s:** %s\n", k, a.KeyInformation[k])
			}
			if a.Summary != "" {
				fmt.Fprintf(&b, "\n> %s\n", a.Summary)
			}
		}
		b.WriteString("\nEscribe `:confirmar` para continuar o `:cancelar` para descartarlo.\n")

	case domain.PhaseAsking, domain.PhaseSuggestionOffered, domain.PhaseSubmitting:
		if v.Current == nil {
			break
		}
		fmt.Fprintf(&b, "**%d.** %s\n", v.Step, v.Current.Text)
		if help := v.Current.Help(); help != "" {
			fmt.Fprintf(&b, "\n_%s_\n", help)
		}
		if len(v.Current.Examples) > 0 {
			fmt.Fprintf(&b, "\nEjemplos: %s\n", strings.Join(v.Current.Examples, ", "))
		}
		if v.ValidationError != "" {
			fmt.Fprintf(&b, "\n**!** %s\n", v.ValidationError)
		}
		if v.Suggestion != "" {
			fmt.Fprintf(&b, "\n¿Quisiste decir **%s**? Escribe `:usar` para aceptarlo.\n", v.Suggestion)
		}
		if v.Draft != "" {
			fmt.Fprintf(&b, "\nRespuesta actual: `%s`\n", v.Draft)
		}

	case domain.PhaseCompleted:
		b.WriteString("## Destino propuesto\n\n")
		if p := v.Proposal; p != nil {
			fmt.Fprintf(&b, "- **Nombre:** %s\n- **Carpeta:** %s\n", p.Name, p.Path)
		}
		b.WriteString("\nEscribe `:confirmar` para subirlo o `:editar` para corregir las respuestas.\n")

	case domain.PhaseUploaded:
		if v.Receipt != nil {
			fmt.Fprintf(&b, "Documento subido a `%s`.\n", v.Receipt.FinalPath)
		} else {
			b.WriteString("Documento subido.\n")
		}

	case domain.PhaseCancelled:
		b.WriteString("Sesión cancelada; el documento se ha descartado.\n")
	}

	if v.SessionError != "" {
		fmt.Fprintf(&b, "\n**Error:** %s\n", v.SessionError)
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
