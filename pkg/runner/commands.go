package runner

import (
	"strings"

	"github.com/aretw0/docket/pkg/domain"
)

// Command is a user instruction typed instead of an answer.
type Command string

const (
	CmdBack    Command = "back"
	CmdEdit    Command = "edit"
	CmdAccept  Command = "accept"
	CmdConfirm Command = "confirm"
	CmdCancel  Command = "cancel"
	CmdAnalyze Command = "analyze"
	CmdSkip    Command = "skip"
	CmdHelp    Command = "help"
	CmdQuit    Command = "quit"
)

var commandAliases = map[string]Command{
	":back":      CmdBack,
	":atras":     CmdBack,
	":edit":      CmdEdit,
	":editar":    CmdEdit,
	":use":       CmdAccept,
	":usar":      CmdAccept,
	":confirm":   CmdConfirm,
	":confirmar": CmdConfirm,
	":cancel":    CmdCancel,
	":cancelar":  CmdCancel,
	":analyze":   CmdAnalyze,
	":analizar":  CmdAnalyze,
	":skip":      CmdSkip,
	":omitir":    CmdSkip,
	":help":      CmdHelp,
	":ayuda":     CmdHelp,
	":q":         CmdQuit,
	"exit":       CmdQuit,
	"quit":       CmdQuit,
}

// ParseCommand recognizes a command line. Anything else is an answer.
func ParseCommand(line string) (Command, bool) {
	cmd, ok := commandAliases[strings.ToLower(strings.TrimSpace(line))]
	return cmd, ok
}

// Help lists the commands that make sense in a phase.
func Help(phase domain.Phase) []string {
	var lines []string
	switch phase {
	case domain.PhasePreviewPending:
		lines = []string{
			"Enter / :analizar  analizar el documento",
			":omitir            responder las preguntas sin análisis",
		}
	case domain.PhaseAnalysisPreview:
		lines = []string{":confirmar         aceptar el análisis y continuar"}
	case domain.PhaseAsking, domain.PhaseSuggestionOffered:
		lines = []string{
			":atras             volver a la pregunta anterior",
			":usar              usar la sugerencia ofrecida",
			":editar            volver a la primera pregunta",
		}
	case domain.PhaseCompleted:
		lines = []string{
			":confirmar         subir el documento",
			":editar            corregir las respuestas",
		}
	}
	return append(lines,
		":cancelar          descartar el documento",
		":q                 salir (la sesión queda guardada)",
	)
}
