package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aretw0/docket/internal/presentation/graph"
	"github.com/aretw0/docket/pkg/domain"
)

var questions = []domain.Question{
	{ID: "doc_type", Text: "¿Qué tipo de documento es?", Validation: domain.Validation{MinLength: 2, OnlyLetters: true}},
	{ID: "client", Text: "¿Para qué \"cliente\"?"},
	{ID: "fecha-doc", Text: "¿Fecha?", Validation: domain.Validation{Format: domain.FormatISODate}},
}

func TestGenerateMermaid(t *testing.T) {
	out := graph.GenerateMermaid(questions, nil)

	for _, want := range []string{
		"graph TD",
		`start(("inicio"))`,
		`doc_type[/"¿Qué tipo de documento es? <br/> mín. 2, solo letras"/]`,
		`client[/"¿Para qué 'cliente'?"/]`,
		`fecha_doc[/"¿Fecha? <br/> YYYY-MM-DD"/]`,
		`analysis -- "omitir / confirmar" --> doc_type`,
		"doc_type --> client",
		`client -. "atrás" .-> doc_type`,
		"fecha_doc --> proposal",
		`proposal -. "editar" .-> doc_type`,
		`proposal -- "confirmar" --> upload`,
	} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "classDef")
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	snap := domain.NewSnapshot("s1")
	snap.Phase = domain.PhaseAsking
	snap.Answers["doc_type"] = "Factura"
	snap.Current = &questions[1]

	out := graph.GenerateMermaid(questions, graph.OverlayFor(snap))
	assert.Contains(t, out, "class doc_type visited;")
	assert.Contains(t, out, "class client current;")
	assert.NotContains(t, out, "class fecha_doc")
}

func TestOverlayFor_Phases(t *testing.T) {
	snap := domain.NewSnapshot("s1")
	snap.Phase = domain.PhaseCompleted
	assert.Equal(t, graph.NodeProposal, graph.OverlayFor(snap).Current)

	snap.Phase = domain.PhasePreviewPending
	assert.Equal(t, graph.NodeAnalysis, graph.OverlayFor(snap).Current)

	assert.Nil(t, graph.OverlayFor(nil))
}
