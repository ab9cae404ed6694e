package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docket/internal/testutils"
	"github.com/aretw0/docket/pkg/adapters/memory"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/session"
)

// startSession stages a file on a reference backend and opens a session on a
// Manager wired to r's hooks.
func startSession(t *testing.T, r *Runner) (*session.Manager, string) {
	t.Helper()
	ref := testutils.NewReferenceBackend(t)
	mgr := session.NewManager(memory.NewStore(), ref.Client, testutils.FastConfig(), session.WithSessionHooks(r.Hooks()))

	file := ref.Stage(t, "scan.pdf", "%PDF-1.4")
	_, err := mgr.Open(context.Background(), file.ID, file)
	require.NoError(t, err)
	return mgr, file.ID
}

func TestRunner_TextConversation(t *testing.T) {
	input := strings.Join([]string{
		":omitir",
		"Factura123",
		":usar",
		"Factura",
		"Acme Corp",
		":atras",
		"Acme Corp",
		"2025-01-15",
		":confirmar",
	}, "\n") + "\n"
	var out bytes.Buffer
	r := NewRunner(WithIO(strings.NewReader(input), &out))
	mgr, id := startSession(t, r)

	view, err := r.Run(context.Background(), mgr, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseUploaded, view.Phase)
	require.NotNil(t, view.Receipt)
	assert.Equal(t, "/Documentos/Facturas/Acme_Corp/2025-01-15_Factura_Acme_Corp.pdf", view.Receipt.FinalPath)

	text := out.String()
	assert.Contains(t, text, "¿Quisiste decir **Factura**?")
	assert.Contains(t, text, "✓ Acme Corp")
	assert.Contains(t, text, "Documento subido a")
}

func TestRunner_EOFKeepsSession(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(WithIO(strings.NewReader(":omitir\nFactura\n"), &out), WithHeadless(true))
	mgr, id := startSession(t, r)

	view, err := r.Run(context.Background(), mgr, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseAsking, view.Phase)
	assert.Equal(t, domain.FieldClient, view.Current.ID)

	stored, err := mgr.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Factura", stored.Answers[domain.FieldDocType])
}

func TestRunner_UnknownInputAndHelp(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(WithIO(strings.NewReader("hola\n:ayuda\n:atras\n:q\n"), &out))
	mgr, id := startSession(t, r)

	view, err := r.Run(context.Background(), mgr, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhasePreviewPending, view.Phase)

	text := out.String()
	assert.Contains(t, text, "No entiendo esa respuesta")
	assert.Contains(t, text, ":omitir")
	assert.Contains(t, text, "Ese comando no está disponible ahora.")
}

func TestRunner_Cancel(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(WithIO(strings.NewReader(":cancelar\n"), &out))
	mgr, id := startSession(t, r)

	view, err := r.Run(context.Background(), mgr, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCancelled, view.Phase)
	assert.Contains(t, out.String(), "Sesión cancelada")

	_, err = mgr.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRunner_ParentCancelInterrupts(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewRunner(WithIO(pr, &bytes.Buffer{}), WithHeadless(true))
	mgr, id := startSession(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	view, err := r.Run(ctx, mgr, id)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, domain.PhaseCancelled, view.Phase)
}

func TestRunner_JSONHandler(t *testing.T) {
	var out bytes.Buffer
	h := NewJSONHandler(strings.NewReader("\":omitir\"\n\"Factura\"\n"), &out)
	r := NewRunner(WithInputHandler(h), WithHeadless(true))
	mgr, id := startSession(t, r)

	view, err := r.Run(context.Background(), mgr, id)
	require.NoError(t, err)
	assert.Equal(t, domain.FieldClient, view.Current.ID)

	var types []string
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		types = append(types, e.Type)
	}
	assert.Contains(t, types, "view")
	assert.Contains(t, types, SignalEcho)
}

func TestParseCommand(t *testing.T) {
	cmd, ok := ParseCommand("  :USAR ")
	assert.True(t, ok)
	assert.Equal(t, CmdAccept, cmd)

	_, ok = ParseCommand("Factura")
	assert.False(t, ok)
}

func TestFormatView_Completed(t *testing.T) {
	snap := domain.NewSnapshot("s1")
	snap.Phase = domain.PhaseCompleted
	snap.Proposal = &domain.Proposal{Name: "2025-01-15_Factura_Acme.pdf", Path: "/Documentos/Facturas/Acme"}

	out := FormatView(session.View{Snapshot: snap})
	assert.Contains(t, out, "2025-01-15_Factura_Acme.pdf")
	assert.Contains(t, out, "/Documentos/Facturas/Acme")
	assert.Contains(t, out, ":confirmar")
}
