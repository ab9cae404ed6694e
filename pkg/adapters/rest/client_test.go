package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docket/internal/backend"
	"github.com/aretw0/docket/internal/backend/storage"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/ports"
	"github.com/aretw0/docket/pkg/ports/tests"
)

var (
	_ ports.Backend  = (*Client)(nil)
	_ ports.Uploader = (*Client)(nil)
)

var file = domain.FileRef{ID: "file-1", Name: "scan.pdf", Extension: ".pdf"}

func TestParseRejection(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		reason     string
		suggestion string
	}{
		{
			name:   "plain detail",
			body:   `{"detail":"La respuesta debe tener mínimo 2 caracteres"}`,
			reason: "La respuesta debe tener mínimo 2 caracteres",
		},
		{
			name:       "detail with suggestion",
			body:       `{"detail":{"detail":"Formato de fecha inválido","suggestion":"2025-01-15"}}`,
			reason:     "Formato de fecha inválido",
			suggestion: "2025-01-15",
		},
		{
			name:   "null suggestion",
			body:   `{"detail":{"detail":"El tipo debe tener máximo 50 caracteres","suggestion":null}}`,
			reason: "El tipo debe tener máximo 50 caracteres",
		},
		{
			name:       "coded error still offers its suggestion",
			body:       `{"detail":{"error":"AMBIGUOUS_RESPONSE","message":"No pude identificar","suggestion":"Sé más específico en tu respuesta"}}`,
			reason:     "No pude identificar",
			suggestion: "Sé más específico en tu respuesta",
		},
		{
			name:   "coded error without message",
			body:   `{"detail":{"error":"AMBIGUOUS_RESPONSE"}}`,
			reason: "AMBIGUOUS_RESPONSE",
		},
		{
			name:   "blank suggestion",
			body:   `{"detail":{"message":"Cliente inválido","suggestion":"  "}}`,
			reason: "Cliente inválido",
		},
		{
			name:   "validation list",
			body:   `{"detail":[{"loc":["body","answer"],"msg":"field required"}]}`,
			reason: "field required",
		},
		{
			name:   "not json",
			body:   "Bad Request\n",
			reason: "Bad Request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := parseRejection([]byte(tt.body))
			assert.Equal(t, tt.reason, rej.Reason)
			assert.Equal(t, tt.suggestion, rej.Suggestion)
		})
	}
}

func stub(t *testing.T, status int, body string, seen func(r *http.Request, payload map[string]any)) *Client {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			var payload map[string]any
			_ = json.NewDecoder(r.Body).Decode(&payload)
			seen(r, payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return New(ts.URL + "/")
}

func TestAnswer_Rejection(t *testing.T) {
	var path string
	var payload map[string]any
	c := stub(t, http.StatusBadRequest, `{"detail":{"detail":"Formato de fecha inválido","suggestion":"2025-01-15"}}`, func(r *http.Request, p map[string]any) {
		path = r.URL.Path
		payload = p
	})

	_, err := c.Answer(context.Background(), file, "date", "15-01-2025")

	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "date", rej.QuestionID)
	assert.Equal(t, "2025-01-15", rej.Suggestion)
	assert.True(t, rej.HasSuggestion())

	assert.Equal(t, PathAnswer, path)
	assert.Equal(t, map[string]any{"file_id": "file-1", "question_id": "date", "answer": "15-01-2025"}, payload)
}

func TestAnswer_ServerErrorIsTransport(t *testing.T) {
	c := stub(t, http.StatusInternalServerError, `{"detail":"Error al procesar la respuesta: timeout"}`, nil)

	_, err := c.Answer(context.Background(), file, "client", "Acme")

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Equal(t, "Error al procesar la respuesta: timeout", te.Detail)

	var rej *domain.RejectionError
	assert.False(t, errors.As(err, &rej))
}

func TestAnswer_NotFoundIsTransport(t *testing.T) {
	c := stub(t, http.StatusNotFound, `{"detail":"Unknown file_id: file-1"}`, nil)

	_, err := c.Answer(context.Background(), file, "client", "Acme")

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.Status)
}

func TestAnswer_MalformedResponse(t *testing.T) {
	c := stub(t, http.StatusOK, `{"completed":false}`, nil)
	_, err := c.Answer(context.Background(), file, "client", "Acme")
	var te *domain.TransportError
	assert.ErrorAs(t, err, &te)

	c = stub(t, http.StatusOK, `<html>`, nil)
	_, err = c.Start(context.Background(), file)
	assert.ErrorAs(t, err, &te)
}

func TestNetworkFailureIsTransport(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(url, WithTimeout(time.Second))
	_, err := c.Start(context.Background(), file)

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "start", te.Op)
	assert.Zero(t, te.Status)
	assert.Error(t, te.Err)
}

func TestContextCancellation(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := New(ts.URL)
	done := make(chan error, 1)
	go func() {
		_, err := c.Start(ctx, file)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
}

func TestAnalyzePreview_Statuses(t *testing.T) {
	c := stub(t, http.StatusOK, `{"file_id":"file-1","status":"success","preview":{"summary":"Factura de Acme","document_type":"Factura","confidence":0.9,"suggested_answers":{"client":"Acme"}}}`, nil)
	a, err := c.AnalyzePreview(context.Background(), file)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "Factura", a.DocumentType)
	assert.Equal(t, "Acme", a.SuggestedAnswers["client"])

	c = stub(t, http.StatusOK, `{"file_id":"file-1","status":"unavailable"}`, nil)
	a, err = c.AnalyzePreview(context.Background(), file)
	assert.NoError(t, err)
	assert.Nil(t, a)

	c = stub(t, http.StatusOK, `{"file_id":"file-1","status":"rejected","error":"no"}`, nil)
	_, err = c.AnalyzePreview(context.Background(), file)
	assert.ErrorIs(t, err, domain.ErrAnalysisRejected)

	c = stub(t, http.StatusOK, `{"file_id":"file-1","status":"error","error":"quota"}`, nil)
	_, err = c.AnalyzePreview(context.Background(), file)
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "quota", te.Detail)
}

func TestAnalyzePreview_SendsTargetUse(t *testing.T) {
	var payload map[string]any
	c := stub(t, http.StatusOK, `{"status":"unavailable"}`, func(r *http.Request, p map[string]any) {
		payload = p
	})
	c.targetUse = "seguros"

	_, err := c.AnalyzePreview(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "seguros", payload["target_use"])
}

func TestConfirmAndDiscard(t *testing.T) {
	var payloads []map[string]any
	c := stub(t, http.StatusOK, `{"confirmed":true}`, func(r *http.Request, p map[string]any) {
		assert.Equal(t, PathConfirmDocument, r.URL.Path)
		payloads = append(payloads, p)
	})

	require.NoError(t, c.ConfirmAnalysis(context.Background(), file))
	require.NoError(t, c.Discard(context.Background(), file))

	require.Len(t, payloads, 2)
	assert.Equal(t, true, payloads[0]["confirmed"])
	assert.Equal(t, false, payloads[1]["confirmed"])
}

func TestConfirmUpload_Payload(t *testing.T) {
	var payload map[string]any
	c := stub(t, http.StatusOK, `{"success":true,"dropbox_path":"/Clientes/Acme/a.pdf","dropbox_name":"a.pdf","size":12}`, func(r *http.Request, p map[string]any) {
		payload = p
	})

	rcpt, err := c.ConfirmUpload(context.Background(), file, domain.Proposal{
		Name:            "a.pdf",
		Path:            "/Clientes/Acme",
		FolderStructure: []string{"Clientes", "Acme"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Receipt{FinalPath: "/Clientes/Acme/a.pdf", Name: "a.pdf", Size: 12}, rcpt)
	assert.Equal(t, "a.pdf", payload["new_filename"])
	assert.Equal(t, "/Clientes/Acme", payload["dropbox_path"])
	assert.Equal(t, []any{"Clientes", "Acme"}, payload["folder_structure"])
}

func TestConfirmUpload_MissingFile(t *testing.T) {
	c := stub(t, http.StatusNotFound, `{"detail":"Temporary file not found for file_id: file-1"}`, nil)

	_, err := c.ConfirmUpload(context.Background(), file, domain.Proposal{Name: "a.pdf", Path: "/"})

	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "Temporary file not found for file_id: file-1", te.Detail)
}

func newReference(t *testing.T) *Client {
	t.Helper()
	sink, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	srv, err := backend.New(
		backend.WithStagingDir(t.TempDir()),
		backend.WithSink(sink),
		backend.WithClock(func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local) }),
	)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestReferenceBackend_Flow(t *testing.T) {
	ctx := context.Background()
	c := newReference(t)
	require.NoError(t, c.Health(ctx))

	ref, err := c.UploadTemp(ctx, "/home/user/Factura Acme.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, "Factura Acme.pdf", ref.Name)
	assert.Equal(t, ".pdf", ref.Extension)
	assert.EqualValues(t, 8, ref.Size)

	q, err := c.Start(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.FieldDocType, q.ID)

	_, err = c.Answer(ctx, ref, q.ID, "Factura 2025")
	var rej *domain.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "Factura", rej.Suggestion)

	out, err := c.Answer(ctx, ref, q.ID, rej.Suggestion)
	require.NoError(t, err)
	require.NotNil(t, out.Next)
	out, err = c.Answer(ctx, ref, out.Next.ID, "Acme")
	require.NoError(t, err)
	out, err = c.Answer(ctx, ref, out.Next.ID, "2025-01-15")
	require.NoError(t, err)
	assert.True(t, out.Completed)

	p, err := c.GeneratePath(ctx, ref, map[string]string{"doc_type": "Factura", "client": "Acme", "date": "2025-01-15"}, ref.Extension)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15_Factura_Acme.pdf", p.Name)

	rcpt, err := c.ConfirmUpload(ctx, ref, p)
	require.NoError(t, err)
	assert.Equal(t, p.FullPath(), rcpt.FinalPath)

	_, err = c.ConfirmUpload(ctx, ref, p)
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusNotFound, te.Status)
}

func TestReferenceBackend_UploadRejected(t *testing.T) {
	c := newReference(t)
	_, err := c.UploadTemp(context.Background(), "virus.exe", strings.NewReader("MZ"))
	var te *domain.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.Status)
	assert.Contains(t, te.Detail, "not allowed")
}

func TestReferenceBackend_Contract(t *testing.T) {
	c := newReference(t)
	ref, err := c.UploadTemp(context.Background(), "scan.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	tests.BackendContractTest(t, c, tests.BackendFixture{
		File: ref,
		Valid: map[string]string{
			domain.FieldDocType: "Contrato",
			domain.FieldClient:  "Acme Corp.",
			domain.FieldDate:    "2024-12-31",
		},
		Invalid: map[string]string{
			domain.FieldDocType: "C0ntrato!",
			domain.FieldClient:  "x",
			domain.FieldDate:    "mañana",
		},
	})
}
