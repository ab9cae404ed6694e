package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docket/internal/backend/storage"
	"github.com/aretw0/docket/pkg/domain"
)

type fixture struct {
	t       *testing.T
	srv     *Server
	ts      *httptest.Server
	sinkDir string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	sinkDir := t.TempDir()
	sink, err := storage.NewLocal(sinkDir)
	require.NoError(t, err)

	opts = append([]Option{
		WithStagingDir(t.TempDir()),
		WithSink(sink),
		WithClock(fixedNow),
	}, opts...)
	srv, err := New(opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{t: t, srv: srv, ts: ts, sinkDir: sinkDir}
}

func (f *fixture) upload(name, content string) (*http.Response, map[string]any) {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(f.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(f.t, err)
	require.NoError(f.t, mw.Close())

	resp, err := http.Post(f.ts.URL+"/api/upload-temp", mw.FormDataContentType(), &buf)
	require.NoError(f.t, err)
	return resp, readBody(f.t, resp)
}

func (f *fixture) post(path string, body any) (*http.Response, map[string]any) {
	f.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(f.t, err)
	resp, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(f.t, err)
	return resp, readBody(f.t, resp)
}

func readBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) stagedFile(name, content string) string {
	f.t.Helper()
	resp, body := f.upload(name, content)
	require.Equal(f.t, http.StatusOK, resp.StatusCode, body)
	return body["file_id"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.ts.URL + "/health")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 3, body["questions"])
}

func TestUploadTemp(t *testing.T) {
	f := newFixture(t)

	resp, body := f.upload("Factura Enero.PDF", "%PDF-1.4 content")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["file_id"])
	assert.Equal(t, "Factura Enero.PDF", body["original_name"])
	assert.Equal(t, ".pdf", body["extension"])
	assert.EqualValues(t, 16, body["size"])

	u, ok := f.srv.Sessions().Get(body["file_id"].(string))
	require.True(t, ok)
	_, err := os.Stat(u.StagedAt)
	assert.NoError(t, err)
	assert.Equal(t, body["file_id"].(string)+"_Factura Enero.PDF", filepath.Base(u.StagedAt))
}

func TestUploadTemp_Rejections(t *testing.T) {
	f := newFixture(t, WithMaxUploadSize(8))

	resp, body := f.upload("malware.exe", "MZ")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["detail"], "'.exe' not allowed")

	resp, _ = f.upload("big.txt", "0123456789")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	resp, err := http.Post(f.ts.URL+"/api/upload-temp", "text/plain", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadTemp_AllowedExtensions(t *testing.T) {
	f := newFixture(t, WithAllowedExtensions("TXT", ".Md"))

	resp, _ := f.upload("nota.txt", "hola")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.upload("readme.MD", "# hola")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.upload("scan.pdf", "%PDF")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuestionFlow(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.pdf", "%PDF")

	resp, q := f.post("/api/questions/start", map[string]string{"file_id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.FieldDocType, q["question_id"])
	assert.Equal(t, true, q["required"])

	resp, body := f.post("/api/questions/answer", map[string]string{"file_id": id, "question_id": "doc_type", "answer": " Factura "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["completed"])
	assert.Equal(t, "Factura", body["validated_value"])
	assert.Equal(t, domain.FieldClient, body["next_question"].(map[string]any)["question_id"])

	resp, body = f.post("/api/questions/answer", map[string]string{"file_id": id, "question_id": "client", "answer": "Acme Corp"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.FieldDate, body["next_question"].(map[string]any)["question_id"])

	resp, body = f.post("/api/questions/answer", map[string]string{"file_id": id, "question_id": "date", "answer": "2025-01-15"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["completed"])
	assert.Nil(t, body["next_question"])

	u, ok := f.srv.Sessions().Get(id)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"doc_type": "Factura", "client": "Acme Corp", "date": "2025-01-15"}, u.Answers)
}

func TestAnswer_RejectionShapes(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.pdf", "%PDF")
	f.post("/api/questions/start", map[string]string{"file_id": id})

	resp, body := f.post("/api/questions/answer", map[string]string{"file_id": id, "question_id": "date", "answer": "15-01-2025"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	detail := body["detail"].(map[string]any)
	assert.Equal(t, "2025-01-15", detail["suggestion"])
	assert.Contains(t, detail["detail"], "Formato de fecha")

	resp, body = f.post("/api/questions/answer", map[string]string{"file_id": id, "question_id": "client", "answer": "A"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "La respuesta debe tener mínimo 2 caracteres", body["detail"])

	resp, body = f.post("/api/questions/answer", map[string]string{"file_id": id, "question_id": "colour", "answer": "red"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid question_id", body["detail"])
}

func TestStart_UnknownFile(t *testing.T) {
	f := newFixture(t)
	resp, body := f.post("/api/questions/start", map[string]string{"file_id": "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["detail"], "missing")
}

func TestGeneratePath(t *testing.T) {
	f := newFixture(t)

	resp, body := f.post("/api/questions/generate-path", map[string]any{
		"file_id":            "not-staged",
		"answers":            map[string]string{"doc_type": "Nómina", "client": "Peña S.L.", "date": "2025-02-28"},
		"original_extension": ".PDF",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2025-02-28_Nomina_Pena_SL.pdf", body["suggested_name"])
	assert.Equal(t, "/Documentos/Nóminas/Pena_SL", body["suggested_path"])
	assert.Equal(t, "/Documentos/Nóminas/Pena_SL/2025-02-28_Nomina_Pena_SL.pdf", body["full_path"])
	assert.Equal(t, []any{"Documentos", "Nóminas", "Pena_SL"}, body["folder_structure"])
}

func TestGeneratePath_PrefersValidatedAnswers(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.docx", "doc")
	f.post("/api/questions/start", map[string]string{"file_id": id})
	f.post("/api/questions/answer", map[string]string{"file_id": id, "question_id": "doc_type", "answer": "  Contrato  "})

	_, body := f.post("/api/questions/generate-path", map[string]any{
		"file_id":            id,
		"answers":            map[string]string{"doc_type": "  Contrato  ", "client": "Acme", "date": "2025-01-15"},
		"original_extension": "",
	})
	assert.Equal(t, "2025-01-15_Contrato_Acme.pdf", body["suggested_name"])
	assert.Equal(t, "/Documentos/Contratos/Acme", body["suggested_path"])
}

func TestUploadFinal(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.pdf", "%PDF-1.4")
	u, _ := f.srv.Sessions().Get(id)

	resp, body := f.post("/api/upload-final", map[string]any{
		"file_id":      id,
		"new_filename": "2025-01-15_Factura_Acme.pdf",
		"dropbox_path": "/Documentos/Facturas/Acme",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "/Documentos/Facturas/Acme/2025-01-15_Factura_Acme.pdf", body["dropbox_path"])
	assert.Equal(t, "2025-01-15_Factura_Acme.pdf", body["dropbox_name"])
	assert.EqualValues(t, 8, body["size"])

	data, err := os.ReadFile(filepath.Join(f.sinkDir, "Documentos", "Facturas", "Acme", "2025-01-15_Factura_Acme.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, ok := f.srv.Sessions().Get(id)
	assert.False(t, ok)
	_, err = os.Stat(u.StagedAt)
	assert.True(t, errors.Is(err, os.ErrNotExist), "staged copy must be removed")

	resp, body = f.post("/api/upload-final", map[string]any{"file_id": id, "new_filename": "x.pdf", "dropbox_path": "/a"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Temporary file not found for file_id: "+id, body["detail"])
}

func TestUploadFinal_FolderStructureVariant(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.pdf", "%PDF")

	resp, body := f.post("/api/upload-final", map[string]any{
		"file_id":          id,
		"filename":         "doc.pdf",
		"folder_structure": []string{"Clientes", "Acme"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "/Clientes/Acme/doc.pdf", body["dropbox_path"])
}

func TestUploadFinal_InvalidPath(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.pdf", "%PDF")

	resp, _ := f.post("/api/upload-final", map[string]any{"file_id": id, "new_filename": "doc.pdf", "dropbox_path": "/../etc"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, ok := f.srv.Sessions().Get(id)
	assert.True(t, ok, "a failed upload keeps the staged file")
}

func TestPreview_Unavailable(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.pdf", "%PDF")

	resp, body := f.post("/api/document/preview", map[string]string{"file_id": id, "target_use": "legal"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "unavailable", body["status"])
	assert.Nil(t, body["preview"])
}

func TestPreview_KeywordAnalyzer(t *testing.T) {
	f := newFixture(t)
	f.srv.analyzer = NewKeywordAnalyzer(f.srv.Catalog())

	id := f.stagedFile("nota.txt", "FACTURA número 42\nCliente: Acme Corp\nFecha: 15/01/2025\n")
	resp, body := f.post("/api/document/preview", map[string]string{"file_id": id})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "success", body["status"], body)

	preview := body["preview"].(map[string]any)
	assert.Equal(t, "Factura", preview["document_type"])
	assert.Equal(t, "FACTURA número 42", preview["summary"])
	assert.EqualValues(t, 1, preview["confidence"])
	assert.Equal(t, map[string]any{"doc_type": "Factura", "client": "Acme Corp", "date": "2025-01-15"}, preview["suggested_answers"])

	pdf := f.stagedFile("scan.pdf", "%PDF")
	_, body = f.post("/api/document/preview", map[string]string{"file_id": pdf})
	assert.Equal(t, "unavailable", body["status"])

	empty := f.stagedFile("empty.txt", "   ")
	_, body = f.post("/api/document/preview", map[string]string{"file_id": empty})
	assert.Equal(t, "rejected", body["status"])
}

type fakeExtractor map[string]string

func (x fakeExtractor) Supports(ext string) bool {
	_, ok := x[ext]
	return ok
}

func (x fakeExtractor) Extract(ctx context.Context, path, ext string) (string, error) {
	if text := x[ext]; text != "" {
		return text, nil
	}
	return "", errors.New("pdftotext: not found")
}

func TestPreview_KeywordAnalyzerWithExtractor(t *testing.T) {
	f := newFixture(t)
	f.srv.analyzer = NewKeywordAnalyzer(f.srv.Catalog(), WithExtractor(fakeExtractor{
		".pdf":  "Contrato de arrendamiento\nCliente: Lopez SL\n2024-11-02",
		".docx": "",
	}))

	id := f.stagedFile("scan.pdf", "%PDF")
	_, body := f.post("/api/document/preview", map[string]string{"file_id": id})
	require.Equal(t, "success", body["status"], body)
	preview := body["preview"].(map[string]any)
	assert.Equal(t, "Contrato", preview["document_type"])
	assert.Equal(t, map[string]any{"doc_type": "Contrato", "client": "Lopez SL", "date": "2024-11-02"}, preview["suggested_answers"])

	failing := f.stagedFile("carta.docx", "PK")
	_, body = f.post("/api/document/preview", map[string]string{"file_id": failing})
	assert.Equal(t, "unavailable", body["status"], "extractor failures leave the preview unavailable")

	sheet := f.stagedFile("tabla.xlsx", "PK")
	_, body = f.post("/api/document/preview", map[string]string{"file_id": sheet})
	assert.Equal(t, "unavailable", body["status"])
}

func TestPreview_AnalyzerError(t *testing.T) {
	f := newFixture(t, WithAnalyzer(AnalyzerFunc(func(ctx context.Context, doc Document) (*domain.Analysis, error) {
		return nil, errors.New("model overloaded")
	})))
	id := f.stagedFile("scan.pdf", "%PDF")

	_, body := f.post("/api/document/preview", map[string]string{"file_id": id})
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "model overloaded", body["error"])
}

func TestConfirmDocument(t *testing.T) {
	f := newFixture(t)
	id := f.stagedFile("scan.pdf", "%PDF")
	u, _ := f.srv.Sessions().Get(id)

	resp, body := f.post("/api/document/confirm", map[string]any{"file_id": id, "confirmed": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["confirmed"])
	u2, _ := f.srv.Sessions().Get(id)
	assert.True(t, u2.Confirmed)

	resp, body = f.post("/api/document/confirm", map[string]any{"file_id": id, "confirmed": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["confirmed"])

	_, ok := f.srv.Sessions().Get(id)
	assert.False(t, ok)
	_, err := os.Stat(u.StagedAt)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	resp, _ = f.post("/api/document/confirm", map[string]any{"file_id": id, "confirmed": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvalidBody(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Post(f.ts.URL+"/api/questions/start", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "Invalid request body", body["detail"])
}
