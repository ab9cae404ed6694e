package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docket/internal/testutils"
	"github.com/aretw0/docket/pkg/adapters/memory"
	"github.com/aretw0/docket/pkg/adapters/rest"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/session"
)

type fixture struct {
	api     *httptest.Server
	client  *rest.Client
	streams *StreamManager
	mgr     *session.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := testutils.NewReferenceBackend(t).Client

	streams := NewStreamManager()
	mgr := session.NewManager(memory.NewStore(), client, testutils.FastConfig(), session.WithSessionHooks(streams.Hooks()))

	api := httptest.NewServer(NewHandler(mgr, WithStreams(streams), WithUploader(client)))
	t.Cleanup(api.Close)
	return &fixture{api: api, client: client, streams: streams, mgr: mgr}
}

func (f *fixture) call(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var r *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	} else {
		r = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.api.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.Bytes()
}

// open stages a file on the reference backend and opens a session for it.
func (f *fixture) open(t *testing.T, name string) session.View {
	t.Helper()
	ref, err := f.client.UploadTemp(context.Background(), name, strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)

	status, body := f.call(t, http.MethodPost, "/sessions", createRequest{File: ref})
	require.Equal(t, http.StatusCreated, status, string(body))
	return decodeView(t, body)
}

func decodeView(t *testing.T, body []byte) session.View {
	t.Helper()
	var v session.View
	require.NoError(t, json.Unmarshal(body, &v), string(body))
	return v
}

func decodeProblem(t *testing.T, body []byte) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(body, &p), string(body))
	return p
}

func TestHealthAndInfo(t *testing.T) {
	f := newFixture(t)

	status, body := f.call(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	status, body = f.call(t, http.MethodGet, "/info", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"app":"docket-http"`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	status, _ := f.call(t, http.MethodOptions, "/sessions/x/answer", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestSessionFlow(t *testing.T) {
	f := newFixture(t)
	v := f.open(t, "scan.pdf")
	id := v.SessionID
	assert.Equal(t, domain.PhasePreviewPending, v.Phase)

	status, body := f.call(t, http.MethodPost, "/sessions/"+id+"/skip", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	v = decodeView(t, body)
	require.Equal(t, domain.PhaseAsking, v.Phase)
	assert.Equal(t, domain.FieldDocType, v.Current.ID)
	assert.Equal(t, 1, v.Step)
	assert.False(t, v.CanGoBack)

	for _, answer := range []string{"Contrato", "Acme Corp", "2025-01-15"} {
		status, body = f.call(t, http.MethodPost, "/sessions/"+id+"/answer", textRequest{Answer: answer})
		require.Equal(t, http.StatusOK, status, string(body))
	}
	v = decodeView(t, body)
	require.Equal(t, domain.PhaseCompleted, v.Phase)
	require.NotNil(t, v.Proposal)
	assert.Equal(t, "2025-01-15_Contrato_Acme_Corp.pdf", v.Proposal.Name)

	status, body = f.call(t, http.MethodPost, "/sessions/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	v = decodeView(t, body)
	assert.Equal(t, domain.PhaseUploaded, v.Phase)
	require.NotNil(t, v.Receipt)

	// Terminal sessions are removed from the store.
	status, _ = f.call(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAnswer_ValidationProblem(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "scan.pdf").SessionID
	status, _ := f.call(t, http.MethodPost, "/sessions/"+id+"/skip", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := f.call(t, http.MethodPost, "/sessions/"+id+"/answer", textRequest{Answer: "Factura123"})
	require.Equal(t, http.StatusUnprocessableEntity, status, string(body))
	p := decodeProblem(t, body)
	assert.Equal(t, string(domain.ErrorKindValidation), p.Error.Kind)
	assert.Equal(t, "Factura", p.Error.Suggestion)
	require.NotNil(t, p.View)
	assert.Equal(t, domain.PhaseSuggestionOffered, p.View.Phase)

	status, body = f.call(t, http.MethodPost, "/sessions/"+id+"/accept-suggestion", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	v := decodeView(t, body)
	assert.Equal(t, domain.PhaseAsking, v.Phase)
	assert.Equal(t, "Factura", v.Draft)

	status, body = f.call(t, http.MethodPost, "/sessions/"+id+"/answer", textRequest{Answer: v.Draft})
	require.Equal(t, http.StatusOK, status, string(body))
	v = decodeView(t, body)
	assert.Equal(t, domain.FieldClient, v.Current.ID)
	assert.Equal(t, "Factura", v.Answers[domain.FieldDocType])
}

func TestBackAndDraft(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "scan.pdf").SessionID
	f.call(t, http.MethodPost, "/sessions/"+id+"/skip", nil)

	status, body := f.call(t, http.MethodPost, "/sessions/"+id+"/back", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", decodeProblem(t, body).Error.Kind)

	f.call(t, http.MethodPost, "/sessions/"+id+"/answer", textRequest{Answer: "Factura"})
	status, body = f.call(t, http.MethodPut, "/sessions/"+id+"/draft", textRequest{Draft: "Ac"})
	require.Equal(t, http.StatusOK, status, string(body))
	assert.Equal(t, "Ac", decodeView(t, body).Draft)

	status, body = f.call(t, http.MethodPost, "/sessions/"+id+"/back", nil)
	require.Equal(t, http.StatusOK, status, string(body))
	v := decodeView(t, body)
	assert.Equal(t, domain.FieldDocType, v.Current.ID)
	assert.Equal(t, "Factura", v.Draft)
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	status, body := f.call(t, http.MethodPost, "/sessions/missing/skip", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", decodeProblem(t, body).Error.Kind)
}

func TestCreateSession_Multipart(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "recibo.pdf")
	require.NoError(t, err)
	_, _ = part.Write([]byte("%PDF"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.api.URL+"/sessions", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var v session.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "recibo.pdf", v.File.Name)
	assert.Equal(t, v.File.ID, v.SessionID)
}

func TestCreateSession_Rejections(t *testing.T) {
	f := newFixture(t)

	status, _ := f.call(t, http.MethodPost, "/sessions", map[string]any{"file": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := f.call(t, http.MethodPost, "/sessions", createRequest{
		File: domain.FileRef{ID: "f1", Name: "virus.exe", Extension: ".exe"},
	})
	assert.Equal(t, http.StatusBadRequest, status, string(body))
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "scan.pdf").SessionID

	status, _ := f.call(t, http.MethodGet, "/sessions/", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.call(t, http.MethodDelete, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, _ = f.call(t, http.MethodGet, "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSubscribeEvents(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, "scan.pdf").SessionID

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.api.URL+"/sessions/"+id+"/events?watch=view,phase_change", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 32)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream closed")
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}
	assert.Equal(t, "ping", next())
	assert.Equal(t, EventView, next(), "the current view is sent on connect")

	require.Eventually(t, func() bool { return f.streams.Subscribers(id) == 1 }, time.Second, 10*time.Millisecond)
	status, _ := f.call(t, http.MethodPost, "/sessions/"+id+"/skip", nil)
	require.Equal(t, http.StatusOK, status)

	seen := map[string]bool{}
	for !seen[EventView] {
		seen[next()] = true
	}
	assert.True(t, seen[string(domain.EventPhaseChange)])
}

func TestStreamManager_DropsWhenFull(t *testing.T) {
	sm := NewStreamManager()
	ch, cancel := sm.Subscribe("s1")
	defer cancel()

	for i := 0; i < cap(ch)+5; i++ {
		sm.Broadcast("s1", Message{Event: EventView, Data: json.RawMessage(`{}`)})
	}
	assert.Len(t, ch, cap(ch))

	sm.Broadcast("other", Message{Event: EventView})
	assert.Equal(t, 0, sm.Subscribers("other"))
}
