// Package testutils starts the reference document service for tests that
// need a real backend behind the REST client.
package testutils

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aretw0/docket/internal/backend"
	"github.com/aretw0/docket/internal/backend/storage"
	"github.com/aretw0/docket/pkg/adapters/rest"
	"github.com/aretw0/docket/pkg/domain"
	"github.com/aretw0/docket/pkg/pacing"
	"github.com/aretw0/docket/pkg/session"
)

// ReferenceBackend is the reference document service on a loopback listener.
type ReferenceBackend struct {
	Server  *backend.Server
	Client  *rest.Client
	URL     string
	SinkDir string // Where confirmed uploads land
}

// NewReferenceBackend starts a backend with temporary staging and sink
// directories. opts are applied after the defaults. It is closed with the test.
func NewReferenceBackend(t *testing.T, opts ...backend.Option) *ReferenceBackend {
	t.Helper()

	sinkDir := t.TempDir()
	sink, err := storage.NewLocal(sinkDir)
	require.NoError(t, err, "Failed to create sink")

	opts = append([]backend.Option{
		backend.WithStagingDir(t.TempDir()),
		backend.WithSink(sink),
	}, opts...)
	srv, err := backend.New(opts...)
	require.NoError(t, err, "Failed to create reference backend")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &ReferenceBackend{
		Server:  srv,
		Client:  rest.New(ts.URL),
		URL:     ts.URL,
		SinkDir: sinkDir,
	}
}

// Stage uploads content under name and returns the staged file.
func (b *ReferenceBackend) Stage(t *testing.T, name, content string) domain.FileRef {
	t.Helper()
	ref, err := b.Client.UploadTemp(context.Background(), name, strings.NewReader(content))
	require.NoError(t, err, "Failed to stage %s", name)
	return ref
}

// FastConfig is the default session configuration without the pacing delay.
func FastConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Pacing = pacing.Disabled()
	return cfg
}
