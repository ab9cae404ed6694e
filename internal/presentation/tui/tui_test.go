package tui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, "0.4.0\n")
	assert.Contains(t, buf.String(), "v0.4.0")
	assert.Contains(t, buf.String(), "__| | ___")
}

func TestNewRenderer(t *testing.T) {
	render := NewRenderer()
	out, err := render("**Documento:** scan.pdf")
	require.NoError(t, err)
	assert.Contains(t, out, "scan.pdf")
}
