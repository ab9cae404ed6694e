package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the docket banner and version to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	p := out.ColorProfile()

	lines := []struct {
		text  string
		color string
	}{
		{"     _            _        _   ", "#34d399"},
		{"  __| | ___   ___| | _____| |_ ", "#2dd4bf"},
		{" / _` |/ _ \\ / __| |/ / _ \\ __|", "#22d3ee"},
		{"| (_| | (_) | (__|   <  __/ |_ ", "#38bdf8"},
		{" \\__,_|\\___/ \\___|_|\\_\\___|\\__|", "#60a5fa"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(p.Color(l.color)))
	}
	if v := strings.TrimSpace(version); v != "" {
		fmt.Fprintln(w, out.String("  v"+v).Faint())
	}
	fmt.Fprintln(w)
}
