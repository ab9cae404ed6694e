// Package process extracts text from staged documents by running local
// commands (pdftotext, antiword, tesseract...) chosen by file extension.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrNotRegistered is returned for an extension without an extractor.
var ErrNotRegistered = errors.New("no extractor registered")

// DefaultTimeout bounds one extraction.
const DefaultTimeout = 30 * time.Second

// FilePlaceholder in an argument is replaced by the document path.
const FilePlaceholder = "{file}"

// maxOutput caps the text kept from an extractor.
const maxOutput = 1 << 20

// Runner executes the extractor registered for a file extension.
// It follows a Strict Registry pattern for security (Allow-Listing).
type Runner struct {
	registry map[string]registered
	baseDir  string
	timeout  time.Duration
}

type registered struct {
	command string
	args    []string
	env     map[string]string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(extractors map[string]ExtractorConfig) RunnerOption {
	return func(r *Runner) {
		for ext, e := range extractors {
			r.registry[normalizeExt(ext)] = registered{command: e.Command, args: e.Args, env: e.Environment}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]registered),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list for ext.
func (r *Runner) Register(ext string, command string, args ...string) {
	r.registry[normalizeExt(ext)] = registered{command: command, args: args}
}

// Supports reports whether ext has an extractor.
func (r *Runner) Supports(ext string) bool {
	_, ok := r.registry[normalizeExt(ext)]
	return ok
}

// Extract runs the extractor for ext on path and returns its standard output.
//
// The path reaches the command through the DOCKET_FILE variable and through
// any FilePlaceholder argument; it is never appended as a free argument.
func (r *Runner) Extract(ctx context.Context, path, ext string) (string, error) {
	ext = normalizeExt(ext)
	proc, ok := r.registry[ext]
	if !ok {
		return "", fmt.Errorf("%w for %q", ErrNotRegistered, ext)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := make([]string, len(proc.args))
	for i, a := range proc.args {
		args[i] = strings.ReplaceAll(a, FilePlaceholder, path)
	}

	cmd := exec.CommandContext(ctx, proc.command, args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), "DOCKET_FILE="+path, "DOCKET_EXT="+ext)
	for k, v := range proc.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("extractor %s: %w", proc.command, ctxErr)
		}
		return "", fmt.Errorf("extractor %s failed: %v. Stderr: %s", proc.command, err, strings.TrimSpace(stderr.String()))
	}

	out := stdout.Bytes()
	if len(out) > maxOutput {
		out = out[:maxOutput]
	}
	return strings.TrimSpace(string(out)), nil
}
