/*
Package docket files uploaded documents through a short guided conversation.

A session takes one uploaded file, optionally shows an AI analysis of it, then
asks a server-driven sequence of questions (document type, client, date). Each
answer is validated locally before it is sent; a server rejection may carry a
suggested correction the user can accept. Once the sequence completes the
backend proposes a file name and destination folder, and the user confirms the
upload or goes back to edit.

# Layout

  - pkg/domain: phases, questions, snapshots, errors and events
  - pkg/validation: the answer rules mirrored from the server
  - pkg/history, pkg/suggestion, pkg/pacing: the controller's building blocks
  - pkg/session: the Controller state machine and the Manager hosting many sessions
  - pkg/adapters: REST backend client, session HTTP API, MCP tools, snapshot stores
  - internal/backend: a reference document service used for development and tests
  - cmd/docket: the command line

# Usage

	client := rest.New("http://localhost:8000")
	ref, _ := client.UploadTemp(ctx, "scan.pdf", f)

	c := session.NewController(ref.ID, client, session.DefaultConfig())
	_ = c.Attach(ctx, ref)
	_ = c.Skip(ctx)
	_ = c.Submit(ctx, "Factura")
*/
package docket
