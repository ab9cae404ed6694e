/*
Package runner drives a docket session from a terminal or a JSON pipe.

It acts as the bridge between a session.Manager and the outside world: it
renders the session, reads one line at a time and turns it into an answer or
a command (":atras", ":usar", ":confirmar", ...). IO is pluggable through
IOHandler; TextHandler is the interactive implementation and JSONHandler
emits one JSON event per line for scripted use.

# Usage

	r := runner.NewRunner(runner.WithRenderer(tui.NewRenderer()))
	mgr := session.NewManager(store, backend, cfg, session.WithSessionHooks(r.Hooks()))
	view, err := mgr.Open(ctx, file.ID, file)
	...
	view, err = r.Run(ctx, mgr, file.ID)

SanitizeInput is shared by every adapter that accepts free text.
*/
package runner
