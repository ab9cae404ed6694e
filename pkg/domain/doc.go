/*
Package domain contains the core domain models of a Docket session.

It defines the entities exchanged between the session controller and the
question backend, such as Questions, Answers and the Phase of a session.
This package is kept pure and free of external dependencies like I/O or
persistence, following Hexagonal Architecture principles.

# Key Entities

  - Question: One server-supplied prompt, with its declarative validation rules.
  - Phase: The explicit state of a session (Idle, Asking, Completed, ...).
  - Snapshot: The persistable image of a session (current question, history, answers).
  - Proposal: The generated destination name and path awaiting confirmation.
  - Hooks: Callbacks for observability (phase changes, echoes, thinking indicator).
*/
package domain
