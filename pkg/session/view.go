package session

import "github.com/aretw0/docket/pkg/domain"

// View is what a front end renders for a session.
type View struct {
	*domain.Snapshot

	// Step is the 1-based position of the current question.
	Step int `json:"step"`
	// CanGoBack reports whether Back is currently legal.
	CanGoBack bool `json:"can_go_back"`
	// Busy reports an external call in flight; the input is locked.
	Busy bool `json:"busy"`
}
