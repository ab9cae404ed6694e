/*
Package session implements the conversational question-answer session.

A Controller owns one session: the attached file, the question on display,
the answer draft, the navigation history, a pending server suggestion and the
generated proposal. Every operation is legal only in specific phases
(see domain.Phase) and at most one external call is in flight at a time.

The Manager hosts controllers addressed by session ID, persisting their
snapshots through a ports.SnapshotStore and serialising access across
replicas with an optional ports.DistributedLocker.
*/
package session
