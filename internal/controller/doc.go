// Package controller owns the session state machine. It sequences the
// scan, the per-issue remediation loop, and periodic checkpoints; enforces
// the session wall-clock timeout; and answers pause, resume, and stop
// requests cooperatively between issues.
//
// Session counters are always recomputed from the issue collection, never
// incremented in place, so the persisted session can never drift from
// store truth.
package controller
