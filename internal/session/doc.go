// Package session defines the session entity: one end-to-end remediation run
// against one repository checkout, with its state machine and counters.
package session
