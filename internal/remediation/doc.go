// Package remediation drives the per-issue fix loop: it builds a budgeted
// prompt from the issue and its surrounding code, runs a bounded
// conversational loop against the model with the fixed tool catalog,
// verifies proposed patches with the configured project commands, and hands
// verified patches to the commit manager.
//
// Over-budget source context is compressed by comment stripping first, then
// hard truncation with an explicit marker; context is never silently
// corrupted. A verification failure inside an attempt earns at most one
// corrective retry before the attempt is marked failed.
package remediation
