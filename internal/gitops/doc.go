// Package gitops wraps repository version control for the remediation
// pipeline. It isolates fixes on a cleaning branch, records every applied
// fix as a commit with parsed file stats and diff content, and supports
// reverting a recorded commit either as a new commit or as a hard reset.
//
// The commit boundary never panics: failures surface as result objects
// with Success=false or as explicit errors.
package gitops
