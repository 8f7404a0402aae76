// Package issue defines the issue entity produced by analyzers and consumed
// by the remediation loop, together with its lifecycle state machine,
// deterministic ordering, and the merge policy for duplicate findings.
package issue
