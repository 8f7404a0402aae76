// Package orchestrator fans analysis work out to the registered analyzers
// over a shared read-only snapshot, isolates per-analyzer failures, and
// merges findings into a canonical, deterministically ordered set.
package orchestrator
