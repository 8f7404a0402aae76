// Package snapshot provides a read-only, depth- and size-bounded view of a
// repository tree. Analyzers and the remediation tool loop read files
// through it; every path is confined to the snapshot root and traversal
// attempts are rejected.
package snapshot
