// Package toolexec exposes the fixed tool catalog the remediation loop
// offers to the model: read_file, write_patch, list_directory, and
// run_command. Every tool call is sandboxed: paths are confined to the
// repository root, reads are size-bounded, and shell commands carry a
// wall-clock timeout. A failed tool call aborts only itself; the error text
// is fed back into the conversation.
package toolexec
