// Package plugin hosts the analyzer registry. Analyzers share one
// capability contract: inspect a repository snapshot, report findings.
// Built-in analyzers are registered directly; external analyzers are
// discovered from plugin directories via TOML manifests, validated at load
// time, and executed as subprocesses. A corrupt plugin never aborts
// discovery of its siblings.
package plugin
