package plugin

import (
	"context"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
)

// Analyzer is the capability contract every analyzer implements, built-in
// or external. Findings carry location, type, severity, and message; the
// orchestrator assigns identity and session linkage.
type Analyzer interface {
	// Name returns the unique analyzer name.
	Name() string

	// Types returns the issue types this analyzer can produce.
	Types() []issue.Type

	// Detect inspects the snapshot and returns findings. Detect must be
	// safe to call concurrently with other analyzers reading the same
	// snapshot.
	Detect(ctx context.Context, snap *snapshot.Snapshot) ([]*issue.Issue, error)
}

// Manifest describes an external analyzer plugin, parsed from plugin.toml.
type Manifest struct {
	// Name is the unique plugin name.
	Name string `toml:"name"`

	// Version is a semantic version (e.g. "1.2.0").
	Version string `toml:"version"`

	// Description is a short human-readable summary.
	Description string `toml:"description,omitempty"`

	// Types lists the issue types the plugin detects.
	Types []string `toml:"types"`

	// Entry is the executable entry point, relative to the plugin
	// directory.
	Entry string `toml:"entry"`
}

// namePattern validates plugin names: alphanumeric with hyphens and
// underscores, starting with a letter or digit.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// semverPattern validates plugin versions.
var semverPattern = regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// Validate checks the manifest and returns a *ValidationError describing
// the first problem found.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return &ValidationError{Reason: "name is required"}
	}
	if !namePattern.MatchString(m.Name) {
		return &ValidationError{Plugin: m.Name, Reason: "name must be alphanumeric with hyphens/underscores"}
	}
	if m.Version == "" {
		return &ValidationError{Plugin: m.Name, Reason: "version is required"}
	}
	if !semverPattern.MatchString(m.Version) {
		return &ValidationError{Plugin: m.Name, Reason: fmt.Sprintf("version %q is not a semantic version", m.Version)}
	}
	if len(m.Types) == 0 {
		return &ValidationError{Plugin: m.Name, Reason: "at least one issue type is required"}
	}
	for _, t := range m.Types {
		if !issue.Type(t).Valid() {
			return &ValidationError{Plugin: m.Name, Reason: fmt.Sprintf("unsupported issue type %q", t)}
		}
	}
	if m.Entry == "" {
		return &ValidationError{Plugin: m.Name, Reason: "entry point is required"}
	}
	return nil
}

// IssueTypes returns the manifest's declared types as issue.Type values.
func (m *Manifest) IssueTypes() []issue.Type {
	out := make([]issue.Type, 0, len(m.Types))
	for _, t := range m.Types {
		out = append(out, issue.Type(t))
	}
	return out
}

// ValidationError reports a malformed or conflicting plugin registration.
// It is returned before any side effect.
type ValidationError struct {
	Plugin string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Plugin == "" {
		return "plugin validation: " + e.Reason
	}
	return fmt.Sprintf("plugin validation: %s: %s", e.Plugin, e.Reason)
}
