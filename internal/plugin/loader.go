package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
)

// manifestFileName is the per-plugin manifest file.
const manifestFileName = "plugin.toml"

// defaultExternalTimeout bounds one external analyzer invocation.
const defaultExternalTimeout = 2 * time.Minute

// DiscoveryResult collects the outcome of scanning a plugin directory.
// Failures are isolated per plugin: a corrupt manifest appears in Errors
// without affecting its siblings.
type DiscoveryResult struct {
	Plugins []*External
	Errors  []error
}

// LoadDir scans a directory for plugin subdirectories containing a
// plugin.toml manifest. Loading is side-effect-free: discovered plugins are
// returned for explicit registration, nothing is registered here.
func LoadDir(dir string) (*DiscoveryResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	result := &DiscoveryResult{}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		pluginDir := filepath.Join(dir, name)
		ext, err := LoadPlugin(pluginDir)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("%s: %w", name, err))
			continue
		}
		result.Plugins = append(result.Plugins, ext)
	}
	return result, nil
}

// LoadPlugin parses and validates a single plugin directory.
func LoadPlugin(dir string) (*External, error) {
	manifestPath := filepath.Join(dir, manifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("malformed manifest: %v", err)}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	entry := filepath.Join(dir, m.Entry)
	if info, err := os.Stat(entry); err != nil {
		return nil, &ValidationError{Plugin: m.Name, Reason: fmt.Sprintf("entry point %s not found", m.Entry)}
	} else if info.IsDir() {
		return nil, &ValidationError{Plugin: m.Name, Reason: fmt.Sprintf("entry point %s is a directory", m.Entry)}
	}

	return &External{manifest: m, entry: entry, timeout: defaultExternalTimeout}, nil
}

// externalFinding is the JSON line format external analyzers emit.
type externalFinding struct {
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Category  string `json:"category"`
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Message   string `json:"message"`
	Excerpt   string `json:"excerpt,omitempty"`
}

// External is an analyzer backed by a subprocess. The entry point is
// invoked with the snapshot root as its argument and must print a JSON
// array of findings on stdout.
type External struct {
	manifest Manifest
	entry    string
	timeout  time.Duration
}

// Name returns the plugin's manifest name.
func (e *External) Name() string { return e.manifest.Name }

// Types returns the plugin's declared issue types.
func (e *External) Types() []issue.Type { return e.manifest.IssueTypes() }

// Manifest returns a copy of the plugin's manifest.
func (e *External) Manifest() Manifest { return e.manifest }

// Detect runs the plugin subprocess against the snapshot root.
func (e *External) Detect(ctx context.Context, snap *snapshot.Snapshot) ([]*issue.Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.entry, snap.Root())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("plugin %s failed: %w (stderr: %s)", e.manifest.Name, err, truncate(stderr.String(), 512))
	}

	var raw []externalFinding
	if err := json.Unmarshal(stdout.Bytes(), &raw); err != nil {
		return nil, fmt.Errorf("plugin %s emitted malformed findings: %w", e.manifest.Name, err)
	}

	declared := make(map[issue.Type]bool)
	for _, t := range e.manifest.IssueTypes() {
		declared[t] = true
	}

	findings := make([]*issue.Issue, 0, len(raw))
	for _, f := range raw {
		t := issue.Type(f.Type)
		if !declared[t] {
			// Undeclared types are dropped, not trusted.
			continue
		}
		findings = append(findings, &issue.Issue{
			Type:     t,
			Severity: issue.Severity(f.Severity),
			Category: issue.Category(f.Category),
			FilePath: f.FilePath,
			Span:     issue.Span{StartLine: f.StartLine, EndLine: f.EndLine},
			Message:  f.Message,
			Excerpt:  f.Excerpt,
		})
	}
	return findings, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Analyzer = (*External)(nil)
