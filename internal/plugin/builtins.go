package plugin

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
)

// Builtins returns the built-in analyzer set.
func Builtins() []Analyzer {
	return []Analyzer{
		&stubAnalyzer{},
		&deadCodeAnalyzer{},
		NewSecurityAnalyzer(),
	}
}

// stubAnalyzer flags unfinished code: TODO/FIXME markers and
// not-implemented panics.
type stubAnalyzer struct{}

func (a *stubAnalyzer) Name() string { return "stub-detector" }

func (a *stubAnalyzer) Types() []issue.Type { return []issue.Type{issue.TypeStub} }

// stubMarkers map a marker substring to the severity it implies.
var stubMarkers = []struct {
	marker   string
	severity issue.Severity
	message  string
}{
	{"panic(\"not implemented\")", issue.SeverityHigh, "not-implemented panic"},
	{"panic(\"unimplemented\")", issue.SeverityHigh, "not-implemented panic"},
	{"FIXME", issue.SeverityMedium, "FIXME marker"},
	{"TODO", issue.SeverityLow, "TODO marker"},
}

func (a *stubAnalyzer) Detect(ctx context.Context, snap *snapshot.Snapshot) ([]*issue.Issue, error) {
	var findings []*issue.Issue
	err := eachSourceFile(ctx, snap, func(path, content string) {
		for n, line := range strings.Split(content, "\n") {
			for _, m := range stubMarkers {
				if !strings.Contains(line, m.marker) {
					continue
				}
				findings = append(findings, &issue.Issue{
					Type:     issue.TypeStub,
					Severity: m.severity,
					Category: issue.CategoryWarning,
					FilePath: path,
					Span:     issue.Span{StartLine: n + 1, EndLine: n + 1},
					Message:  m.message + " in " + path,
					Excerpt:  strings.TrimSpace(line),
				})
				break
			}
		}
	})
	return findings, err
}

// deadCodeAnalyzer flags blocks of commented-out code: three or more
// consecutive comment lines whose content parses like statements.
type deadCodeAnalyzer struct{}

func (a *deadCodeAnalyzer) Name() string { return "dead-code-detector" }

func (a *deadCodeAnalyzer) Types() []issue.Type { return []issue.Type{issue.TypeDeadCode} }

const minDeadCodeBlock = 3

func (a *deadCodeAnalyzer) Detect(ctx context.Context, snap *snapshot.Snapshot) ([]*issue.Issue, error) {
	var findings []*issue.Issue
	err := eachSourceFile(ctx, snap, func(path, content string) {
		lines := strings.Split(content, "\n")
		blockStart := -1
		blockLen := 0
		flush := func(end int) {
			if blockLen >= minDeadCodeBlock {
				findings = append(findings, &issue.Issue{
					Type:     issue.TypeDeadCode,
					Severity: issue.SeverityLow,
					Category: issue.CategorySuggestion,
					FilePath: path,
					Span:     issue.Span{StartLine: blockStart + 1, EndLine: end},
					Message:  "commented-out code block in " + path,
					Excerpt:  strings.TrimSpace(lines[blockStart]),
				})
			}
			blockStart = -1
			blockLen = 0
		}
		for n, line := range lines {
			if looksLikeCommentedCode(line) {
				if blockStart < 0 {
					blockStart = n
				}
				blockLen++
				continue
			}
			flush(n)
		}
		flush(len(lines))
	})
	return findings, err
}

// looksLikeCommentedCode reports whether a comment line's payload reads
// like a statement rather than prose.
func looksLikeCommentedCode(line string) bool {
	trimmed := strings.TrimSpace(line)
	var payload string
	switch {
	case strings.HasPrefix(trimmed, "//"):
		payload = strings.TrimSpace(strings.TrimPrefix(trimmed, "//"))
	case strings.HasPrefix(trimmed, "#"):
		payload = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	default:
		return false
	}
	if payload == "" {
		return false
	}
	if strings.HasSuffix(payload, ";") || strings.HasSuffix(payload, "{") || strings.HasSuffix(payload, "}") {
		return true
	}
	for _, kw := range []string{"func ", "if ", "for ", "return ", "var ", "const ", "def ", "import "} {
		if strings.HasPrefix(payload, kw) {
			return true
		}
	}
	return strings.Contains(payload, " := ") || strings.Contains(payload, " = ")
}

// sourceExtensions limits content scans to text source files.
var sourceExtensions = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rb": true, ".java": true, ".rs": true, ".c": true,
	".h": true, ".cpp": true, ".cs": true, ".sh": true, ".yaml": true,
	".yml": true, ".toml": true, ".json": true, ".env": true,
}

// eachSourceFile walks the snapshot's files, reads each source file within
// bounds, and hands it to fn. Oversized files are skipped, not errors.
func eachSourceFile(ctx context.Context, snap *snapshot.Snapshot, fn func(path, content string)) error {
	files, err := snap.Files()
	if err != nil {
		return err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		dot := strings.LastIndex(path, ".")
		if dot < 0 || !sourceExtensions[path[dot:]] {
			continue
		}
		content, err := snap.Read(path)
		if err != nil {
			continue
		}
		fn(path, content)
	}
	return nil
}
