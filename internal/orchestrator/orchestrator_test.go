package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/plugin"
	"github.com/fyrsmithlabs/codesweep/internal/session"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
)

// staticAnalyzer returns canned findings.
type staticAnalyzer struct {
	name     string
	types    []issue.Type
	findings []issue.Issue
	err      error
	panics   bool
}

func (s *staticAnalyzer) Name() string        { return s.name }
func (s *staticAnalyzer) Types() []issue.Type { return s.types }
func (s *staticAnalyzer) Detect(ctx context.Context, snap *snapshot.Snapshot) ([]*issue.Issue, error) {
	if s.panics {
		panic("analyzer bug")
	}
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*issue.Issue, len(s.findings))
	for n := range s.findings {
		f := s.findings[n]
		out[n] = &f
	}
	return out, s.err
}

func newRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\n"), 0644))
	return root
}

func newOrchestrator(t *testing.T, analyzers ...plugin.Analyzer) *Orchestrator {
	t.Helper()
	r := plugin.NewRegistry()
	for _, a := range analyzers {
		require.NoError(t, r.Register(a))
	}
	o, err := New(DefaultConfig(), r, zap.NewNop())
	require.NoError(t, err)
	return o
}

func finding(path string, start, end int, typ issue.Type, sev issue.Severity, msg string) issue.Issue {
	return issue.Issue{
		Type:     typ,
		Severity: sev,
		Category: issue.CategoryWarning,
		FilePath: path,
		Span:     issue.Span{StartLine: start, EndLine: end},
		Message:  msg,
	}
}

func TestAnalyzeMergesOverlappingFindings(t *testing.T) {
	o := newOrchestrator(t,
		&staticAnalyzer{name: "a1", types: []issue.Type{issue.TypeBug}, findings: []issue.Issue{
			finding("x.go", 10, 12, issue.TypeBug, issue.SeverityLow, "low view"),
		}},
		&staticAnalyzer{name: "a2", types: []issue.Type{issue.TypeBug}, findings: []issue.Issue{
			finding("x.go", 11, 14, issue.TypeBug, issue.SeverityCritical, "critical view"),
		}},
	)

	result, err := o.Analyze(context.Background(), newRepo(t), session.DefaultConfig(), nil)
	require.NoError(t, err)

	require.Len(t, result.Findings, 1)
	merged := result.Findings[0]
	// Max severity wins and brings its message along.
	assert.Equal(t, issue.SeverityCritical, merged.Severity)
	assert.Equal(t, "critical view", merged.Message)
	assert.Equal(t, 10, merged.Span.StartLine)
	assert.Equal(t, 14, merged.Span.EndLine)
}

func TestAnalyzeKeepsDistinctFindings(t *testing.T) {
	o := newOrchestrator(t,
		&staticAnalyzer{name: "a1", types: []issue.Type{issue.TypeBug}, findings: []issue.Issue{
			finding("x.go", 10, 12, issue.TypeBug, issue.SeverityLow, "bug"),
			finding("x.go", 10, 12, issue.TypeDeadCode, issue.SeverityLow, "different type"),
			finding("x.go", 40, 41, issue.TypeBug, issue.SeverityLow, "different lines"),
			finding("y.go", 10, 12, issue.TypeBug, issue.SeverityLow, "different file"),
		}},
	)

	result, err := o.Analyze(context.Background(), newRepo(t), session.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Len(t, result.Findings, 4)
}

func TestAnalyzeIsolatesFailures(t *testing.T) {
	o := newOrchestrator(t,
		&staticAnalyzer{name: "broken", types: []issue.Type{issue.TypeBug}, err: errors.New("boom")},
		&staticAnalyzer{name: "panicky", types: []issue.Type{issue.TypeBug}, panics: true},
		&staticAnalyzer{name: "healthy", types: []issue.Type{issue.TypeBug}, findings: []issue.Issue{
			finding("x.go", 1, 1, issue.TypeBug, issue.SeverityHigh, "found"),
		}},
	)

	result, err := o.Analyze(context.Background(), newRepo(t), session.DefaultConfig(), nil)
	require.NoError(t, err)

	assert.Len(t, result.Findings, 1)
	require.Len(t, result.Warnings, 2)
	names := []string{result.Warnings[0].Analyzer, result.Warnings[1].Analyzer}
	assert.ElementsMatch(t, []string{"broken", "panicky"}, names)
}

func TestAnalyzeIdempotent(t *testing.T) {
	repo := newRepo(t)
	o := newOrchestrator(t,
		&staticAnalyzer{name: "a1", types: []issue.Type{issue.TypeBug}, findings: []issue.Issue{
			finding("b.go", 5, 6, issue.TypeBug, issue.SeverityMedium, "m1"),
			finding("a.go", 9, 9, issue.TypeBug, issue.SeverityHigh, "m2"),
			finding("a.go", 2, 3, issue.TypeBug, issue.SeverityLow, "m3"),
		}},
	)

	first, err := o.Analyze(context.Background(), repo, session.DefaultConfig(), nil)
	require.NoError(t, err)
	second, err := o.Analyze(context.Background(), repo, session.DefaultConfig(), nil)
	require.NoError(t, err)

	require.Equal(t, len(first.Findings), len(second.Findings))
	for n := range first.Findings {
		assert.Equal(t, first.Findings[n].FilePath, second.Findings[n].FilePath)
		assert.Equal(t, first.Findings[n].Span, second.Findings[n].Span)
		assert.Equal(t, first.Findings[n].Severity, second.Findings[n].Severity)
		assert.Equal(t, first.Findings[n].Message, second.Findings[n].Message)
	}

	// Stable ordering: path asc, then line asc.
	assert.Equal(t, "a.go", first.Findings[0].FilePath)
	assert.Equal(t, 2, first.Findings[0].Span.StartLine)
	assert.Equal(t, "a.go", first.Findings[1].FilePath)
	assert.Equal(t, "b.go", first.Findings[2].FilePath)
}

func TestAnalyzeProgressEvents(t *testing.T) {
	o := newOrchestrator(t,
		&staticAnalyzer{name: "a1", types: []issue.Type{issue.TypeBug}},
		&staticAnalyzer{name: "a2", types: []issue.Type{issue.TypeBug}},
	)

	var mu []Progress
	_, err := o.Analyze(context.Background(), newRepo(t), session.DefaultConfig(), func(p Progress) {
		mu = append(mu, p)
	})
	require.NoError(t, err)

	var starts, completes, merges int
	for _, p := range mu {
		switch p.Stage {
		case StageAnalyzerStart:
			starts++
		case StageAnalyzerComplete:
			completes++
		case StageMergeComplete:
			merges++
			assert.Equal(t, 2, p.Completed)
			assert.Equal(t, 2, p.Total)
		}
	}
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, completes)
	assert.Equal(t, 1, merges)
}

func TestAnalyzeFiltersByType(t *testing.T) {
	o := newOrchestrator(t,
		&staticAnalyzer{name: "stubs", types: []issue.Type{issue.TypeStub}, findings: []issue.Issue{
			finding("x.go", 1, 1, issue.TypeStub, issue.SeverityLow, "stub"),
		}},
		&staticAnalyzer{name: "bugs", types: []issue.Type{issue.TypeBug}, findings: []issue.Issue{
			finding("x.go", 2, 2, issue.TypeBug, issue.SeverityLow, "bug"),
		}},
	)

	cfg := session.DefaultConfig()
	cfg.AnalysisTypes = []issue.Type{issue.TypeStub}

	result, err := o.Analyze(context.Background(), newRepo(t), cfg, nil)
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, issue.TypeStub, result.Findings[0].Type)
	assert.Equal(t, 1, result.Analyzers)
}
