package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
)

// SecurityAnalyzer detects committed secrets using the Gitleaks SDK with
// its default ruleset.
type SecurityAnalyzer struct {
	once     sync.Once
	detector *detect.Detector
	initErr  error
}

// NewSecurityAnalyzer creates the gitleaks-backed security analyzer. The
// detector is built lazily on first Detect so registry construction stays
// cheap.
func NewSecurityAnalyzer() *SecurityAnalyzer {
	return &SecurityAnalyzer{}
}

func (a *SecurityAnalyzer) Name() string { return "security-scanner" }

func (a *SecurityAnalyzer) Types() []issue.Type { return []issue.Type{issue.TypeSecurity} }

func (a *SecurityAnalyzer) Detect(ctx context.Context, snap *snapshot.Snapshot) ([]*issue.Issue, error) {
	a.once.Do(func() {
		a.detector, a.initErr = detect.NewDetectorDefaultConfig()
	})
	if a.initErr != nil {
		return nil, fmt.Errorf("failed to build gitleaks detector: %w", a.initErr)
	}

	var findings []*issue.Issue
	err := eachSourceFile(ctx, snap, func(path, content string) {
		for _, f := range a.detector.DetectString(content) {
			findings = append(findings, &issue.Issue{
				Type:     issue.TypeSecurity,
				Severity: issue.SeverityCritical,
				Category: issue.CategoryError,
				FilePath: path,
				Span:     issue.Span{StartLine: f.StartLine + 1, EndLine: f.EndLine + 1},
				Message:  fmt.Sprintf("%s detected in %s", f.Description, path),
				// The matched secret itself is never stored.
				Excerpt: f.RuleID,
			})
		}
	})
	return findings, err
}

var _ Analyzer = (*SecurityAnalyzer)(nil)
