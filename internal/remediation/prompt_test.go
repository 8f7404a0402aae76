package remediation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
)

func TestCompressFileWithinBudget(t *testing.T) {
	content := "package main\n\nfunc main() {}\n"
	result := compressFile(content, 1000)
	assert.Equal(t, content, result.Content)
	assert.False(t, result.Compressed)
	assert.False(t, result.Truncated)
}

func TestCompressFileStripsCommentsOnly(t *testing.T) {
	var b strings.Builder
	b.WriteString("package main\n\n")
	for i := 0; i < 40; i++ {
		b.WriteString("// this long explanatory comment pads the file well past the budget line\n")
	}
	b.WriteString("/* block comment\nspanning lines */\n")
	b.WriteString("func main() { run() } // trailing note\n")
	b.WriteString("func run() {}\n")
	content := b.String()

	budget := estimateTokens(content) - 100
	result := compressFile(content, budget)

	assert.True(t, result.Compressed)
	assert.False(t, result.Truncated)
	assert.NotContains(t, result.Content, "explanatory comment")
	assert.NotContains(t, result.Content, "block comment")
	assert.NotContains(t, result.Content, "trailing note")
	assert.Contains(t, result.Content, "func main() { run() }")
	assert.Contains(t, result.Content, "func run() {}")
}

func TestCompressFileTruncatesWithMarker(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString("func generated() { doSomethingUseful() }\n")
	}

	result := compressFile(b.String(), 50)
	assert.True(t, result.Compressed)
	assert.True(t, result.Truncated)
	assert.True(t, strings.HasSuffix(result.Content, TruncationMarker))
	assert.Less(t, len(result.Content), b.Len())
}

func TestStripCommentsHashLines(t *testing.T) {
	content := "#!/bin/sh\n# setup step\necho hello\n"
	stripped := stripComments(content)
	assert.Contains(t, stripped, "#!/bin/sh")
	assert.Contains(t, stripped, "echo hello")
	assert.NotContains(t, stripped, "setup step")
}

func TestBuildIssuePromptIncludesIssueFields(t *testing.T) {
	iss := &issue.Issue{
		ID:       "iss-1",
		Type:     issue.TypeStub,
		Severity: issue.SeverityHigh,
		FilePath: "pkg/util.go",
		Span:     issue.Span{StartLine: 3, EndLine: 5},
		Message:  "function body is a stub",
		Source:   "stub-detector",
		Excerpt:  "panic(\"not implemented\")",
	}

	prompt := buildIssuePrompt(iss, "package pkg\n\nfunc helper() { panic(\"not implemented\") }\n", 4000)
	assert.Contains(t, prompt, "pkg/util.go")
	assert.Contains(t, prompt, "lines 3-5")
	assert.Contains(t, prompt, "function body is a stub")
	assert.Contains(t, prompt, "stub-detector")
	assert.Contains(t, prompt, "func helper()")
}
