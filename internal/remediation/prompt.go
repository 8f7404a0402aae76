package remediation

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
)

// TruncationMarker is appended whenever context is hard-truncated so the
// model never mistakes a cut-off file for a complete one.
const TruncationMarker = "... [content truncated to fit budget]"

const systemPrompt = `You are a careful software engineer fixing one code-quality issue at a time.
Use the provided tools to inspect the repository and apply a minimal fix.
When the fix is complete, reply with a short summary and no tool calls.
If the issue cannot or should not be fixed, reply with a line starting with "SKIP:" and the reason.`

// estimateTokens approximates the token count of text. Four bytes per token
// is the usual rule of thumb for source code.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// CompressionResult describes how source context was fitted to budget.
type CompressionResult struct {
	Content    string
	Compressed bool
	Truncated  bool
}

// compressFile fits content into budgetTokens. Comments are stripped first;
// if the result still exceeds the budget it is truncated on a line boundary
// with an explicit marker.
func compressFile(content string, budgetTokens int) CompressionResult {
	if estimateTokens(content) <= budgetTokens {
		return CompressionResult{Content: content}
	}

	stripped := stripComments(content)
	if estimateTokens(stripped) <= budgetTokens {
		return CompressionResult{Content: stripped, Compressed: true}
	}

	budgetBytes := budgetTokens * 4
	if marker := len(TruncationMarker) + 1; budgetBytes > marker {
		budgetBytes -= marker
	}
	cut := stripped
	if len(cut) > budgetBytes {
		cut = cut[:budgetBytes]
		if idx := strings.LastIndexByte(cut, '\n'); idx > 0 {
			cut = cut[:idx]
		}
	}
	return CompressionResult{
		Content:    cut + "\n" + TruncationMarker,
		Compressed: true,
		Truncated:  true,
	}
}

// stripComments removes line comments (//, #) and /* */ blocks while
// leaving code statements intact. It is deliberately lexer-free: a comment
// marker inside a string literal may be over-stripped, which is acceptable
// for prompt context.
func stripComments(content string) string {
	var out strings.Builder
	inBlock := false
	for _, line := range strings.Split(content, "\n") {
		if inBlock {
			if idx := strings.Index(line, "*/"); idx >= 0 {
				line = line[idx+2:]
				inBlock = false
			} else {
				continue
			}
		}
		for {
			idx := strings.Index(line, "/*")
			if idx < 0 {
				break
			}
			end := strings.Index(line[idx+2:], "*/")
			if end < 0 {
				line = line[:idx]
				inBlock = true
				break
			}
			line = line[:idx] + line[idx+2+end+2:]
		}
		if idx := strings.Index(line, "//"); idx >= 0 {
			line = line[:idx]
		}
		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "#!") {
			line = ""
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		out.WriteString(strings.TrimRight(line, " \t"))
		out.WriteByte('\n')
	}
	return out.String()
}

// buildIssuePrompt renders the opening user message for one issue, fitting
// the file context into the token budget.
func buildIssuePrompt(iss *issue.Issue, fileContent string, budgetTokens int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fix the following issue.\n\n")
	fmt.Fprintf(&b, "Type: %s\nSeverity: %s\nFile: %s (lines %d-%d)\nAnalyzer: %s\n",
		iss.Type, iss.Severity, iss.FilePath, iss.Span.StartLine, iss.Span.EndLine, iss.Source)
	fmt.Fprintf(&b, "Description: %s\n", iss.Message)
	if iss.Excerpt != "" {
		fmt.Fprintf(&b, "Excerpt:\n%s\n", iss.Excerpt)
	}

	if fileContent != "" {
		// Reserve part of the budget for the framing text above.
		fileBudget := budgetTokens - estimateTokens(b.String())
		if fileBudget < 256 {
			fileBudget = 256
		}
		fitted := compressFile(fileContent, fileBudget)
		fmt.Fprintf(&b, "\nCurrent content of %s", iss.FilePath)
		if fitted.Compressed {
			b.WriteString(" (comments stripped")
			if fitted.Truncated {
				b.WriteString(", truncated")
			}
			b.WriteString(")")
		}
		fmt.Fprintf(&b, ":\n```\n%s\n```\n", strings.TrimRight(fitted.Content, "\n"))
	}

	b.WriteString("\nApply a minimal fix with write_patch, verify your understanding with read_file or run_command as needed, then reply with a summary when done.")
	return b.String()
}
