package issue

import (
	"time"
)

// Type categorizes the kind of defect an analyzer reported.
type Type string

const (
	TypeStub        Type = "stub"
	TypeDuplicate   Type = "duplicate"
	TypeBug         Type = "bug"
	TypeTypeError   Type = "type_error"
	TypeLintError   Type = "lint_error"
	TypeMissingTest Type = "missing_test"
	TypeDeadCode    Type = "dead_code"
	TypeSecurity    Type = "security"
)

// AllTypes returns every issue type in canonical order.
func AllTypes() []Type {
	return []Type{
		TypeStub, TypeDuplicate, TypeBug, TypeTypeError,
		TypeLintError, TypeMissingTest, TypeDeadCode, TypeSecurity,
	}
}

// Valid reports whether t is a known issue type.
func (t Type) Valid() bool {
	switch t {
	case TypeStub, TypeDuplicate, TypeBug, TypeTypeError,
		TypeLintError, TypeMissingTest, TypeDeadCode, TypeSecurity:
		return true
	}
	return false
}

// Severity indicates how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a numeric rank for ordering; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Category distinguishes hard errors from advisory findings.
type Category string

const (
	CategoryError      Category = "error"
	CategoryWarning    Category = "warning"
	CategorySuggestion Category = "suggestion"
)

// Status is the lifecycle state of an issue.
type Status string

const (
	// StatusPending means the issue awaits a remediation attempt.
	StatusPending Status = "pending"
	// StatusInProgress means a remediation loop holds an exclusive claim.
	StatusInProgress Status = "in_progress"
	// StatusResolved means a verified fix was committed. Terminal.
	StatusResolved Status = "resolved"
	// StatusFailed means the retry budget is exhausted. Terminal.
	StatusFailed Status = "failed"
	// StatusSkipped means the finding was not actionable. Terminal, not an error.
	StatusSkipped Status = "skipped"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusFailed || s == StatusSkipped
}

// Span locates a finding within a file. Columns may be zero when the
// analyzer reports line granularity only.
type Span struct {
	StartLine   int `json:"start_line"`
	EndLine     int `json:"end_line"`
	StartColumn int `json:"start_column,omitempty"`
	EndColumn   int `json:"end_column,omitempty"`
}

// Overlaps reports whether two spans share at least one line.
func (sp Span) Overlaps(other Span) bool {
	return sp.StartLine <= other.EndLine && other.StartLine <= sp.EndLine
}

// Issue is one defect finding produced by exactly one analyzer.
//
// Logical identity is (SessionID, FilePath, overlapping Span, Type):
// re-scans must merge into an existing issue rather than insert a
// duplicate, preserving Status and RetryCount.
type Issue struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	Type       Type      `json:"type"`
	Severity   Severity  `json:"severity"`
	Category   Category  `json:"category"`
	Source     string    `json:"source"`
	FilePath   string    `json:"file_path"`
	Span       Span      `json:"span"`
	Message    string    `json:"message"`
	Excerpt    string    `json:"excerpt,omitempty"`
	Status     Status    `json:"status"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SameFinding reports whether other identifies the same logical finding.
func (i *Issue) SameFinding(other *Issue) bool {
	return i.SessionID == other.SessionID &&
		i.FilePath == other.FilePath &&
		i.Type == other.Type &&
		i.Span.Overlaps(other.Span)
}
