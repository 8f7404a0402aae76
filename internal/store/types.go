package store

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/session"
)

// Errors for store operations.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrIssueNotFound   = errors.New("issue not found")
	ErrCommitNotFound  = errors.New("commit not found")
	ErrDuplicateID     = errors.New("duplicate id")
	ErrRevertReason    = errors.New("revert reason is required")
)

// FileChange describes one file touched by a commit.
type FileChange struct {
	Path         string `json:"path"`
	ChangeType   string `json:"change_type"` // added, modified, deleted, renamed
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	OldPath      string `json:"old_path,omitempty"`
}

// Commit records one mutation the remediation loop applied. Commits are
// append-only; a revert updates flags on the original record, it never
// deletes history.
type Commit struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"session_id"`
	IssueID      string       `json:"issue_id,omitempty"`
	Hash         string       `json:"hash"`
	Message      string       `json:"message"`
	DiffContent  string       `json:"diff_content,omitempty"`
	FilesChanged []FileChange `json:"files_changed,omitempty"`
	LinesAdded   int          `json:"lines_added"`
	LinesRemoved int          `json:"lines_removed"`
	Reverted     bool         `json:"reverted"`
	RevertedAt   time.Time    `json:"reverted_at,omitempty"`
	RevertHash   string       `json:"revert_hash,omitempty"`
	RevertReason string       `json:"revert_reason,omitempty"`
	Author       string       `json:"author"`
	AuthorEmail  string       `json:"author_email"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IssueFilter narrows ListIssues results. Zero-valued fields match all.
type IssueFilter struct {
	SessionID string
	Status    issue.Status
	Type      issue.Type
	FilePath  string
}

// SessionRepo persists sessions.
type SessionRepo interface {
	CreateSession(ctx context.Context, s *session.Session) error
	UpdateSession(ctx context.Context, s *session.Session) error
	GetSession(ctx context.Context, id string) (*session.Session, error)
}

// IssueRepo persists issues.
type IssueRepo interface {
	CreateIssue(ctx context.Context, i *issue.Issue) error
	UpdateIssue(ctx context.Context, i *issue.Issue) error
	ListIssues(ctx context.Context, filter IssueFilter) ([]*issue.Issue, error)
}

// CommitRepo persists commit records.
type CommitRepo interface {
	CreateCommit(ctx context.Context, c *Commit) error
	// MarkReverted flags a commit as reverted with a mandatory reason.
	// revertHash is empty when the revert was a hard reset.
	MarkReverted(ctx context.Context, commitID, revertHash, reason string) error
	ListCommits(ctx context.Context, sessionID string) ([]*Commit, error)
}

// Store is the full durable-state surface the core depends on. Writes are
// serialized per session id by the implementation.
type Store interface {
	SessionRepo
	IssueRepo
	CommitRepo
}
