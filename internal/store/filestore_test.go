package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/session"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return fs
}

func newTestSession(id string) *session.Session {
	return session.New(id, "/repo", "main", session.DefaultConfig())
}

func TestFileStore_SessionRoundTrip(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	s := newTestSession("s1")
	require.NoError(t, fs.CreateSession(ctx, s))

	got, err := fs.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, session.StatusPending, got.Status)

	require.NoError(t, got.Transition(session.StatusRunning))
	require.NoError(t, fs.UpdateSession(ctx, got))

	again, err := fs.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, again.Status)
}

func TestFileStore_CreateSessionDuplicate(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, fs.CreateSession(ctx, newTestSession("s1")))
	err := fs.CreateSession(ctx, newTestSession("s1"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestFileStore_GetSessionNotFound(t *testing.T) {
	fs := newTestStore(t)
	_, err := fs.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	fs1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs1.CreateSession(ctx, newTestSession("s1")))
	require.NoError(t, fs1.CreateIssue(ctx, &issue.Issue{
		ID: "i1", SessionID: "s1", Type: issue.TypeBug,
		Severity: issue.SeverityHigh, FilePath: "a.go",
		Status: issue.StatusPending,
	}))

	fs2, err := NewFileStore(dir)
	require.NoError(t, err)
	issues, err := fs2.ListIssues(ctx, IssueFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "i1", issues[0].ID)
}

func TestFileStore_ListIssuesFilter(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateSession(ctx, newTestSession("s1")))

	seed := []*issue.Issue{
		{ID: "i1", SessionID: "s1", Type: issue.TypeBug, Status: issue.StatusPending, FilePath: "a.go"},
		{ID: "i2", SessionID: "s1", Type: issue.TypeStub, Status: issue.StatusResolved, FilePath: "a.go"},
		{ID: "i3", SessionID: "s1", Type: issue.TypeBug, Status: issue.StatusPending, FilePath: "b.go"},
	}
	for _, i := range seed {
		require.NoError(t, fs.CreateIssue(ctx, i))
	}

	pending, err := fs.ListIssues(ctx, IssueFilter{SessionID: "s1", Status: issue.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	bugsInA, err := fs.ListIssues(ctx, IssueFilter{SessionID: "s1", Type: issue.TypeBug, FilePath: "a.go"})
	require.NoError(t, err)
	require.Len(t, bugsInA, 1)
	assert.Equal(t, "i1", bugsInA[0].ID)
}

func TestFileStore_UpdateIssueNotFound(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateSession(ctx, newTestSession("s1")))

	err := fs.UpdateIssue(ctx, &issue.Issue{ID: "ghost", SessionID: "s1"})
	assert.ErrorIs(t, err, ErrIssueNotFound)
}

func TestFileStore_MarkReverted(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateSession(ctx, newTestSession("s1")))
	require.NoError(t, fs.CreateCommit(ctx, &Commit{
		ID: "c1", SessionID: "s1", Hash: "abc123", Message: "fix: stub",
	}))

	// Reason is mandatory.
	err := fs.MarkReverted(ctx, "c1", "def456", "")
	assert.ErrorIs(t, err, ErrRevertReason)

	require.NoError(t, fs.MarkReverted(ctx, "c1", "def456", "verification regressed"))

	commits, err := fs.ListCommits(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.True(t, commits[0].Reverted)
	assert.Equal(t, "verification regressed", commits[0].RevertReason)
	assert.Equal(t, "def456", commits[0].RevertHash)
	assert.False(t, commits[0].RevertedAt.IsZero())
}

func TestFileStore_MarkRevertedHardReset(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateSession(ctx, newTestSession("s1")))
	require.NoError(t, fs.CreateCommit(ctx, &Commit{ID: "c1", SessionID: "s1", Hash: "abc123"}))

	// Hard reset leaves revert hash empty.
	require.NoError(t, fs.MarkReverted(ctx, "c1", "", "user stop"))

	commits, err := fs.ListCommits(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, commits[0].Reverted)
	assert.Empty(t, commits[0].RevertHash)
}

func TestFileStore_MarkRevertedNotFound(t *testing.T) {
	fs := newTestStore(t)
	err := fs.MarkReverted(context.Background(), "ghost", "", "reason")
	assert.ErrorIs(t, err, ErrCommitNotFound)
}
