package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/codesweep/internal/checkpoint"
	"github.com/fyrsmithlabs/codesweep/internal/events"
	"github.com/fyrsmithlabs/codesweep/internal/gitops"
	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/orchestrator"
	"github.com/fyrsmithlabs/codesweep/internal/plugin"
	"github.com/fyrsmithlabs/codesweep/internal/remediation"
	"github.com/fyrsmithlabs/codesweep/internal/session"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
	"github.com/fyrsmithlabs/codesweep/internal/store"
)

// fixedAnalyzer reports the same findings on every scan.
type fixedAnalyzer struct {
	name     string
	findings []*issue.Issue
}

func (a *fixedAnalyzer) Name() string        { return a.name }
func (a *fixedAnalyzer) Types() []issue.Type { return []issue.Type{issue.TypeStub} }

func (a *fixedAnalyzer) Detect(context.Context, *snapshot.Snapshot) ([]*issue.Issue, error) {
	out := make([]*issue.Issue, len(a.findings))
	for i, f := range a.findings {
		clone := *f
		out[i] = &clone
	}
	return out, nil
}

// scriptedProcessor replays outcomes in order. With block set it parks on
// the context; with gate set each call waits for one gate token, letting
// tests interleave pause and stop requests at issue boundaries.
type scriptedProcessor struct {
	mu       sync.Mutex
	outcomes []remediation.Outcome
	calls    int
	started  chan struct{}
	gate     chan struct{}
	block    bool
}

func (p *scriptedProcessor) Process(ctx context.Context, iss *issue.Issue) *remediation.Result {
	p.mu.Lock()
	p.calls++
	var outcome remediation.Outcome = remediation.OutcomeResolved
	if len(p.outcomes) > 0 {
		outcome = p.outcomes[0]
		p.outcomes = p.outcomes[1:]
	}
	started := p.started
	gate := p.gate
	block := p.block
	p.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block {
		<-ctx.Done()
		return &remediation.Result{Outcome: remediation.OutcomeFailed, Feedback: ctx.Err().Error()}
	}
	if gate != nil {
		<-gate
	}

	if outcome == remediation.OutcomeResolved {
		return &remediation.Result{
			Outcome: remediation.OutcomeResolved,
			Commit:  &gitops.CommitResult{Success: true, Hash: "abc123", Message: "fix: " + iss.Message},
		}
	}
	return &remediation.Result{Outcome: outcome, Feedback: "scripted"}
}

// recordSink captures published events.
type recordSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordSink) Publish(_ context.Context, e events.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordSink) statuses(phase events.Phase) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Phase == phase {
			out = append(out, e.Status)
		}
	}
	return out
}

type fixture struct {
	ctrl  *Controller
	store store.Store
	sess  *session.Session
	sink  *recordSink
	cps   *checkpoint.Writer
}

func stubFinding(path string, line int, severity issue.Severity) *issue.Issue {
	return &issue.Issue{
		Type:     issue.TypeStub,
		Severity: severity,
		Source:   "fixed",
		FilePath: path,
		Span:     issue.Span{StartLine: line, EndLine: line},
		Message:  "stub at " + path,
	}
}

func newFixture(t *testing.T, findings []*issue.Issue, processor Processor, cfg session.Config) *fixture {
	t.Helper()

	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "main.go"), []byte("package main\n"), 0644))

	registry := plugin.NewRegistry()
	require.NoError(t, registry.RegisterBuiltin(&fixedAnalyzer{name: "fixed", findings: findings}))

	orch, err := orchestrator.New(&orchestrator.Config{}, registry, nil)
	require.NoError(t, err)

	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)

	cps, err := checkpoint.NewWriter(filepath.Join(t.TempDir(), "checkpoints"), nil)
	require.NoError(t, err)

	sink := &recordSink{}
	ctrl, err := New(Config{
		Store:       st,
		Orch:        orch,
		Factory:     func(*session.Session) (Processor, error) { return processor, nil },
		Checkpoints: cps,
		Events:      sink,
	})
	require.NoError(t, err)

	sess := session.New("sess-1", repoDir, "main", cfg)
	sess.CleaningBranch = "codesweep/cleaning"
	require.NoError(t, st.CreateSession(context.Background(), sess))

	return &fixture{ctrl: ctrl, store: st, sess: sess, sink: sink, cps: cps}
}

func TestRunCompletesSession(t *testing.T) {
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, &scriptedProcessor{}, session.DefaultConfig())

	require.NoError(t, f.ctrl.Run(context.Background(), f.sess))

	assert.Equal(t, session.StatusCompleted, f.sess.Status)
	assert.Equal(t, 1, f.sess.Counters.TotalIssues)
	assert.Equal(t, 1, f.sess.Counters.ResolvedIssues)
	assert.False(t, f.sess.FinishedAt.IsZero())

	issues, err := f.store.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.StatusResolved, issues[0].Status)

	commits, err := f.store.ListCommits(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, "abc123", commits[0].Hash)
	assert.Equal(t, issues[0].ID, commits[0].IssueID)

	// A clean finish leaves no checkpoint behind.
	_, err = f.cps.Load("sess-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRunRetriesUntilResolved(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.MaxRetries = 2
	processor := &scriptedProcessor{outcomes: []remediation.Outcome{
		remediation.OutcomeFailed,
		remediation.OutcomeFailed,
		remediation.OutcomeResolved,
	}}
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, processor, cfg)

	require.NoError(t, f.ctrl.Run(context.Background(), f.sess))

	issues, err := f.store.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.StatusResolved, issues[0].Status)
	assert.Equal(t, 2, issues[0].RetryCount)

	commits, err := f.store.ListCommits(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.False(t, commits[0].Reverted)
}

func TestRunExhaustsRetries(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.MaxRetries = 1
	processor := &scriptedProcessor{outcomes: []remediation.Outcome{
		remediation.OutcomeFailed,
		remediation.OutcomeFailed,
	}}
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityCritical)}
	f := newFixture(t, findings, processor, cfg)

	require.NoError(t, f.ctrl.Run(context.Background(), f.sess))

	assert.Equal(t, session.StatusCompleted, f.sess.Status)
	assert.Equal(t, 1, f.sess.Counters.FailedIssues)

	issues, err := f.store.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.StatusFailed, issues[0].Status)
	assert.Equal(t, 2, issues[0].RetryCount)
	assert.Equal(t, 2, processor.calls)
}

func TestRunProcessingOrder(t *testing.T) {
	findings := []*issue.Issue{
		stubFinding("b.go", 1, issue.SeverityLow),
		stubFinding("a.go", 5, issue.SeverityCritical),
		stubFinding("a.go", 9, issue.SeverityHigh),
	}

	var order []string
	processor := &orderProcessor{record: &order}
	f := newFixture(t, findings, processor, session.DefaultConfig())

	require.NoError(t, f.ctrl.Run(context.Background(), f.sess))
	assert.Equal(t, []string{"a.go:5", "a.go:9", "b.go:1"}, order)
}

type orderProcessor struct {
	record *[]string
}

func (p *orderProcessor) Process(_ context.Context, iss *issue.Issue) *remediation.Result {
	*p.record = append(*p.record, fmt.Sprintf("%s:%d", iss.FilePath, iss.Span.StartLine))
	return &remediation.Result{Outcome: remediation.OutcomeSkipped, Feedback: "recorded"}
}

func TestRunTimeoutReleasesInFlightIssue(t *testing.T) {
	processor := &scriptedProcessor{block: true, started: make(chan struct{}, 1)}
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, processor, session.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, f.ctrl.Run(ctx, f.sess))

	assert.Equal(t, session.StatusTimeout, f.sess.Status)

	issues, err := f.store.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.StatusPending, issues[0].Status)
	assert.Equal(t, 0, issues[0].RetryCount)
}

func TestRunResumesInterruptedSession(t *testing.T) {
	processor := &scriptedProcessor{block: true, started: make(chan struct{}, 1)}
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, processor, session.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, f.ctrl.Run(ctx, f.sess))
	require.Equal(t, session.StatusTimeout, f.sess.Status)

	// A restarted run picks the persisted session back up and drains the
	// remaining backlog.
	processor.mu.Lock()
	processor.block = false
	processor.mu.Unlock()

	require.NoError(t, f.ctrl.Run(context.Background(), f.sess))

	assert.Equal(t, session.StatusCompleted, f.sess.Status)
	assert.True(t, f.sess.FinishedAt.After(f.sess.StartedAt))

	issues, err := f.store.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.StatusResolved, issues[0].Status)

	// The re-scan merged into the existing issue instead of duplicating it.
	assert.Equal(t, 1, f.sess.Counters.TotalIssues)
}

func TestSyncFindingsMergesRescans(t *testing.T) {
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)
	sess := session.New("sess-1", t.TempDir(), "main", session.DefaultConfig())
	require.NoError(t, st.CreateSession(context.Background(), sess))

	first := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	require.NoError(t, SyncFindings(context.Background(), st, sess, first))

	issues, err := st.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	issues[0].Status = issue.StatusResolved
	issues[0].RetryCount = 2
	require.NoError(t, st.UpdateIssue(context.Background(), issues[0]))

	// An unchanged repository re-scan reports the same logical finding.
	again := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityCritical)}
	require.NoError(t, SyncFindings(context.Background(), st, sess, again))

	issues, err = st.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.StatusResolved, issues[0].Status)
	assert.Equal(t, 2, issues[0].RetryCount)
	assert.Equal(t, issue.SeverityCritical, issues[0].Severity)
}

func TestRunLogsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := session.DefaultConfig()
	cfg.MaxRetries = 2
	processor := &scriptedProcessor{outcomes: []remediation.Outcome{
		remediation.OutcomeFailed,
		remediation.OutcomeResolved,
	}}
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, processor, cfg)
	f.ctrl.logger = zap.New(core)

	require.NoError(t, f.ctrl.Run(context.Background(), f.sess))

	var sawSession, sawIssue bool
	for _, entry := range logs.All() {
		fields := entry.ContextMap()
		if fields["session.id"] == "sess-1" {
			sawSession = true
		}
		if id, ok := fields["issue.id"].(string); ok && id != "" && entry.Message == "remediation attempt failed" {
			sawIssue = true
		}
	}
	assert.True(t, sawSession, "no log entry carried session.id")
	assert.True(t, sawIssue, "attempt failure log missing issue.id")
}

func TestRunStop(t *testing.T) {
	processor := &scriptedProcessor{block: true, started: make(chan struct{}, 1)}
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, processor, session.DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(context.Background(), f.sess) }()

	<-processor.started
	require.NoError(t, f.ctrl.Stop())
	require.NoError(t, <-done)

	assert.Equal(t, session.StatusStopped, f.sess.Status)

	issues, err := f.store.ListIssues(context.Background(), store.IssueFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, issue.StatusPending, issues[0].Status)
}

func TestRunPauseResume(t *testing.T) {
	processor := &scriptedProcessor{
		started: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	findings := []*issue.Issue{
		stubFinding("a.go", 1, issue.SeverityHigh),
		stubFinding("b.go", 1, issue.SeverityLow),
	}
	f := newFixture(t, findings, processor, session.DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(context.Background(), f.sess) }()

	// Pause lands while the first issue is still being processed, so it
	// takes effect at the next issue boundary.
	<-processor.started
	require.NoError(t, f.ctrl.Pause())
	processor.gate <- struct{}{}

	require.Eventually(t, func() bool {
		for _, status := range f.sink.statuses(events.PhaseSession) {
			if status == string(session.StatusPaused) {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, f.ctrl.Resume())
	processor.gate <- struct{}{}
	require.NoError(t, <-done)

	assert.Equal(t, session.StatusCompleted, f.sess.Status)
	statuses := f.sink.statuses(events.PhaseSession)
	assert.Contains(t, statuses, string(session.StatusPaused))
	assert.Equal(t, string(session.StatusCompleted), statuses[len(statuses)-1])
}

func TestRunCheckpointsAtInterval(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.CheckpointInterval = 1
	findings := []*issue.Issue{
		stubFinding("a.go", 1, issue.SeverityHigh),
		stubFinding("b.go", 1, issue.SeverityLow),
	}
	f := newFixture(t, findings, &scriptedProcessor{}, cfg)

	require.NoError(t, f.ctrl.Run(context.Background(), f.sess))

	assert.Len(t, f.sink.statuses(events.PhaseCheckpoint), 2)
}

func TestRunFailsOnFactoryError(t *testing.T) {
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, &scriptedProcessor{}, session.DefaultConfig())
	f.ctrl.factory = func(*session.Session) (Processor, error) {
		return nil, errors.New("no such repository")
	}

	err := f.ctrl.Run(context.Background(), f.sess)
	require.Error(t, err)
	assert.Equal(t, session.StatusFailed, f.sess.Status)
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	processor := &scriptedProcessor{block: true, started: make(chan struct{}, 1)}
	findings := []*issue.Issue{stubFinding("main.go", 1, issue.SeverityHigh)}
	f := newFixture(t, findings, processor, session.DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(context.Background(), f.sess) }()
	<-processor.started

	other := session.New("sess-2", f.sess.RepositoryPath, "main", session.DefaultConfig())
	assert.ErrorIs(t, f.ctrl.Run(context.Background(), other), ErrAlreadyRunning)

	require.NoError(t, f.ctrl.Stop())
	require.NoError(t, <-done)
}

func TestPauseWithoutRun(t *testing.T) {
	f := newFixture(t, nil, &scriptedProcessor{}, session.DefaultConfig())
	assert.ErrorIs(t, f.ctrl.Pause(), ErrNotRunning)
	assert.ErrorIs(t, f.ctrl.Resume(), ErrNotRunning)
	assert.ErrorIs(t, f.ctrl.Stop(), ErrNotRunning)
}
