package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/checkpoint"
	"github.com/fyrsmithlabs/codesweep/internal/events"
	"github.com/fyrsmithlabs/codesweep/internal/gitops"
	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/llm"
	"github.com/fyrsmithlabs/codesweep/internal/logging"
	"github.com/fyrsmithlabs/codesweep/internal/orchestrator"
	"github.com/fyrsmithlabs/codesweep/internal/remediation"
	"github.com/fyrsmithlabs/codesweep/internal/session"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
	"github.com/fyrsmithlabs/codesweep/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/codesweep/internal/controller"

var (
	ErrAlreadyRunning = errors.New("controller is already running a session")
	ErrNotRunning     = errors.New("no session is running")
)

// Processor runs one remediation attempt against one issue.
// *remediation.Loop satisfies it.
type Processor interface {
	Process(ctx context.Context, iss *issue.Issue) *remediation.Result
}

// ProcessorFactory builds the per-session processor once the session's
// working copy is prepared.
type ProcessorFactory func(sess *session.Session) (Processor, error)

// GitProcessorFactory is the production factory: it opens the repository,
// checks out the cleaning branch, and builds the remediation loop over a
// snapshot honoring the session's exclude patterns.
func GitProcessorFactory(provider llm.Provider, logger *zap.Logger) ProcessorFactory {
	return func(sess *session.Session) (Processor, error) {
		mgr, err := gitops.Open(sess.RepositoryPath, logger)
		if err != nil {
			return nil, err
		}
		if err := mgr.EnsureCleaningBranch(sess.CleaningBranch); err != nil {
			return nil, err
		}
		snap, err := snapshot.New(sess.RepositoryPath, snapshot.Options{Exclude: sess.Config.Exclude})
		if err != nil {
			return nil, err
		}
		return remediation.NewLoop(provider, snap, mgr, sess.Config, logger)
	}
}

// Config assembles the controller's collaborators.
type Config struct {
	Store       store.Store
	Orch        *orchestrator.Orchestrator
	Factory     ProcessorFactory
	Checkpoints *checkpoint.Writer
	Events      events.Sink
	Logger      *zap.Logger
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Orch == nil {
		return errors.New("orchestrator is required")
	}
	if c.Factory == nil {
		return errors.New("processor factory is required")
	}
	return nil
}

// Controller drives one session at a time.
type Controller struct {
	store       store.Store
	orch        *orchestrator.Orchestrator
	factory     ProcessorFactory
	checkpoints *checkpoint.Writer
	sink        events.Sink
	logger      *zap.Logger

	tracer          trace.Tracer
	sessionsCounter metric.Int64Counter
	issuesCounter   metric.Int64Counter

	mu       sync.Mutex
	running  bool
	stopping bool
	paused   bool
	resume   chan struct{}
	cancel   context.CancelFunc
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Events == nil {
		cfg.Events = events.NopSink{}
	}

	meter := otel.Meter(instrumentationName)
	sessions, err := meter.Int64Counter("codesweep.controller.sessions",
		metric.WithDescription("Sessions finished, by terminal status"))
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions counter: %w", err)
	}
	issues, err := meter.Int64Counter("codesweep.controller.issues",
		metric.WithDescription("Issues settled, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create issues counter: %w", err)
	}

	return &Controller{
		store:           cfg.Store,
		orch:            cfg.Orch,
		factory:         cfg.Factory,
		checkpoints:     cfg.Checkpoints,
		sink:            cfg.Events,
		logger:          cfg.Logger,
		tracer:          otel.Tracer(instrumentationName),
		sessionsCounter: sessions,
		issuesCounter:   issues,
	}, nil
}

// Pause requests a pause at the next issue boundary.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
	return nil
}

// Resume lifts a pause.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	if c.paused {
		c.paused = false
		close(c.resume)
	}
	return nil
}

// Stop requests a cooperative stop. The in-flight shell command or model
// call is cancelled; the last committed state is left in place.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return ErrNotRunning
	}
	c.stopping = true
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Run executes the session to a terminal status: scan, process the backlog
// in severity-descending then path-ascending order, checkpoint at the
// configured interval. It returns the first infrastructure error, which
// also moves the session to FAILED.
func (c *Controller) Run(ctx context.Context, sess *session.Session) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(sess.Config.TimeoutMinutes)*time.Minute)
	c.running = true
	c.stopping = false
	c.paused = false
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	runCtx, span := c.tracer.Start(runCtx, "controller.Run",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer span.End()
	runCtx = logging.WithSessionID(runCtx, sess.ID)

	err := c.run(runCtx, sess)
	c.sessionsCounter.Add(context.WithoutCancel(runCtx), 1, metric.WithAttributes(
		attribute.String("status", string(sess.Status))))
	c.publishSession(sess)
	return err
}

func (c *Controller) run(ctx context.Context, sess *session.Session) error {
	if err := c.start(ctx, sess); err != nil {
		return err
	}
	c.publishSession(sess)

	if err := c.scan(ctx, sess); err != nil {
		return c.fail(ctx, sess, fmt.Errorf("scan failed: %w", err))
	}

	processor, err := c.factory(sess)
	if err != nil {
		return c.fail(ctx, sess, fmt.Errorf("failed to prepare working copy: %w", err))
	}

	processed := 0
	if c.checkpoints != nil {
		if cp, err := c.checkpoints.Load(sess.ID); err == nil {
			processed = cp.Processed
			c.log(ctx).Info("resuming from checkpoint",
				zap.Int("processed", processed),
				zap.String("lastIssueID", cp.LastIssueID))
		}
	}

	if err := c.processBacklog(ctx, sess, processor, processed); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return c.finishInterrupted(ctx, sess)
	}

	if err := c.transition(ctx, sess, session.StatusCompleted); err != nil {
		return err
	}
	if c.checkpoints != nil {
		if err := c.checkpoints.Clear(sess.ID); err != nil {
			c.log(ctx).Warn("failed to clear checkpoint", zap.Error(err))
		}
	}
	c.log(ctx).Info("session completed",
		zap.Int("total", sess.Counters.TotalIssues),
		zap.Int("resolved", sess.Counters.ResolvedIssues),
		zap.Int("failed", sess.Counters.FailedIssues),
		zap.Int("skipped", sess.Counters.SkippedIssues))
	return nil
}

// scan runs the orchestrator and merges its findings into the stored issue
// collection, preserving status and retry counts of known issues.
func (c *Controller) scan(ctx context.Context, sess *session.Session) error {
	result, err := c.orch.Analyze(ctx, sess.RepositoryPath, sess.Config, func(p orchestrator.Progress) {
		c.sink.Publish(ctx, events.Event{
			SessionID: sess.ID,
			Phase:     events.PhaseScan,
			Status:    string(p.Stage),
			Current:   p.Analyzer,
			Total:     p.Total,
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		return err
	}

	if err := SyncFindings(ctx, c.store, sess, result.Findings); err != nil {
		return err
	}
	return c.refreshCounters(ctx, sess)
}

// SyncFindings folds a scan's findings into the session's stored issue
// collection. A finding matching a known issue on (file, overlapping span,
// type) merges into it, preserving status and retry count; everything else
// is inserted as a new pending issue. Re-running a scan against an unchanged
// repository is therefore a no-op on the issue count.
func SyncFindings(ctx context.Context, st store.Store, sess *session.Session, findings []*issue.Issue) error {
	existing, err := st.ListIssues(ctx, store.IssueFilter{SessionID: sess.ID})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, finding := range findings {
		finding.SessionID = sess.ID
		merged := false
		for _, known := range existing {
			if known.SameFinding(finding) {
				issue.Merge(known, finding)
				known.UpdatedAt = now
				if err := st.UpdateIssue(ctx, known); err != nil {
					return err
				}
				merged = true
				break
			}
		}
		if merged {
			continue
		}
		finding.ID = uuid.NewString()
		finding.Status = issue.StatusPending
		finding.CreatedAt = now
		finding.UpdatedAt = now
		if err := st.CreateIssue(ctx, finding); err != nil {
			return err
		}
		existing = append(existing, finding)
	}
	return nil
}

func (c *Controller) processBacklog(ctx context.Context, sess *session.Session, processor Processor, processed int) error {
	for {
		if err := c.waitIfPaused(ctx, sess); err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		backlog, err := c.store.ListIssues(ctx, store.IssueFilter{
			SessionID: sess.ID,
			Status:    issue.StatusPending,
		})
		if err != nil {
			return c.fail(ctx, sess, err)
		}
		if len(backlog) == 0 {
			return nil
		}
		issue.SortBacklog(backlog)

		for _, iss := range backlog {
			if err := c.waitIfPaused(ctx, sess); err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}

			released, err := c.processIssue(ctx, sess, processor, iss)
			if err != nil {
				return c.fail(ctx, sess, err)
			}
			if released {
				// Interrupted mid-attempt: the issue went back to
				// pending without consuming a retry.
				return nil
			}

			processed++
			if err := c.refreshCounters(ctx, sess); err != nil {
				return c.fail(ctx, sess, err)
			}
			c.publishIssueProgress(ctx, sess, iss)

			// Checkpoints strictly follow the state they describe.
			if c.checkpoints != nil && checkpoint.Due(processed, sess.Config.CheckpointInterval) {
				cp := checkpoint.Checkpoint{
					SessionID:   sess.ID,
					LastIssueID: iss.ID,
					Processed:   processed,
					Counters:    sess.Counters,
				}
				if err := c.checkpoints.Save(cp); err != nil {
					c.log(ctx).Warn("failed to save checkpoint", zap.Error(err))
				} else {
					c.sink.Publish(ctx, events.Event{
						SessionID: sess.ID,
						Phase:     events.PhaseCheckpoint,
						Total:     sess.Counters.TotalIssues,
						Resolved:  sess.Counters.ResolvedIssues,
						Failed:    sess.Counters.FailedIssues,
						Skipped:   sess.Counters.SkippedIssues,
						Timestamp: time.Now(),
					})
				}
			}
		}
	}
}

// processIssue runs one attempt. It returns released=true when the attempt
// was cut short by timeout or stop and the issue was returned to pending.
func (c *Controller) processIssue(ctx context.Context, sess *session.Session, processor Processor, iss *issue.Issue) (bool, error) {
	ctx = logging.WithIssueID(ctx, iss.ID)
	if err := issue.Claim(iss); err != nil {
		return false, err
	}
	iss.UpdatedAt = time.Now()
	if err := c.store.UpdateIssue(ctx, iss); err != nil {
		return false, err
	}

	result := processor.Process(ctx, iss)

	if ctx.Err() != nil {
		if err := issue.Release(iss); err != nil {
			return false, err
		}
		iss.UpdatedAt = time.Now()
		return true, c.store.UpdateIssue(context.WithoutCancel(ctx), iss)
	}

	switch result.Outcome {
	case remediation.OutcomeResolved:
		if err := issue.Resolve(iss); err != nil {
			return false, err
		}
		if err := c.recordCommit(ctx, sess, iss, result); err != nil {
			return false, err
		}
	case remediation.OutcomeSkipped:
		if err := issue.Skip(iss); err != nil {
			return false, err
		}
	default:
		if err := issue.RecordFailure(iss, sess.Config.MaxRetries); err != nil {
			return false, err
		}
		c.log(ctx).Warn("remediation attempt failed",
			zap.Int("retryCount", iss.RetryCount),
			zap.String("feedback", result.Feedback))
	}

	iss.UpdatedAt = time.Now()
	if err := c.store.UpdateIssue(ctx, iss); err != nil {
		return false, err
	}
	c.issuesCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(result.Outcome))))
	return false, nil
}

func (c *Controller) recordCommit(ctx context.Context, sess *session.Session, iss *issue.Issue, result *remediation.Result) error {
	if result.Commit == nil {
		return nil
	}
	return c.store.CreateCommit(ctx, &store.Commit{
		ID:           uuid.NewString(),
		SessionID:    sess.ID,
		IssueID:      iss.ID,
		Hash:         result.Commit.Hash,
		Message:      result.Commit.Message,
		DiffContent:  result.Commit.DiffContent,
		FilesChanged: result.Commit.FilesChanged,
		LinesAdded:   result.Commit.LinesAdded,
		LinesRemoved: result.Commit.LinesRemoved,
		CreatedAt:    time.Now(),
	})
}

// waitIfPaused parks the run at an issue boundary until Resume or Stop.
func (c *Controller) waitIfPaused(ctx context.Context, sess *session.Session) error {
	c.mu.Lock()
	paused := c.paused
	resume := c.resume
	c.mu.Unlock()
	if !paused {
		return nil
	}

	if err := c.transition(ctx, sess, session.StatusPaused); err != nil {
		return err
	}
	c.publishSession(sess)
	c.log(ctx).Info("session paused")

	select {
	case <-resume:
		if err := c.transition(ctx, sess, session.StatusRunning); err != nil {
			return err
		}
		c.publishSession(sess)
		c.log(ctx).Info("session resumed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishInterrupted settles the terminal status after a timeout or stop.
func (c *Controller) finishInterrupted(ctx context.Context, sess *session.Session) error {
	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()

	target := session.StatusTimeout
	if stopping {
		target = session.StatusStopped
	}
	// A pause survives until the stop or timeout lands.
	if sess.Status == session.StatusPaused {
		target = session.StatusStopped
	}

	if err := c.transition(ctx, sess, target); err != nil {
		return err
	}
	c.log(ctx).Info("session interrupted", zap.String("status", string(sess.Status)))
	return nil
}

func (c *Controller) fail(ctx context.Context, sess *session.Session, cause error) error {
	if err := c.transition(ctx, sess, session.StatusFailed); err != nil {
		c.log(ctx).Error("failed to mark session failed", zap.Error(err))
	}
	c.log(ctx).Error("session failed", zap.Error(cause))
	return cause
}

// start re-enters RUNNING, accepting sessions persisted mid-run or after an
// interruption so a restarted run resumes the backlog.
func (c *Controller) start(ctx context.Context, sess *session.Session) error {
	if err := sess.Restart(); err != nil {
		return err
	}
	return c.store.UpdateSession(context.WithoutCancel(ctx), sess)
}

// log returns the controller logger enriched with the trace, session, and
// issue correlation fields carried by the context.
func (c *Controller) log(ctx context.Context) *zap.Logger {
	return c.logger.With(logging.ContextFields(ctx)...)
}

// transition applies a session transition and persists it. Persistence uses
// a detached context so terminal states land even after cancellation.
func (c *Controller) transition(ctx context.Context, sess *session.Session, to session.Status) error {
	if err := sess.Transition(to); err != nil {
		return err
	}
	return c.store.UpdateSession(context.WithoutCancel(ctx), sess)
}

func (c *Controller) refreshCounters(ctx context.Context, sess *session.Session) error {
	issues, err := c.store.ListIssues(context.WithoutCancel(ctx), store.IssueFilter{SessionID: sess.ID})
	if err != nil {
		return err
	}
	sess.Counters = session.Recompute(issues)
	sess.UpdatedAt = time.Now()
	return c.store.UpdateSession(context.WithoutCancel(ctx), sess)
}

func (c *Controller) publishIssueProgress(ctx context.Context, sess *session.Session, iss *issue.Issue) {
	c.sink.Publish(ctx, events.Event{
		SessionID: sess.ID,
		Phase:     events.PhaseRemediate,
		Status:    string(iss.Status),
		Current:   iss.FilePath,
		Total:     sess.Counters.TotalIssues,
		Resolved:  sess.Counters.ResolvedIssues,
		Failed:    sess.Counters.FailedIssues,
		Skipped:   sess.Counters.SkippedIssues,
		Timestamp: time.Now(),
	})
}

func (c *Controller) publishSession(sess *session.Session) {
	c.sink.Publish(context.Background(), events.Event{
		SessionID: sess.ID,
		Phase:     events.PhaseSession,
		Status:    string(sess.Status),
		Total:     sess.Counters.TotalIssues,
		Resolved:  sess.Counters.ResolvedIssues,
		Failed:    sess.Counters.FailedIssues,
		Skipped:   sess.Counters.SkippedIssues,
		Timestamp: time.Now(),
	})
}
