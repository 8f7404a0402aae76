package remediation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/gitops"
	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/llm"
	"github.com/fyrsmithlabs/codesweep/internal/logging"
	"github.com/fyrsmithlabs/codesweep/internal/session"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
	"github.com/fyrsmithlabs/codesweep/internal/toolexec"
)

const instrumentationName = "github.com/fyrsmithlabs/codesweep/internal/remediation"

var ErrNoProvider = errors.New("no model provider configured")

// Outcome is the result of one remediation attempt.
type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeFailed   Outcome = "failed"
	OutcomeSkipped  Outcome = "skipped"
)

// Result reports one processed issue.
type Result struct {
	Outcome Outcome
	// Commit is set when the attempt produced a verified, committed fix.
	Commit *gitops.CommitResult
	// Turns is the number of model turns consumed.
	Turns int
	// Feedback carries the failure or skip detail for the issue record.
	Feedback string
}

// Committer records a verified fix. *gitops.Manager satisfies it.
type Committer interface {
	Commit(ctx context.Context, opts gitops.CommitOptions) *gitops.CommitResult
}

// Loop processes one issue at a time against a single working copy.
type Loop struct {
	provider  llm.Provider
	snap      *snapshot.Snapshot
	committer Committer
	cfg       session.Config
	logger    *zap.Logger

	tracer trace.Tracer

	attemptCounter  metric.Int64Counter
	resolvedCounter metric.Int64Counter
	failedCounter   metric.Int64Counter
}

// NewLoop creates a remediation loop for one session.
func NewLoop(provider llm.Provider, snap *snapshot.Snapshot, committer Committer, cfg session.Config, logger *zap.Logger) (*Loop, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter(instrumentationName)
	attempts, err := meter.Int64Counter("codesweep.remediation.attempts",
		metric.WithDescription("Remediation attempts started"))
	if err != nil {
		return nil, fmt.Errorf("failed to create attempts counter: %w", err)
	}
	resolved, err := meter.Int64Counter("codesweep.remediation.resolved",
		metric.WithDescription("Issues resolved with a committed fix"))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolved counter: %w", err)
	}
	failed, err := meter.Int64Counter("codesweep.remediation.failed",
		metric.WithDescription("Remediation attempts that failed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create failed counter: %w", err)
	}

	return &Loop{
		provider:        provider,
		snap:            snap,
		committer:       committer,
		cfg:             cfg,
		logger:          logger,
		tracer:          otel.Tracer(instrumentationName),
		attemptCounter:  attempts,
		resolvedCounter: resolved,
		failedCounter:   failed,
	}, nil
}

// Process runs one bounded attempt against the issue. The working copy is
// exclusively owned for the duration of the call; on any non-resolved
// outcome every patch applied during the attempt is rolled back.
func (l *Loop) Process(ctx context.Context, iss *issue.Issue) *Result {
	ctx, span := l.tracer.Start(ctx, "remediation.Process",
		trace.WithAttributes(
			attribute.String("issue.id", iss.ID),
			attribute.String("issue.type", string(iss.Type)),
			attribute.String("issue.severity", string(iss.Severity)),
		))
	defer span.End()
	ctx = logging.WithIssueID(ctx, iss.ID)
	log := l.logger.With(logging.ContextFields(ctx)...)
	l.attemptCounter.Add(ctx, 1)

	exec := toolexec.New(l.snap, toolOptions(l.cfg), l.logger)
	result := l.run(ctx, iss, exec)

	if result.Outcome != OutcomeResolved {
		if err := exec.RevertPatches(); err != nil {
			log.Error("failed to roll back patches", zap.Error(err))
		}
		l.failedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", string(result.Outcome))))
	} else {
		l.resolvedCounter.Add(ctx, 1)
	}

	log.Info("issue processed",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("turns", result.Turns))
	return result
}

// toolOptions derives the executor bounds from the session config, falling
// back to the executor defaults for unset fields.
func toolOptions(cfg session.Config) toolexec.Options {
	opts := toolexec.DefaultOptions()
	if cfg.CommandTimeoutSeconds > 0 {
		opts.CommandTimeout = time.Duration(cfg.CommandTimeoutSeconds) * time.Second
	}
	if cfg.MaxCommandOutputBytes > 0 {
		opts.MaxOutputSize = cfg.MaxCommandOutputBytes
	}
	return opts
}

func (l *Loop) run(ctx context.Context, iss *issue.Issue, exec *toolexec.Executor) *Result {
	fileContent, err := l.snap.Read(iss.FilePath)
	if err != nil {
		l.logger.With(logging.ContextFields(ctx)...).Warn("issue file unreadable, prompting without context",
			zap.String("path", iss.FilePath), zap.Error(err))
		fileContent = ""
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: buildIssuePrompt(iss, fileContent, l.cfg.PromptTokenBudget)},
	}
	tools := toolexec.Catalog()

	correctiveUsed := false
	turns := 0
	for turns < l.cfg.MaxTurns {
		if err := ctx.Err(); err != nil {
			return &Result{Outcome: OutcomeFailed, Turns: turns, Feedback: err.Error()}
		}
		turns++

		resp, err := l.provider.Complete(ctx, &llm.Request{
			Model:    l.cfg.Model,
			Messages: messages,
			Tools:    tools,
		})
		if err != nil {
			return &Result{Outcome: OutcomeFailed, Turns: turns,
				Feedback: fmt.Sprintf("model call failed: %v", err)}
		}

		if len(resp.ToolCalls) > 0 {
			messages = append(messages, llm.Message{
				Role: llm.RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				output, err := exec.Execute(ctx, call)
				if err != nil {
					// Tool errors are feedback, never fatal.
					output = fmt.Sprintf("tool error: %v", err)
				}
				messages = append(messages, llm.Message{
					Role: llm.RoleTool, ToolCallID: call.ID, Content: output,
				})
			}
			continue
		}

		// No tool calls: terminal action.
		if strings.HasPrefix(strings.TrimSpace(resp.Text), "SKIP:") {
			reason := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(resp.Text), "SKIP:"))
			return &Result{Outcome: OutcomeSkipped, Turns: turns, Feedback: reason}
		}

		if len(exec.PatchedFiles()) == 0 {
			return &Result{Outcome: OutcomeFailed, Turns: turns,
				Feedback: "model finished without proposing a patch"}
		}

		failure, err := l.verify(ctx, exec)
		if err != nil {
			return &Result{Outcome: OutcomeFailed, Turns: turns,
				Feedback: fmt.Sprintf("verification could not run: %v", err)}
		}
		if failure == "" {
			return l.commit(ctx, iss, exec, turns)
		}

		if correctiveUsed {
			return &Result{Outcome: OutcomeFailed, Turns: turns,
				Feedback: "verification failed after corrective retry:\n" + failure}
		}
		correctiveUsed = true
		if err := exec.RevertPatches(); err != nil {
			return &Result{Outcome: OutcomeFailed, Turns: turns,
				Feedback: fmt.Sprintf("failed to roll back unverified patch: %v", err)}
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})
		messages = append(messages, llm.Message{
			Role: llm.RoleUser,
			Content: "Your patch was rolled back because verification failed. Fix the problem and try again.\n\n" +
				failure,
		})
	}

	return &Result{Outcome: OutcomeFailed, Turns: turns, Feedback: "turn budget exhausted"}
}

// verify runs the configured project commands in order. It returns the
// captured output of the first failing command, or "" when all pass.
func (l *Loop) verify(ctx context.Context, exec *toolexec.Executor) (string, error) {
	for _, command := range l.cfg.VerificationCommands {
		output, code, err := l.exec(ctx, exec, command)
		if err != nil {
			if errors.Is(err, toolexec.ErrCommandTimeout) {
				return fmt.Sprintf("$ %s\ntimed out\n%s", command, output), nil
			}
			return "", err
		}
		if code != 0 {
			return fmt.Sprintf("$ %s\nexit status %d\n%s", command, code, output), nil
		}
	}
	return "", nil
}

func (l *Loop) exec(ctx context.Context, exec *toolexec.Executor, command string) (string, int, error) {
	ctx, span := l.tracer.Start(ctx, "remediation.verify",
		trace.WithAttributes(attribute.String("command", command)))
	defer span.End()
	return exec.RunCommand(ctx, command)
}

func (l *Loop) commit(ctx context.Context, iss *issue.Issue, exec *toolexec.Executor, turns int) *Result {
	message := fmt.Sprintf("fix(%s): %s\n\n%s in %s", iss.Type, firstLine(iss.Message), iss.Severity, iss.FilePath)
	result := l.committer.Commit(ctx, gitops.CommitOptions{Message: message})
	if !result.Success {
		return &Result{Outcome: OutcomeFailed, Turns: turns,
			Feedback: "commit failed: " + result.Err}
	}
	exec.CommitPatches()
	return &Result{Outcome: OutcomeResolved, Commit: result, Turns: turns}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
