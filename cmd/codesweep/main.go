// Codesweep scans a repository for code-quality defects and drives an
// LLM-backed fix loop over the backlog, recording every fix as a revertible
// commit on an isolated cleaning branch.
//
// Usage:
//
//	# Scan and remediate the current directory
//	codesweep -repo .
//
//	# Use a config file and custom analysis types
//	codesweep -config codesweep.yaml -repo /path/to/repo -types stub,dead_code
//
//	# Show version information
//	codesweep version
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/checkpoint"
	"github.com/fyrsmithlabs/codesweep/internal/config"
	"github.com/fyrsmithlabs/codesweep/internal/controller"
	"github.com/fyrsmithlabs/codesweep/internal/events"
	"github.com/fyrsmithlabs/codesweep/internal/gitops"
	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/llm"
	"github.com/fyrsmithlabs/codesweep/internal/logging"
	"github.com/fyrsmithlabs/codesweep/internal/orchestrator"
	"github.com/fyrsmithlabs/codesweep/internal/plugin"
	"github.com/fyrsmithlabs/codesweep/internal/session"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
	"github.com/fyrsmithlabs/codesweep/internal/store"
	"github.com/fyrsmithlabs/codesweep/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	repoPath := flag.String("repo", ".", "repository to scan and remediate")
	types := flag.String("types", "", "comma-separated analysis types (default: all)")
	scanOnly := flag.Bool("scan-only", false, "scan and persist findings without remediation")
	sessionID := flag.String("session", "", "resume an existing session by id")
	revertID := flag.String("revert", "", "revert a recorded commit by its store id (requires -session and -reason)")
	reason := flag.String("reason", "", "reason for the revert")
	hardReset := flag.Bool("hard-reset", false, "revert by resetting the branch instead of a new commit")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  codesweep [flags]     Scan and remediate a repository\n")
			fmt.Fprintf(os.Stderr, "  codesweep version     Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, stopping...", sig)
		cancel()
	}()

	opts := runOptions{
		configPath: *configPath,
		repoPath:   *repoPath,
		types:      *types,
		scanOnly:   *scanOnly,
		sessionID:  *sessionID,
		revertID:   *revertID,
		reason:     *reason,
		hardReset:  *hardReset,
	}
	if err := run(ctx, opts); err != nil {
		log.Fatalf("codesweep: %v", err)
	}
}

type runOptions struct {
	configPath string
	repoPath   string
	types      string
	scanOnly   bool
	sessionID  string
	revertID   string
	reason     string
	hardReset  bool
}

func printVersion() {
	fmt.Printf("codesweep by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

func run(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.types != "" {
		cfg.Session.AnalysisTypes = parseTypes(opts.types)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()
	if tel.Degraded() {
		logger.Warn("telemetry running degraded")
	}

	absRepo, err := filepath.Abs(opts.repoPath)
	if err != nil {
		return fmt.Errorf("failed to resolve repository path: %w", err)
	}

	registry, err := plugin.NewWithBuiltins()
	if err != nil {
		return fmt.Errorf("failed to build analyzer registry: %w", err)
	}
	if cfg.Plugins.Dir != "" {
		discovered, err := plugin.LoadDir(cfg.Plugins.Dir)
		if err != nil {
			return fmt.Errorf("failed to scan plugin directory: %w", err)
		}
		for _, perr := range discovered.Errors {
			logger.Warn("plugin rejected", zap.Error(perr))
		}
		for _, analyzer := range discovered.Plugins {
			if err := registry.Register(analyzer); err != nil {
				logger.Warn("plugin registration failed",
					zap.String("plugin", analyzer.Name()), zap.Error(err))
			}
		}
	}
	logger.Info("analyzers registered", zap.Strings("names", registry.Names()))

	st, err := store.NewFileStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if opts.revertID != "" {
		return runRevert(ctx, st, absRepo, opts, logger)
	}

	orch, err := orchestrator.New(&orchestrator.Config{
		Snapshot: snapshot.Options{
			MaxDepth:    cfg.Snapshot.MaxDepth,
			MaxFileSize: cfg.Snapshot.MaxFileSize,
		},
	}, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	sink := buildSink(cfg, logger)

	cps, err := checkpoint.NewWriter(filepath.Join(cfg.Store.Path, "checkpoints"), logger)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint directory: %w", err)
	}

	sess, err := resolveSession(ctx, st, opts.sessionID, absRepo, cfg.Session, logger)
	if err != nil {
		return err
	}

	if opts.scanOnly {
		return runScanOnly(ctx, orch, st, sess, sink, logger)
	}

	provider, err := llm.NewProvider(cfg.Session.Provider)
	if err != nil {
		return fmt.Errorf("failed to initialize model provider: %w", err)
	}

	ctrl, err := controller.New(controller.Config{
		Store:       st,
		Orch:        orch,
		Factory:     controller.GitProcessorFactory(provider, logger),
		Checkpoints: cps,
		Events:      sink,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build controller: %w", err)
	}

	// A signal stops the session cooperatively; the run loop settles the
	// terminal state before returning.
	runCtx := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(runCtx, sess) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := ctrl.Stop(); err != nil {
			logger.Warn("stop request failed", zap.Error(err))
		}
		return <-done
	}
}

// runRevert undoes one recorded commit and flags it in the store.
func runRevert(ctx context.Context, st store.Store, repoPath string, opts runOptions, logger *zap.Logger) error {
	if opts.sessionID == "" {
		return fmt.Errorf("-revert requires -session")
	}
	if opts.reason == "" {
		return fmt.Errorf("-revert requires -reason")
	}

	commits, err := st.ListCommits(ctx, opts.sessionID)
	if err != nil {
		return fmt.Errorf("failed to list commits: %w", err)
	}
	var target *store.Commit
	for _, c := range commits {
		if c.ID == opts.revertID || c.Hash == opts.revertID {
			target = c
			break
		}
	}
	if target == nil {
		return fmt.Errorf("commit %s not found in session %s", opts.revertID, opts.sessionID)
	}
	if target.Reverted {
		return fmt.Errorf("commit %s is already reverted", target.ID)
	}

	mgr, err := gitops.Open(repoPath, logger)
	if err != nil {
		return err
	}
	result, err := mgr.Revert(ctx, gitops.RevertOptions{
		Hash:      target.Hash,
		Reason:    opts.reason,
		HardReset: opts.hardReset,
	})
	if err != nil {
		return fmt.Errorf("revert failed: %w", err)
	}
	if err := st.MarkReverted(ctx, target.ID, result.RevertHash, opts.reason); err != nil {
		return fmt.Errorf("revert applied but not recorded: %w", err)
	}

	logger.Info("commit reverted",
		zap.String("commitID", target.ID),
		zap.String("hash", target.Hash),
		zap.String("revertHash", result.RevertHash))
	return nil
}

func resolveSession(ctx context.Context, st store.Store, sessionID, repoPath string, cfg session.Config, logger *zap.Logger) (*session.Session, error) {
	if sessionID != "" {
		sess, err := st.GetSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
		}
		logger.Info("resuming session", zap.String("sessionID", sess.ID))
		return sess, nil
	}

	branch := "main"
	if mgr, err := gitops.Open(repoPath, logger); err == nil {
		if current, err := mgr.CurrentBranch(); err == nil {
			branch = current
		}
	}

	sess := session.New(uuid.NewString(), repoPath, branch, cfg)
	sess.CleaningBranch = "codesweep/" + sess.ID[:8]
	if err := st.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	logger.Info("session created",
		zap.String("sessionID", sess.ID),
		zap.String("repository", repoPath),
		zap.String("cleaningBranch", sess.CleaningBranch))
	return sess, nil
}

// runScanOnly persists findings without touching the repository.
func runScanOnly(ctx context.Context, orch *orchestrator.Orchestrator, st store.Store, sess *session.Session, sink events.Sink, logger *zap.Logger) error {
	result, err := orch.Analyze(ctx, sess.RepositoryPath, sess.Config, func(p orchestrator.Progress) {
		sink.Publish(ctx, events.Event{
			SessionID: sess.ID,
			Phase:     events.PhaseScan,
			Status:    string(p.Stage),
			Current:   p.Analyzer,
			Total:     p.Total,
		})
	})
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if err := controller.SyncFindings(ctx, st, sess, result.Findings); err != nil {
		return fmt.Errorf("failed to persist findings: %w", err)
	}

	logger.Info("scan complete",
		zap.String("sessionID", sess.ID),
		zap.Int("findings", len(result.Findings)),
		zap.Int("analyzers", result.Analyzers),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Duration))
	for _, w := range result.Warnings {
		logger.Warn("analyzer failed", zap.String("analyzer", w.Analyzer), zap.String("message", w.Message))
	}
	return nil
}

func buildSink(cfg *config.Config, logger *zap.Logger) events.Sink {
	sinks := events.Multi{events.LogSink{Logger: logger}}
	if cfg.Events.NATSURL != "" {
		nsink, err := events.NewNATSSink(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			logger.Warn("NATS sink unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, nsink)
		}
	}
	return sinks
}

func parseTypes(s string) []issue.Type {
	var out []issue.Type
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, issue.Type(part))
		}
	}
	return out
}
