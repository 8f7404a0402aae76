package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
	"github.com/fyrsmithlabs/codesweep/internal/plugin"
	"github.com/fyrsmithlabs/codesweep/internal/session"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
)

const instrumentationName = "github.com/fyrsmithlabs/codesweep/internal/orchestrator"

// Stage identifies a progress callback event.
type Stage string

const (
	StageAnalyzerStart    Stage = "analyzer_start"
	StageAnalyzerComplete Stage = "analyzer_complete"
	StageMergeComplete    Stage = "merge_complete"
)

// Progress is one progress report. Completed counts finished analyzers out
// of Total; Analyzer names the analyzer the event concerns (empty for the
// merge event).
type Progress struct {
	Stage     Stage
	Completed int
	Total     int
	Analyzer  string
}

// ProgressCallback receives progress updates during an analysis run. The
// callback is the orchestrator's only observable side effect besides the
// returned result; it is never a control channel.
type ProgressCallback func(p Progress)

// Warning records one isolated analyzer failure. The run continues without
// the failed analyzer's findings.
type Warning struct {
	Analyzer string `json:"analyzer"`
	Message  string `json:"message"`
}

// AnalysisResult is the merged outcome of one analysis run.
type AnalysisResult struct {
	// Findings are merged, deduplicated, and stably ordered by file path,
	// start line, then severity descending.
	Findings []*issue.Issue

	// Warnings lists analyzers that failed in isolation.
	Warnings []Warning

	// Analyzers is the number of analyzers that ran.
	Analyzers int

	Duration time.Duration
}

// Config configures the orchestrator.
type Config struct {
	// Concurrency bounds parallel analyzer execution (default: 4).
	Concurrency int

	// Snapshot bounds the repository view shared by all analyzers.
	Snapshot snapshot.Options
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: 4,
		Snapshot:    snapshot.DefaultOptions(),
	}
}

// Orchestrator runs the configured analyzer set over repository snapshots.
type Orchestrator struct {
	config   *Config
	registry *plugin.Registry
	logger   *zap.Logger

	tracer           trace.Tracer
	meter            metric.Meter
	runCounter       metric.Int64Counter
	findingCounter   metric.Int64Counter
	analyzerFailures metric.Int64Counter
}

// New creates an orchestrator over the given registry.
func New(cfg *Config, registry *plugin.Registry, logger *zap.Logger) (*Orchestrator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		config:   cfg,
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	o.initMetrics()
	return o, nil
}

func (o *Orchestrator) initMetrics() {
	var err error

	o.runCounter, err = o.meter.Int64Counter(
		"codesweep.analysis.runs_total",
		metric.WithDescription("Total number of analysis runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		o.logger.Warn("failed to create run counter", zap.Error(err))
	}

	o.findingCounter, err = o.meter.Int64Counter(
		"codesweep.analysis.findings_total",
		metric.WithDescription("Total number of merged findings"),
		metric.WithUnit("{finding}"),
	)
	if err != nil {
		o.logger.Warn("failed to create finding counter", zap.Error(err))
	}

	o.analyzerFailures, err = o.meter.Int64Counter(
		"codesweep.analysis.analyzer_failures_total",
		metric.WithDescription("Total number of isolated analyzer failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		o.logger.Warn("failed to create failure counter", zap.Error(err))
	}
}

// analyzerOutcome holds one analyzer's result, indexed by position so the
// merge is deterministic regardless of completion order.
type analyzerOutcome struct {
	findings []*issue.Issue
	err      error
}

// Analyze runs every enabled analyzer against a fresh snapshot of the
// repository and merges the findings. Failure of one analyzer is caught
// and reported as a warning, never aborting the others. Re-running against
// an unchanged repository yields an identical result.
func (o *Orchestrator) Analyze(ctx context.Context, repoPath string, cfg session.Config, progress ProgressCallback) (*AnalysisResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.analyze")
	defer span.End()
	span.SetAttributes(attribute.String("repository", repoPath))

	start := time.Now()

	snapOpts := o.config.Snapshot
	snapOpts.Exclude = append(append([]string(nil), snapOpts.Exclude...), cfg.Exclude...)
	snap, err := snapshot.New(repoPath, snapOpts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to snapshot repository: %w", err)
	}

	analyzers := o.registry.ListFor(cfg.AnalysisTypes)
	span.SetAttributes(attribute.Int("analyzer_count", len(analyzers)))

	if progress == nil {
		progress = func(Progress) {}
	}
	// Callbacks may fire from analyzer goroutines; serialize them.
	var progressMu sync.Mutex
	report := func(p Progress) {
		progressMu.Lock()
		defer progressMu.Unlock()
		progress(p)
	}

	outcomes := make([]analyzerOutcome, len(analyzers))
	sem := make(chan struct{}, o.config.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	for n, a := range analyzers {
		mu.Lock()
		done := completed
		mu.Unlock()
		report(Progress{Stage: StageAnalyzerStart, Completed: done, Total: len(analyzers), Analyzer: a.Name()})

		wg.Add(1)
		go func(n int, a plugin.Analyzer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			findings, err := o.runAnalyzer(ctx, a, snap)
			outcomes[n] = analyzerOutcome{findings: findings, err: err}

			mu.Lock()
			completed++
			done := completed
			mu.Unlock()
			report(Progress{Stage: StageAnalyzerComplete, Completed: done, Total: len(analyzers), Analyzer: a.Name()})
		}(n, a)
	}
	wg.Wait()

	result := &AnalysisResult{Analyzers: len(analyzers)}
	var merged []*issue.Issue
	for n, a := range analyzers {
		out := outcomes[n]
		if out.err != nil {
			o.logger.Warn("analyzer failed",
				zap.String("analyzer", a.Name()),
				zap.Error(out.err),
			)
			if o.analyzerFailures != nil {
				o.analyzerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("analyzer", a.Name())))
			}
			result.Warnings = append(result.Warnings, Warning{Analyzer: a.Name(), Message: out.err.Error()})
			continue
		}
		for _, f := range out.findings {
			f.Source = a.Name()
			merged = mergeFinding(merged, f)
		}
	}

	issue.SortFindings(merged)
	result.Findings = merged
	result.Duration = time.Since(start)

	report(Progress{Stage: StageMergeComplete, Completed: len(analyzers), Total: len(analyzers)})

	if o.runCounter != nil {
		o.runCounter.Add(ctx, 1)
	}
	if o.findingCounter != nil {
		o.findingCounter.Add(ctx, int64(len(merged)))
	}

	o.logger.Info("analysis complete",
		zap.Int("analyzers", len(analyzers)),
		zap.Int("findings", len(merged)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Duration("duration", result.Duration),
	)

	span.SetAttributes(
		attribute.Int("finding_count", len(merged)),
		attribute.Int("warning_count", len(result.Warnings)),
	)
	return result, nil
}

// runAnalyzer executes one analyzer, converting panics into errors so a
// misbehaving plugin cannot take down the run.
func (o *Orchestrator) runAnalyzer(ctx context.Context, a plugin.Analyzer, snap *snapshot.Snapshot) (findings []*issue.Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			findings = nil
			err = fmt.Errorf("analyzer panicked: %v", r)
		}
	}()

	ctx, span := o.tracer.Start(ctx, "orchestrator.run_analyzer",
		trace.WithAttributes(attribute.String("analyzer", a.Name())))
	defer span.End()

	findings, err = a.Detect(ctx, snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return findings, err
}

// mergeFinding folds f into the merged set: two findings sharing file
// path, overlapping line spans, and type are the same logical issue.
func mergeFinding(merged []*issue.Issue, f *issue.Issue) []*issue.Issue {
	for _, existing := range merged {
		if existing.FilePath == f.FilePath && existing.Type == f.Type && existing.Span.Overlaps(f.Span) {
			issue.Merge(existing, f)
			return merged
		}
	}
	return append(merged, f)
}
