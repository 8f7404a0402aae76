package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/codesweep/internal/issue"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
	StatusTimeout   Status = "timeout"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped, StatusTimeout:
		return true
	}
	return false
}

// Resumable reports whether a persisted status can re-enter RUNNING on a
// restarted run. A session persisted as RUNNING or PAUSED was interrupted by
// a crash; TIMEOUT and STOPPED are operator-resumable. COMPLETED and FAILED
// are final.
func (s Status) Resumable() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusTimeout, StatusStopped:
		return true
	}
	return false
}

// Errors for session transitions.
var (
	ErrInvalidTransition = errors.New("invalid session transition")
)

var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusStopped, StatusFailed},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusStopped, StatusTimeout},
	StatusPaused:  {StatusRunning, StatusStopped},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Config holds the per-session remediation settings. Numeric policies (turn
// budget, retry budget, compression thresholds) live here rather than in
// code; DefaultConfig documents the defaults.
type Config struct {
	// Provider names the LLM provider (e.g. "claude", "openai", "ollama").
	Provider string `json:"provider" koanf:"provider"`

	// Model is the provider-specific model identifier.
	Model string `json:"model" koanf:"model"`

	// MaxRetries bounds remediation attempts per issue.
	MaxRetries int `json:"max_retries" koanf:"max_retries"`

	// MaxTurns bounds LLM tool-call turns per attempt.
	MaxTurns int `json:"max_turns" koanf:"max_turns"`

	// TimeoutMinutes bounds the session's wall-clock runtime.
	TimeoutMinutes int `json:"timeout_minutes" koanf:"timeout_minutes"`

	// AnalysisTypes selects which issue types to scan for. Empty means all.
	AnalysisTypes []issue.Type `json:"analysis_types" koanf:"analysis_types"`

	// Exclude lists glob patterns skipped during snapshot walks.
	Exclude []string `json:"exclude" koanf:"exclude"`

	// VerificationCommands run after each proposed patch; exit 0 passes.
	// Each is optional: an empty list means patches are accepted unverified.
	VerificationCommands []string `json:"verification_commands" koanf:"verification_commands"`

	// CheckpointInterval is how many processed issues between checkpoints.
	CheckpointInterval int `json:"checkpoint_interval" koanf:"checkpoint_interval"`

	// PromptTokenBudget bounds the code context embedded in prompts.
	PromptTokenBudget int `json:"prompt_token_budget" koanf:"prompt_token_budget"`

	// CommandTimeoutSeconds bounds each tool or verification command.
	CommandTimeoutSeconds int `json:"command_timeout_seconds" koanf:"command_timeout_seconds"`

	// MaxCommandOutputBytes caps captured command output fed back to the
	// model.
	MaxCommandOutputBytes int `json:"max_command_output_bytes" koanf:"max_command_output_bytes"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:              "claude",
		MaxRetries:            3,
		MaxTurns:              10,
		TimeoutMinutes:        60,
		CheckpointInterval:    5,
		PromptTokenBudget:     8000,
		CommandTimeoutSeconds: 120,
		MaxCommandOutputBytes: 64 * 1024,
	}
}

// Validate checks config invariants.
func (c *Config) Validate() error {
	if c.MaxRetries < 1 {
		return errors.New("max_retries must be at least 1")
	}
	if c.MaxTurns < 1 {
		return errors.New("max_turns must be at least 1")
	}
	if c.TimeoutMinutes < 1 {
		return errors.New("timeout_minutes must be at least 1")
	}
	if c.CheckpointInterval < 1 {
		return errors.New("checkpoint_interval must be at least 1")
	}
	for _, t := range c.AnalysisTypes {
		if !t.Valid() {
			return fmt.Errorf("unknown analysis type: %s", t)
		}
	}
	return nil
}

// Counters summarizes issue dispositions. Counters are recomputed from the
// issue collection on each transition, never incrementally mutated, so they
// cannot drift from store truth.
type Counters struct {
	TotalIssues    int `json:"total_issues"`
	ResolvedIssues int `json:"resolved_issues"`
	FailedIssues   int `json:"failed_issues"`
	SkippedIssues  int `json:"skipped_issues"`
}

// Recompute derives counters from an issue collection.
func Recompute(issues []*issue.Issue) Counters {
	var c Counters
	c.TotalIssues = len(issues)
	for _, i := range issues {
		switch i.Status {
		case issue.StatusResolved:
			c.ResolvedIssues++
		case issue.StatusFailed:
			c.FailedIssues++
		case issue.StatusSkipped:
			c.SkippedIssues++
		}
	}
	return c
}

// Session is one remediation run against one repository checkout. It is
// owned exclusively by the session controller and mutated only through
// controller-mediated transitions.
type Session struct {
	ID             string    `json:"id"`
	RepositoryPath string    `json:"repository_path"`
	Branch         string    `json:"branch"`
	CleaningBranch string    `json:"cleaning_branch"`
	Status         Status    `json:"status"`
	Config         Config    `json:"config"`
	Counters       Counters  `json:"counters"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
}

// New creates a pending session for the given checkout.
func New(id, repositoryPath, branch string, cfg Config) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             id,
		RepositoryPath: repositoryPath,
		Branch:         branch,
		Status:         StatusPending,
		Config:         cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Restart moves a resumable session back to RUNNING so a restarted run can
// continue from the persisted backlog and checkpoint cursor. Unlike
// Transition it accepts the interrupted statuses and clears the finish
// timestamp of a resumed TIMEOUT or STOPPED session.
func (s *Session) Restart() error {
	if !s.Status.Resumable() {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.Status, StatusRunning)
	}
	now := time.Now().UTC()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	s.FinishedAt = time.Time{}
	s.Status = StatusRunning
	s.UpdatedAt = now
	return nil
}

// Transition moves the session to a new status, enforcing the state machine.
func (s *Session) Transition(to Status) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s.Status, to)
	}
	now := time.Now().UTC()
	if to == StatusRunning && s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	if to.Terminal() {
		s.FinishedAt = now
	}
	s.Status = to
	s.UpdatedAt = now
	return nil
}
