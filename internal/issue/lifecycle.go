package issue

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Errors for issue lifecycle operations.
var (
	ErrInvalidTransition = errors.New("invalid issue transition")
	ErrAlreadyClaimed    = errors.New("issue already claimed")
	ErrTerminal          = errors.New("issue is terminal")
)

// validTransitions maps each status to the statuses reachable from it.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusResolved, StatusFailed, StatusSkipped, StatusPending},
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

// Claim moves a pending issue to in_progress. The claim is exclusive:
// claiming an issue that is not pending fails.
func Claim(i *Issue) error {
	if i.Status == StatusInProgress {
		return fmt.Errorf("%w: %s", ErrAlreadyClaimed, i.ID)
	}
	if i.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, i.ID, i.Status)
	}
	i.Status = StatusInProgress
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// Resolve marks a claimed issue resolved.
func Resolve(i *Issue) error {
	return transition(i, StatusResolved)
}

// Skip marks a claimed issue skipped. Skipping is a normal outcome for
// findings that turn out not to be actionable.
func Skip(i *Issue) error {
	return transition(i, StatusSkipped)
}

// Release returns a claimed issue to pending without counting an attempt.
// Used when mid-issue work is abandoned (session timeout or stop).
func Release(i *Issue) error {
	return transition(i, StatusPending)
}

// RecordFailure accounts a failed remediation attempt. The issue returns to
// pending with RetryCount+1 while retries remain; once the incremented
// count exceeds maxRetries the issue is terminally failed. An issue is
// therefore attempted at most maxRetries+1 times.
func RecordFailure(i *Issue, maxRetries int) error {
	if i.Status != StatusInProgress {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, i.ID, i.Status)
	}
	i.RetryCount++
	if i.RetryCount > maxRetries {
		i.Status = StatusFailed
	} else {
		i.Status = StatusPending
	}
	i.UpdatedAt = time.Now().UTC()
	return nil
}

func transition(i *Issue, to Status) error {
	if i.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminal, i.ID, i.Status)
	}
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, i.Status, to)
	}
	i.Status = to
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// SortBacklog orders issues for processing: severity descending, then file
// path ascending, then start line ascending. The order is deterministic for
// a fixed backlog snapshot.
func SortBacklog(issues []*Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		ia, ib := issues[a], issues[b]
		if ia.Severity.Rank() != ib.Severity.Rank() {
			return ia.Severity.Rank() > ib.Severity.Rank()
		}
		if ia.FilePath != ib.FilePath {
			return ia.FilePath < ib.FilePath
		}
		return ia.Span.StartLine < ib.Span.StartLine
	})
}

// SortFindings orders merged findings for stable analysis results: file path
// ascending, then start line ascending, then severity descending.
func SortFindings(issues []*Issue) {
	sort.SliceStable(issues, func(a, b int) bool {
		ia, ib := issues[a], issues[b]
		if ia.FilePath != ib.FilePath {
			return ia.FilePath < ib.FilePath
		}
		if ia.Span.StartLine != ib.Span.StartLine {
			return ia.Span.StartLine < ib.Span.StartLine
		}
		return ia.Severity.Rank() > ib.Severity.Rank()
	})
}

// Merge folds a re-scanned finding into an existing issue with the same
// logical identity. Severity becomes the maximum of the two; the message and
// excerpt follow the highest-severity contributor; the span widens to cover
// both. Status and RetryCount are never touched, and terminal issues are
// left entirely alone so a re-scan cannot resurrect a dispositioned finding.
func Merge(existing, incoming *Issue) {
	if existing.Status.Terminal() {
		return
	}
	if incoming.Severity.Rank() > existing.Severity.Rank() {
		existing.Severity = incoming.Severity
		existing.Message = incoming.Message
		existing.Excerpt = incoming.Excerpt
		existing.Source = incoming.Source
		existing.Category = incoming.Category
	}
	if incoming.Span.StartLine < existing.Span.StartLine {
		existing.Span.StartLine = incoming.Span.StartLine
	}
	if incoming.Span.EndLine > existing.Span.EndLine {
		existing.Span.EndLine = incoming.Span.EndLine
	}
	existing.UpdatedAt = time.Now().UTC()
}
