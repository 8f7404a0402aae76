package issue

import (
	"testing"
)

func newPending(id, path string, sev Severity, start, end int) *Issue {
	return &Issue{
		ID:        id,
		SessionID: "s1",
		Type:      TypeBug,
		Severity:  sev,
		Category:  CategoryError,
		Source:    "test-analyzer",
		FilePath:  path,
		Span:      Span{StartLine: start, EndLine: end},
		Status:    StatusPending,
	}
}

func TestClaim(t *testing.T) {
	i := newPending("i1", "a.go", SeverityHigh, 1, 3)

	if err := Claim(i); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if i.Status != StatusInProgress {
		t.Errorf("Status = %s, want %s", i.Status, StatusInProgress)
	}

	// Second claim must fail: the claim is exclusive.
	if err := Claim(i); err == nil {
		t.Error("expected error claiming an in-progress issue")
	}
}

func TestClaimTerminal(t *testing.T) {
	for _, status := range []Status{StatusResolved, StatusFailed, StatusSkipped} {
		i := newPending("i1", "a.go", SeverityLow, 1, 1)
		i.Status = status
		if err := Claim(i); err == nil {
			t.Errorf("Claim succeeded on %s issue", status)
		}
	}
}

func TestRecordFailure(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		maxRetries int
		wantStatus Status
		wantCount  int
	}{
		{"first failure returns to pending", 0, 3, StatusPending, 1},
		{"second failure returns to pending", 1, 3, StatusPending, 2},
		{"last retry still pending", 2, 3, StatusPending, 3},
		{"failure beyond the retry budget is terminal", 3, 3, StatusFailed, 4},
		{"maxRetries zero fails immediately", 0, 0, StatusFailed, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := newPending("i1", "a.go", SeverityMedium, 5, 5)
			i.RetryCount = tt.retryCount
			if err := Claim(i); err != nil {
				t.Fatalf("Claim failed: %v", err)
			}
			if err := RecordFailure(i, tt.maxRetries); err != nil {
				t.Fatalf("RecordFailure failed: %v", err)
			}
			if i.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", i.Status, tt.wantStatus)
			}
			if i.RetryCount != tt.wantCount {
				t.Errorf("RetryCount = %d, want %d", i.RetryCount, tt.wantCount)
			}
		})
	}
}

func TestRetryBudgetNeverLeavesPendingTerminal(t *testing.T) {
	// An issue that reaches retryCount >= maxRetries must end failed,
	// never pending.
	i := newPending("i1", "a.go", SeverityCritical, 1, 2)
	maxRetries := 2
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := Claim(i); err != nil {
			t.Fatalf("attempt %d: Claim failed: %v", attempt, err)
		}
		if err := RecordFailure(i, maxRetries); err != nil {
			t.Fatalf("attempt %d: RecordFailure failed: %v", attempt, err)
		}
	}
	if i.Status != StatusFailed {
		t.Errorf("Status = %s, want %s", i.Status, StatusFailed)
	}
	if i.RetryCount != maxRetries+1 {
		t.Errorf("RetryCount = %d, want %d", i.RetryCount, maxRetries+1)
	}
}

func TestRelease(t *testing.T) {
	i := newPending("i1", "a.go", SeverityLow, 1, 1)
	if err := Claim(i); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := Release(i); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if i.Status != StatusPending {
		t.Errorf("Status = %s, want %s", i.Status, StatusPending)
	}
	if i.RetryCount != 0 {
		t.Errorf("Release must not count an attempt, RetryCount = %d", i.RetryCount)
	}
}

func TestSortBacklog(t *testing.T) {
	// Severity [low, critical, high] on paths [b.go, a.go, a.go]:
	// critical first, then high, then low; ties broken by path.
	issues := []*Issue{
		newPending("low", "b.go", SeverityLow, 1, 1),
		newPending("crit", "a.go", SeverityCritical, 10, 12),
		newPending("high", "a.go", SeverityHigh, 2, 4),
	}
	SortBacklog(issues)

	got := []string{issues[0].ID, issues[1].ID, issues[2].ID}
	want := []string{"crit", "high", "low"}
	for n := range want {
		if got[n] != want[n] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSpanOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Span
		want bool
	}{
		{"identical", Span{StartLine: 1, EndLine: 3}, Span{StartLine: 1, EndLine: 3}, true},
		{"partial", Span{StartLine: 1, EndLine: 5}, Span{StartLine: 4, EndLine: 8}, true},
		{"contained", Span{StartLine: 1, EndLine: 10}, Span{StartLine: 3, EndLine: 4}, true},
		{"adjacent lines", Span{StartLine: 1, EndLine: 3}, Span{StartLine: 4, EndLine: 6}, false},
		{"disjoint", Span{StartLine: 1, EndLine: 2}, Span{StartLine: 20, EndLine: 22}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps (reversed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	existing := newPending("i1", "a.go", SeverityMedium, 5, 8)
	existing.Message = "medium message"
	existing.RetryCount = 2

	incoming := newPending("i2", "a.go", SeverityCritical, 4, 6)
	incoming.Message = "critical message"
	incoming.Source = "other-analyzer"

	Merge(existing, incoming)

	if existing.Severity != SeverityCritical {
		t.Errorf("Severity = %s, want %s", existing.Severity, SeverityCritical)
	}
	if existing.Message != "critical message" {
		t.Errorf("Message = %q, want highest-severity contributor's", existing.Message)
	}
	if existing.Span.StartLine != 4 || existing.Span.EndLine != 8 {
		t.Errorf("Span = %+v, want widened to 4..8", existing.Span)
	}
	if existing.RetryCount != 2 {
		t.Errorf("RetryCount = %d, merge must preserve it", existing.RetryCount)
	}
	if existing.Status != StatusPending {
		t.Errorf("Status = %s, merge must preserve it", existing.Status)
	}
}

func TestMergeLowerSeverityKeepsMessage(t *testing.T) {
	existing := newPending("i1", "a.go", SeverityHigh, 5, 8)
	existing.Message = "high message"

	incoming := newPending("i2", "a.go", SeverityLow, 5, 8)
	incoming.Message = "low message"

	Merge(existing, incoming)

	if existing.Severity != SeverityHigh {
		t.Errorf("Severity = %s, want %s", existing.Severity, SeverityHigh)
	}
	if existing.Message != "high message" {
		t.Errorf("Message = %q, want existing message kept", existing.Message)
	}
}

func TestMergeTerminalUntouched(t *testing.T) {
	existing := newPending("i1", "a.go", SeverityLow, 5, 8)
	existing.Status = StatusResolved

	incoming := newPending("i2", "a.go", SeverityCritical, 5, 8)
	Merge(existing, incoming)

	if existing.Severity != SeverityLow || existing.Status != StatusResolved {
		t.Error("merge must not modify a terminal issue")
	}
}
