package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"waypoint/api/internal/review"
)

func samplePayload(week int) review.SubmitPayload {
	return review.SubmitPayload{
		WeekYear:            2026,
		Week:                week,
		WeekStart:           "2026-08-24",
		WeekEnd:             "2026-08-30",
		Mood:                4,
		Wins:                []string{"Shipped the feature", "Kept the morning routine"},
		Challenges:          []string{"Too many meetings"},
		Learnings:           "Batching interruptions preserves focus.",
		AlignmentReflection: "The launch milestone moved forward.",
		NextWeekPriorities:  []string{"Ship v2"},
	}
}

func TestJournalLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureJournal("usr_1", "Avery"); err != nil {
		t.Fatalf("EnsureJournal() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "usr_1")); err != nil {
		t.Fatalf("journal directory missing: %v", err)
	}

	// idempotent
	if err := svc.EnsureJournal("usr_1", "Avery"); err != nil {
		t.Fatalf("EnsureJournal() second call error = %v", err)
	}

	commit, err := svc.CommitReview("usr_1", "Avery", samplePayload(35))
	if err != nil {
		t.Fatalf("CommitReview() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if commit.Message != "Weekly review 2026-W35" {
		t.Fatalf("unexpected commit message %q", commit.Message)
	}

	history, err := svc.History("usr_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits (init + review), got %d", len(history))
	}
	if history[0].Hash != commit.Hash {
		t.Fatalf("expected newest commit first, got %+v", history[0])
	}

	body, err := svc.ReviewAtHead("usr_1", 2026, 35)
	if err != nil {
		t.Fatalf("ReviewAtHead() error = %v", err)
	}
	if !strings.Contains(body, "Shipped the feature") {
		t.Fatalf("review body missing win:\n%s", body)
	}
	if !strings.Contains(body, "## Next week's priorities") {
		t.Fatalf("review body missing priorities section:\n%s", body)
	}
}

func TestResubmitSameWeekKeepsHistory(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureJournal("usr_1", "Avery"); err != nil {
		t.Fatalf("EnsureJournal() error = %v", err)
	}

	first := samplePayload(35)
	if _, err := svc.CommitReview("usr_1", "Avery", first); err != nil {
		t.Fatalf("CommitReview() error = %v", err)
	}

	second := samplePayload(35)
	second.Learnings = "Revised after reflection."
	if _, err := svc.CommitReview("usr_1", "Avery", second); err != nil {
		t.Fatalf("CommitReview() resubmit error = %v", err)
	}

	body, err := svc.ReviewAtHead("usr_1", 2026, 35)
	if err != nil {
		t.Fatalf("ReviewAtHead() error = %v", err)
	}
	if !strings.Contains(body, "Revised after reflection.") {
		t.Fatalf("expected revised learnings at HEAD:\n%s", body)
	}

	history, err := svc.History("usr_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits after resubmit, got %d", len(history))
	}
}

func TestConcurrentCommits(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureJournal("usr_1", "Avery"); err != nil {
		t.Fatalf("EnsureJournal() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			p := samplePayload(idx + 1)
			p.Learnings = fmt.Sprintf("learning-%02d", idx)
			if _, err := svc.CommitReview("usr_1", "Avery", p); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitReview() concurrent error = %v", err)
		}
	}

	history, err := svc.History("usr_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits, got %d", writers+1, len(history))
	}
}

func TestRenderMarkdownSkipsEmptySections(t *testing.T) {
	p := samplePayload(35)
	p.Challenges = nil
	p.AlignmentReflection = ""

	body := RenderMarkdown(p)
	if strings.Contains(body, "## Challenges") {
		t.Fatalf("expected no challenges section:\n%s", body)
	}
	if strings.Contains(body, "## Alignment") {
		t.Fatalf("expected no alignment section:\n%s", body)
	}
	if !strings.Contains(body, "Mood: 🙂 Good") {
		t.Fatalf("expected mood label line:\n%s", body)
	}
}
