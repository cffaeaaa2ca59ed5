package jobstore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"server/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateAndGet(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := New(WithClock(fixedClock(start)))

	created := store.Create("job-1", 4, "gemini-2.5-flash", "1:1", "a <X>")
	if created.Status != domain.JobStatusPending {
		t.Fatalf("unexpected status: %s", created.Status)
	}
	if created.TotalPrompts != 4 || !created.StartTime.Equal(start) {
		t.Fatalf("unexpected record: %#v", created)
	}

	got, err := store.Get("job-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ID != "job-1" || len(got.CompletedImages) != 0 || got.FailedCount != 0 {
		t.Fatalf("unexpected record: %#v", got)
	}
}

func TestGetUnknownJob(t *testing.T) {
	store := New()
	if _, err := store.Get("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMergeProgressCompletesJob(t *testing.T) {
	store := New()
	store.Create("job-1", 4, "gemini-2.5-flash", "1:1", "t")

	rec, err := store.MergeProgress("job-1", images("job-1", 2), nil)
	if err != nil {
		t.Fatalf("MergeProgress returned error: %v", err)
	}
	if rec.Status != domain.JobStatusProcessing {
		t.Fatalf("expected processing after partial merge, got %s", rec.Status)
	}

	rec, err = store.MergeProgress("job-1", images("job-1", 1), []domain.JobError{{PromptIndex: 3, Message: "boom"}})
	if err != nil {
		t.Fatalf("MergeProgress returned error: %v", err)
	}
	if len(rec.CompletedImages) != 3 {
		t.Fatalf("expected 3 images, got %d", len(rec.CompletedImages))
	}
	if rec.FailedCount != 1 {
		t.Fatalf("expected failed count 1, got %d", rec.FailedCount)
	}
	if rec.Status != domain.JobStatusComplete {
		t.Fatalf("expected complete, got %s", rec.Status)
	}
}

func TestMergeProgressInvariant(t *testing.T) {
	store := New()
	store.Create("job-1", 3, "m", "1:1", "t")

	merges := [][2]int{{1, 0}, {0, 1}, {1, 0}}
	var imgCount, errCount int
	for _, m := range merges {
		var errs []domain.JobError
		for i := 0; i < m[1]; i++ {
			errs = append(errs, domain.JobError{PromptIndex: errCount, Message: "x"})
		}
		rec, err := store.MergeProgress("job-1", images("job-1", m[0]), errs)
		if err != nil {
			t.Fatalf("MergeProgress returned error: %v", err)
		}
		imgCount += m[0]
		errCount += m[1]
		settled := imgCount+errCount >= 3
		if settled != (rec.Status == domain.JobStatusComplete) {
			t.Fatalf("invariant violated: images=%d errors=%d status=%s", imgCount, errCount, rec.Status)
		}
	}
}

func TestTerminalMonotonicity(t *testing.T) {
	store := New()
	store.Create("job-1", 1, "m", "1:1", "t")

	rec, err := store.MergeProgress("job-1", images("job-1", 1), nil)
	if err != nil {
		t.Fatalf("MergeProgress returned error: %v", err)
	}
	if rec.Status != domain.JobStatusComplete {
		t.Fatalf("expected complete, got %s", rec.Status)
	}

	// A late merge must not shrink counts or regress status.
	rec, err = store.MergeProgress("job-1", images("job-1", 1), nil)
	if err != nil {
		t.Fatalf("MergeProgress returned error: %v", err)
	}
	if rec.Status != domain.JobStatusComplete || len(rec.CompletedImages) < 1 {
		t.Fatalf("terminal state regressed: %#v", rec)
	}
}

func TestMarkFailedIsDeadEnd(t *testing.T) {
	store := New()
	store.Create("job-1", 2, "m", "1:1", "t")

	rec, err := store.MarkFailed("job-1", "job record vanished")
	if err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}
	if rec.Status != domain.JobStatusFailed || rec.ErrorMessage == "" {
		t.Fatalf("unexpected record: %#v", rec)
	}
	if len(rec.Errors) != 1 || rec.Errors[0].PromptIndex != -1 || rec.Errors[0].Message != "job record vanished" {
		t.Fatalf("expected a run-level error entry, got %#v", rec.Errors)
	}
	if rec.FailedCount != 0 {
		t.Fatalf("run-level entry must not count as a prompt failure: %d", rec.FailedCount)
	}

	rec, err = store.MergeProgress("job-1", images("job-1", 2), nil)
	if err != nil {
		t.Fatalf("MergeProgress returned error: %v", err)
	}
	if rec.Status != domain.JobStatusFailed {
		t.Fatalf("failed status regressed to %s", rec.Status)
	}
	if rec.FailedCount != 0 {
		t.Fatalf("merge recounted the run-level entry: %d", rec.FailedCount)
	}
}

func TestReadersGetCopies(t *testing.T) {
	store := New()
	store.Create("job-1", 2, "m", "1:1", "t")
	store.MergeProgress("job-1", images("job-1", 1), nil)

	first, _ := store.Get("job-1")
	first.CompletedImages[0].Prompt = "tampered"
	first.Status = domain.JobStatusFailed

	second, _ := store.Get("job-1")
	if second.CompletedImages[0].Prompt == "tampered" || second.Status == domain.JobStatusFailed {
		t.Fatalf("reader mutation leaked into store")
	}
}

func TestRetentionExpiry(t *testing.T) {
	store := New(WithRetention(10 * time.Millisecond))
	store.Create("job-1", 1, "m", "1:1", "t")

	time.Sleep(30 * time.Millisecond)
	if _, err := store.Get("job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := New()
	store.Create("job-1", 1, "m", "1:1", "t")
	store.Delete("job-1")
	if _, err := store.Get("job-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func images(jobID string, n int) []domain.GeneratedImage {
	out := make([]domain.GeneratedImage, n)
	for i := range out {
		out[i] = domain.GeneratedImage{
			ID:     fmt.Sprintf("%s-%04d", jobID, i),
			JobID:  jobID,
			Prompt: "p",
		}
	}
	return out
}
