package progress

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/jobstore"
)

type recordedEvent struct {
	name string
	data any
}

type memSink struct {
	mu     sync.Mutex
	events []recordedEvent
	failN  int // fail the first N sends
}

func (s *memSink) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return errors.New("client gone")
	}
	s.events = append(s.events, recordedEvent{name: event, data: data})
	return nil
}

func (s *memSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.name
	}
	return out
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func seededStore(t *testing.T, jobID string, total int) *jobstore.Store {
	t.Helper()
	store := jobstore.New()
	store.Create(jobID, total, "m", "1:1", "t")
	return store
}

func img(jobID string, idx int) domain.GeneratedImage {
	return domain.GeneratedImage{
		ID:          "img",
		JobID:       jobID,
		PromptIndex: idx,
		Prompt:      "p",
		StorageKey:  "generated/key.png",
	}
}

func TestSnapshot(t *testing.T) {
	store := seededStore(t, "job-1", 3)
	store.MergeProgress("job-1", []domain.GeneratedImage{img("job-1", 0)}, []domain.JobError{{PromptIndex: 1, Message: "boom"}})

	pub := New(store, "http://localhost:8080/static/", testLogger())
	snap, err := pub.Snapshot("job-1")
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if snap.Status != domain.JobStatusProcessing || snap.TotalPrompts != 3 {
		t.Fatalf("unexpected snapshot: %#v", snap)
	}
	if snap.CompletedCount != 1 || snap.FailedCount != 1 {
		t.Fatalf("unexpected counts: %#v", snap)
	}
	if snap.Images[0].URL != "http://localhost:8080/static/generated/key.png" {
		t.Fatalf("unexpected image url: %s", snap.Images[0].URL)
	}
	if snap.Images[0].JobID != "job-1" {
		t.Fatalf("snapshot image must carry job id explicitly")
	}
}

func TestSnapshotUnknownJob(t *testing.T) {
	pub := New(jobstore.New(), "", testLogger())
	if _, err := pub.Snapshot("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStreamCompletedBeforeFirstTick(t *testing.T) {
	store := seededStore(t, "job-1", 1)
	store.MergeProgress("job-1", []domain.GeneratedImage{img("job-1", 0)}, nil)

	sink := &memSink{}
	pub := New(store, "", testLogger(), WithPollInterval(10*time.Millisecond))
	pub.Stream(context.Background(), "job-1", sink)

	names := sink.names()
	if len(names) != 2 || names[0] != "progress" || names[1] != "complete" {
		t.Fatalf("expected [progress complete], got %v", names)
	}
	pe := sink.events[0].data.(ProgressEvent)
	if pe.Completed != 1 || pe.Total != 1 || len(pe.Images) != 1 {
		t.Fatalf("unexpected progress event: %#v", pe)
	}
	ce := sink.events[1].data.(CompleteEvent)
	if ce.TotalGenerated != 1 || ce.TotalFailed != 0 {
		t.Fatalf("unexpected complete event: %#v", ce)
	}
}

func TestStreamEmitsOnlyNewImages(t *testing.T) {
	store := seededStore(t, "job-1", 3)
	store.MergeProgress("job-1", []domain.GeneratedImage{img("job-1", 0)}, nil)

	sink := &memSink{}
	pub := New(store, "", testLogger(), WithPollInterval(20*time.Millisecond))

	done := make(chan struct{})
	go func() {
		pub.Stream(context.Background(), "job-1", sink)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	store.MergeProgress("job-1", []domain.GeneratedImage{img("job-1", 1), img("job-1", 2)}, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("feed did not end after completion")
	}

	var progressEvents []ProgressEvent
	for _, e := range sink.events {
		if e.name == "progress" {
			progressEvents = append(progressEvents, e.data.(ProgressEvent))
		}
	}
	if len(progressEvents) != 2 {
		t.Fatalf("expected 2 progress events, got %d", len(progressEvents))
	}
	if len(progressEvents[0].Images) != 1 || len(progressEvents[1].Images) != 2 {
		t.Fatalf("images re-emitted: %#v", progressEvents)
	}
	if last := sink.events[len(sink.events)-1]; last.name != "complete" {
		t.Fatalf("feed must end with complete, got %s", last.name)
	}
}

func TestStreamEmitsErrors(t *testing.T) {
	store := seededStore(t, "job-1", 1)
	store.MergeProgress("job-1", nil, []domain.JobError{{PromptIndex: 0, Prompt: "p", Message: "boom", Retryable: true}})

	sink := &memSink{}
	pub := New(store, "", testLogger(), WithPollInterval(10*time.Millisecond))
	pub.Stream(context.Background(), "job-1", sink)

	names := sink.names()
	if len(names) != 2 || names[0] != "error" || names[1] != "complete" {
		t.Fatalf("expected [error complete], got %v", names)
	}
	ee := sink.events[0].data.(ErrorEvent)
	if ee.Index != 0 || ee.Error != "boom" || !ee.Retryable {
		t.Fatalf("unexpected error event: %#v", ee)
	}
	ce := sink.events[1].data.(CompleteEvent)
	if ce.TotalFailed != 1 {
		t.Fatalf("unexpected complete event: %#v", ce)
	}
}

func TestStreamBoundsErrorBurstPerTick(t *testing.T) {
	total := DefaultMaxErrorsPerTick + 3
	store := seededStore(t, "job-1", total)

	burst := make([]domain.JobError, total)
	for i := range burst {
		burst[i] = domain.JobError{PromptIndex: i, Prompt: "p", Message: "boom"}
	}
	store.MergeProgress("job-1", nil, burst)

	sink := &memSink{}
	pub := New(store, "", testLogger(), WithPollInterval(10*time.Millisecond))
	pub.Stream(context.Background(), "job-1", sink)

	var errorEvents []ErrorEvent
	for _, e := range sink.events {
		if e.name == "error" {
			errorEvents = append(errorEvents, e.data.(ErrorEvent))
		}
	}
	if len(errorEvents) != DefaultMaxErrorsPerTick {
		t.Fatalf("expected %d error events, got %d", DefaultMaxErrorsPerTick, len(errorEvents))
	}
	// Only the most recent errors survive the bound; the older ones are
	// skipped for good, not deferred to a later tick.
	for i, ee := range errorEvents {
		if want := total - DefaultMaxErrorsPerTick + i; ee.Index != want {
			t.Fatalf("error event %d: expected prompt index %d, got %d", i, want, ee.Index)
		}
	}
	if last := sink.events[len(sink.events)-1]; last.name != "complete" {
		t.Fatalf("feed must end with complete, got %s", last.name)
	}
	ce := sink.events[len(sink.events)-1].data.(CompleteEvent)
	if ce.TotalFailed != total {
		t.Fatalf("terminal summary must carry the full failure count: %#v", ce)
	}
}

func TestStreamJobVanished(t *testing.T) {
	sink := &memSink{}
	pub := New(jobstore.New(), "", testLogger(), WithPollInterval(10*time.Millisecond))
	pub.Stream(context.Background(), "missing", sink)

	names := sink.names()
	if len(names) != 1 || names[0] != "error" {
		t.Fatalf("expected single error event, got %v", names)
	}
}

func TestStreamSinkFailureDoesNotKillFeed(t *testing.T) {
	store := seededStore(t, "job-1", 1)
	store.MergeProgress("job-1", []domain.GeneratedImage{img("job-1", 0)}, nil)

	sink := &memSink{failN: 1} // drop the progress event
	pub := New(store, "", testLogger(), WithPollInterval(10*time.Millisecond))
	pub.Stream(context.Background(), "job-1", sink)

	names := sink.names()
	if len(names) != 1 || names[0] != "complete" {
		t.Fatalf("feed should survive the dropped tick: %v", names)
	}
}

func TestStreamDurationCap(t *testing.T) {
	store := seededStore(t, "job-1", 2) // never settles

	sink := &memSink{}
	pub := New(store, "", testLogger(),
		WithPollInterval(5*time.Millisecond),
		WithMaxFeedDuration(30*time.Millisecond))

	done := make(chan struct{})
	go func() {
		pub.Stream(context.Background(), "job-1", sink)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("feed ignored its duration cap")
	}
	for _, name := range sink.names() {
		if name == "complete" {
			t.Fatalf("capped feed must not fabricate a complete event")
		}
	}
}

func TestStreamStopsOnContextCancel(t *testing.T) {
	store := seededStore(t, "job-1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	sink := &memSink{}
	pub := New(store, "", testLogger(), WithPollInterval(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		pub.Stream(ctx, "job-1", sink)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("feed ignored context cancellation")
	}
}
