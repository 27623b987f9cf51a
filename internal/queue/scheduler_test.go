package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"convertq/internal/encoder"
	"convertq/internal/gpu"
	"convertq/internal/media"
)

type fakeClient struct {
	mu          sync.Mutex
	events      chan encoder.Event
	dispatched  []string
	dispatchErr error
	cancelled   []string
	cancelErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan encoder.Event, 64)}
}

func (f *fakeClient) record(kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	f.dispatched = append(f.dispatched, kind+":"+id)
	return nil
}

func (f *fakeClient) ConvertAudio(_ context.Context, req encoder.AudioRequest) error {
	return f.record("audio", req.ID)
}

func (f *fakeClient) ConvertVideo(_ context.Context, req encoder.VideoRequest) error {
	return f.record("video", req.ID)
}

func (f *fakeClient) ExtractAudio(_ context.Context, req encoder.ExtractRequest) error {
	return f.record("extract", req.ID)
}

func (f *fakeClient) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return f.cancelErr
}

func (f *fakeClient) Events() <-chan encoder.Event { return f.events }

func (f *fakeClient) Close() error { return nil }

func (f *fakeClient) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

func (f *fakeClient) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancelled)
}

func newTestScheduler(t *testing.T, client encoder.Client, maxParallel int) (*Scheduler, *Store) {
	t.Helper()
	store := NewStore(50)
	dir := t.TempDir()
	sched := NewScheduler(store, client, gpu.None(), maxParallel, func() string { return dir }, nil)
	return sched, store
}

func addPending(t *testing.T, store *Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	base := time.Now()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		job := testJob(id, fmt.Sprintf("/in/%d.wav", i))
		job.AddedAt = base.Add(time.Duration(i) * time.Millisecond)
		if err := store.Insert(job); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestSchedulerBoundsParallelism(t *testing.T) {
	client := newFakeClient()
	sched, store := newTestScheduler(t, client, 2)
	addPending(t, store, 5)

	started := sched.StartAll(context.Background())
	if started != 2 {
		t.Fatalf("expected 2 started, got %d", started)
	}
	stats := store.Stats()
	if stats.Processing != 2 || stats.Pending != 3 {
		t.Fatalf("unexpected stats after StartAll: %+v", stats)
	}
	if sched.Active() != 2 {
		t.Fatalf("expected 2 active slots, got %d", sched.Active())
	}

	// Freeing a slot makes the next pending job eligible, but nothing is
	// promoted until the caller asks again.
	mustApply(t, store, "job-0", Patch{Status: statusPtr(StatusCompleted)})
	sched.Release("job-0")
	if got := store.Stats().Processing; got != 1 {
		t.Fatalf("expected 1 processing after completion, got %d", got)
	}
	if started := sched.StartAll(context.Background()); started != 1 {
		t.Fatalf("expected 1 more started, got %d", started)
	}
	if got := store.Stats().Processing; got != 2 {
		t.Fatalf("expected gate refilled to 2, got %d", got)
	}
}

func TestSchedulerStartsOldestFirst(t *testing.T) {
	client := newFakeClient()
	sched, store := newTestScheduler(t, client, 1)
	addPending(t, store, 3)

	if started := sched.StartAll(context.Background()); started != 1 {
		t.Fatalf("expected 1 started, got %d", started)
	}
	client.mu.Lock()
	first := client.dispatched[0]
	client.mu.Unlock()
	if first != "audio:job-0" {
		t.Fatalf("expected oldest job dispatched first, got %s", first)
	}
}

func TestSchedulerConcurrentStartsNeverOvershoot(t *testing.T) {
	client := newFakeClient()
	sched, store := newTestScheduler(t, client, 3)
	ids := addPending(t, store, 10)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = sched.StartConversion(context.Background(), id)
		}(id)
	}
	wg.Wait()

	if got := store.Stats().Processing; got != 3 {
		t.Fatalf("expected exactly 3 processing, got %d", got)
	}
	if sched.Active() != 3 {
		t.Fatalf("expected 3 active slots, got %d", sched.Active())
	}
	if client.dispatchCount() != 3 {
		t.Fatalf("expected 3 dispatches, got %d", client.dispatchCount())
	}
}

func TestSchedulerDispatchErrorFailsJob(t *testing.T) {
	client := newFakeClient()
	client.dispatchErr = errors.New("encoder binary missing")
	sched, store := newTestScheduler(t, client, 2)
	addPending(t, store, 1)

	if err := sched.StartConversion(context.Background(), "job-0"); err != nil {
		t.Fatalf("dispatch failure must not surface as an error: %v", err)
	}
	job, _ := store.Get("job-0")
	if job.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorMessage != "encoder binary missing" {
		t.Fatalf("unexpected error message: %q", job.ErrorMessage)
	}
	if sched.Active() != 0 {
		t.Fatalf("slot leaked after dispatch failure: %d", sched.Active())
	}
}

func TestSchedulerCancelIsIdempotent(t *testing.T) {
	client := newFakeClient()
	sched, store := newTestScheduler(t, client, 2)
	addPending(t, store, 1)
	if err := sched.StartConversion(context.Background(), "job-0"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := sched.CancelConversion(context.Background(), "job-0"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := sched.CancelConversion(context.Background(), "job-0"); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	job, _ := store.Get("job-0")
	if job.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if job.Progress != nil {
		t.Fatal("cancelled job kept progress")
	}
	if job.CompletedAt.IsZero() {
		t.Fatal("cancelled job missing completion timestamp")
	}
	if sched.Active() != 0 {
		t.Fatalf("slot not released exactly once: %d", sched.Active())
	}
	if client.cancelCount() != 1 {
		t.Fatalf("encoder cancel called %d times, want 1", client.cancelCount())
	}
}

func TestSchedulerCancelErrorStillReleases(t *testing.T) {
	client := newFakeClient()
	client.cancelErr = errors.New("process already gone")
	sched, store := newTestScheduler(t, client, 2)
	addPending(t, store, 1)
	if err := sched.StartConversion(context.Background(), "job-0"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := sched.CancelConversion(context.Background(), "job-0"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	job, _ := store.Get("job-0")
	if job.Status != StatusCancelled {
		t.Fatalf("expected cancelled despite encoder error, got %s", job.Status)
	}
	if sched.Active() != 0 {
		t.Fatalf("slot leaked: %d", sched.Active())
	}
}

func TestSchedulerCancelAllToleratesPartialFailure(t *testing.T) {
	client := newFakeClient()
	client.cancelErr = errors.New("flaky")
	sched, store := newTestScheduler(t, client, 3)
	addPending(t, store, 3)
	sched.StartAll(context.Background())

	sched.CancelAll(context.Background())
	stats := store.Stats()
	if stats.Cancelled != 3 || stats.Processing != 0 {
		t.Fatalf("unexpected stats after CancelAll: %+v", stats)
	}
	if sched.Active() != 0 {
		t.Fatalf("slots leaked: %d", sched.Active())
	}
}

func TestSchedulerStartNonPendingIsRejected(t *testing.T) {
	client := newFakeClient()
	sched, store := newTestScheduler(t, client, 2)
	addPending(t, store, 1)
	if err := sched.StartConversion(context.Background(), "job-0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := sched.StartConversion(context.Background(), "job-0")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition rejection, got %v", err)
	}
	if store.Stats().Processing != 1 {
		t.Fatal("double start mutated state")
	}
}

func TestSchedulerRequiresOutputDirectory(t *testing.T) {
	client := newFakeClient()
	store := NewStore(50)
	sched := NewScheduler(store, client, gpu.None(), 2, func() string { return "" }, nil)
	addPending(t, store, 1)

	err := sched.StartConversion(context.Background(), "job-0")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected missing output dir rejection, got %v", err)
	}
}

func TestSchedulerRequiresMediaDescriptor(t *testing.T) {
	client := newFakeClient()
	sched, store := newTestScheduler(t, client, 2)
	job := testJob("raw", "/in/raw.bin")
	job.Media = media.Descriptor{Type: media.TypeUnknown}
	if err := store.Insert(job); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := sched.StartConversion(context.Background(), "raw")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected descriptor rejection, got %v", err)
	}
}

func TestSchedulerDispatchSelection(t *testing.T) {
	client := newFakeClient()
	sched, store := newTestScheduler(t, client, 3)

	audio := testJob("a", "/in/a.wav")
	video := testJob("v", "/in/v.mkv")
	video.Media = media.Descriptor{Type: media.TypeVideo, DurationSeconds: 60}
	video.OutputFormat = "mp4"
	extract := testJob("x", "/in/x.mkv")
	extract.Media = media.Descriptor{Type: media.TypeVideo, DurationSeconds: 60}
	extract.Settings.ExtractAudioOnly = true
	for _, job := range []Job{audio, video, extract} {
		if err := store.Insert(job); err != nil {
			t.Fatalf("insert %s: %v", job.ID, err)
		}
	}

	for _, id := range []string{"a", "v", "x"} {
		if err := sched.StartConversion(context.Background(), id); err != nil {
			t.Fatalf("start %s: %v", id, err)
		}
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	want := map[string]bool{"audio:a": true, "video:v": true, "extract:x": true}
	for _, entry := range client.dispatched {
		if !want[entry] {
			t.Fatalf("unexpected dispatch %s", entry)
		}
		delete(want, entry)
	}
	if len(want) != 0 {
		t.Fatalf("missing dispatches: %v", want)
	}
}
