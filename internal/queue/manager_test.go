package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"convertq/internal/encoder"
	"convertq/internal/gpu"
	"convertq/internal/media"
	"convertq/internal/testsupport"
)

func failedEvent(id, message string) encoder.Event {
	return encoder.Event{Kind: encoder.EventFailed, TaskID: id, Message: message}
}

func completedEvent(id string) encoder.Event {
	return encoder.Event{Kind: encoder.EventCompleted, TaskID: id}
}

type memPersister struct {
	mu    sync.Mutex
	jobs  []Job
	dir   string
	saves int
}

func (p *memPersister) SaveJobs(jobs []Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append([]Job(nil), jobs...)
	p.saves++
	return nil
}

func (p *memPersister) LoadJobs() ([]Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Job(nil), p.jobs...), nil
}

func (p *memPersister) OutputDir() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dir, nil
}

func (p *memPersister) SetOutputDir(dir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dir = dir
	return nil
}

func (p *memPersister) saveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

func audioProbe(context.Context, string) (*media.Descriptor, error) {
	return &media.Descriptor{Type: media.TypeAudio, DurationSeconds: 120}, nil
}

func newTestManager(t *testing.T, persister *memPersister, opts ...ManagerOption) (*Manager, *fakeClient) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	client := newFakeClient()
	opts = append([]ManagerOption{WithProber(audioProbe)}, opts...)
	m := NewManager(cfg, client, persister, nil, gpu.None(), nil, opts...)
	t.Cleanup(m.Close)
	return m, client
}

func TestManagerAddFilesNewestFirst(t *testing.T) {
	m, _ := newTestManager(t, &memPersister{})
	tick := time.Now()
	m.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	outcome := m.AddFiles(context.Background(), []string{"/in/f1.wav", "/in/f2.wav"}, "mp3", Settings{})
	if len(outcome.Added) != 2 {
		t.Fatalf("expected 2 added, got %+v", outcome)
	}
	files := m.SortedFiles()
	if len(files) != 2 || files[0].SourcePath != "/in/f2.wav" {
		t.Fatalf("newest add must sort first: %+v", files)
	}
	for _, job := range files {
		if job.Status != StatusPending {
			t.Fatalf("added job not pending: %s", job.Status)
		}
	}
}

func TestManagerAddFilesDiscriminatesOutcomes(t *testing.T) {
	persister := &memPersister{}
	cfg := testsupport.NewConfig(t, testsupport.WithMaxFiles(2))
	client := newFakeClient()
	m := NewManager(cfg, client, persister, nil, gpu.None(), nil, WithProber(audioProbe))
	t.Cleanup(m.Close)

	first := m.AddFiles(context.Background(), []string{"/in/a.wav", "/in/b.wav"}, "mp3", Settings{})
	if len(first.Added) != 2 {
		t.Fatalf("expected 2 added, got %+v", first)
	}

	again := m.AddFiles(context.Background(), []string{"/in/a.wav", "/in/c.wav"}, "mp3", Settings{})
	if len(again.Duplicates) != 1 || again.Duplicates[0] != "/in/a.wav" {
		t.Fatalf("duplicate not discriminated: %+v", again)
	}
	if len(again.Rejected) != 1 || again.Rejected[0] != "/in/c.wav" {
		t.Fatalf("capacity rejection not discriminated: %+v", again)
	}
	if m.Stats().Total != 2 {
		t.Fatalf("rejections mutated the store: %+v", m.Stats())
	}
}

func TestManagerAddFilesReportsProbeFailures(t *testing.T) {
	probe := func(_ context.Context, path string) (*media.Descriptor, error) {
		if path == "/in/bad.bin" {
			return nil, errors.New("no streams found")
		}
		return &media.Descriptor{Type: media.TypeAudio, DurationSeconds: 10}, nil
	}
	m, _ := newTestManager(t, &memPersister{}, WithProber(probe))

	outcome := m.AddFiles(context.Background(), []string{"/in/ok.wav", "/in/bad.bin"}, "mp3", Settings{})
	if len(outcome.Added) != 1 {
		t.Fatalf("good path not added: %+v", outcome)
	}
	if outcome.Errors["/in/bad.bin"] == "" {
		t.Fatalf("probe failure not reported: %+v", outcome)
	}
}

func TestManagerRetryResetsTerminalJob(t *testing.T) {
	m, _ := newTestManager(t, &memPersister{})
	outcome := m.AddFiles(context.Background(), []string{"/in/a.wav"}, "mp3", Settings{})
	id := outcome.Added[0].ID

	if err := m.StartConversion(context.Background(), id); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.rec.handle(failedEvent(id, "encoder crashed"))

	if err := m.RetryFile(id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job, _ := m.Get(id)
	if job.Status != StatusPending {
		t.Fatalf("retry did not reset status: %s", job.Status)
	}
	if job.ErrorMessage != "" || job.Progress != nil || !job.CompletedAt.IsZero() {
		t.Fatalf("retry left stale outcome fields: %+v", job)
	}
}

func TestManagerRetryRejectsActiveJob(t *testing.T) {
	m, _ := newTestManager(t, &memPersister{})
	outcome := m.AddFiles(context.Background(), []string{"/in/a.wav"}, "mp3", Settings{})
	id := outcome.Added[0].ID

	if err := m.RetryFile(id); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("retry on pending job must be rejected, got %v", err)
	}
}

func TestManagerRemoveProcessingJobReleasesSlot(t *testing.T) {
	m, client := newTestManager(t, &memPersister{})
	outcome := m.AddFiles(context.Background(), []string{"/in/a.wav"}, "mp3", Settings{})
	id := outcome.Added[0].ID
	if err := m.StartConversion(context.Background(), id); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.RemoveFile(context.Background(), id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := m.Get(id); ok {
		t.Fatal("job still present after removal")
	}
	if m.ActiveConversions() != 0 {
		t.Fatalf("slot leaked: %d", m.ActiveConversions())
	}
	if client.cancelCount() != 1 {
		t.Fatalf("encoder cancel called %d times, want 1", client.cancelCount())
	}
}

func TestManagerRemoveSelectedSkipsMisses(t *testing.T) {
	m, _ := newTestManager(t, &memPersister{})
	outcome := m.AddFiles(context.Background(), []string{"/in/a.wav", "/in/b.wav"}, "mp3", Settings{})
	ids := []string{outcome.Added[0].ID, "no-such-job", outcome.Added[1].ID}

	if removed := m.RemoveSelected(context.Background(), ids); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if m.Stats().Total != 0 {
		t.Fatalf("jobs remain after removal: %+v", m.Stats())
	}
}

func TestManagerClearCompletedKeepsOthers(t *testing.T) {
	m, _ := newTestManager(t, &memPersister{})
	outcome := m.AddFiles(context.Background(), []string{"/in/a.wav", "/in/b.wav"}, "mp3", Settings{})
	done := outcome.Added[0].ID
	if err := m.StartConversion(context.Background(), done); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.rec.handle(completedEvent(done))

	if cleared := m.ClearCompleted(); cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}
	if m.Stats().Total != 1 {
		t.Fatalf("pending job removed too: %+v", m.Stats())
	}
}

func TestManagerClearAllCancelsAndEmpties(t *testing.T) {
	m, _ := newTestManager(t, &memPersister{})
	m.AddFiles(context.Background(), []string{"/in/a.wav", "/in/b.wav"}, "mp3", Settings{})
	m.StartAll(context.Background())

	if removed := m.ClearAll(context.Background()); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
	if m.Stats().Total != 0 || m.ActiveConversions() != 0 {
		t.Fatalf("queue not fully drained: %+v active=%d", m.Stats(), m.ActiveConversions())
	}
}

func TestManagerOutputDirRoundTrip(t *testing.T) {
	persister := &memPersister{}
	m, _ := newTestManager(t, persister)
	m.SetOutputDir("/media/exports")
	if m.OutputDir() != "/media/exports" {
		t.Fatalf("output dir not applied: %q", m.OutputDir())
	}
	m.Close()

	// A fresh manager restores the last-used directory.
	m2, _ := newTestManager(t, persister)
	if m2.OutputDir() != "/media/exports" {
		t.Fatalf("output dir not restored: %q", m2.OutputDir())
	}
}

func TestManagerRestoresPersistedJobs(t *testing.T) {
	persister := &memPersister{}
	persister.jobs = []Job{testJob("old", "/in/old.wav")}

	m, _ := newTestManager(t, persister)
	job, ok := m.Get("old")
	if !ok {
		t.Fatal("persisted job not restored")
	}
	if job.Status != StatusPending {
		t.Fatalf("restored job not pending: %s", job.Status)
	}
}

func TestManagerFlushWritesSnapshot(t *testing.T) {
	persister := &memPersister{}
	m, _ := newTestManager(t, persister)
	m.AddFiles(context.Background(), []string{"/in/a.wav"}, "mp3", Settings{})

	m.Flush()
	if persister.saveCount() == 0 {
		t.Fatal("flush did not save")
	}
	persister.mu.Lock()
	defer persister.mu.Unlock()
	if len(persister.jobs) != 1 {
		t.Fatalf("snapshot missing jobs: %d", len(persister.jobs))
	}
}
