package queue

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"convertq/internal/config"
	"convertq/internal/encoder"
	"convertq/internal/fileutil"
	"convertq/internal/gpu"
	"convertq/internal/logging"
	"convertq/internal/media"
)

// Persister is the durable-storage surface the manager depends on. Storage
// failures are logged and swallowed; they never reach job state.
type Persister interface {
	SaveJobs(jobs []Job) error
	LoadJobs() ([]Job, error)
	OutputDir() (string, error)
	SetOutputDir(dir string) error
}

// ProbeFunc inspects a source file and returns its media descriptor.
type ProbeFunc func(ctx context.Context, path string) (*media.Descriptor, error)

// ManagerOption customizes manager construction.
type ManagerOption func(*Manager)

// WithProber overrides the ffprobe-backed source inspection.
func WithProber(probe ProbeFunc) ManagerOption {
	return func(m *Manager) {
		if probe != nil {
			m.probe = probe
		}
	}
}

// WithClock overrides the time source used for job timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the queue facade: every caller-facing operation funnels through
// it, and it owns the store, scheduler, coalescer, and reconciler wiring.
// Construct one per process (or per test); there is no ambient global state.
type Manager struct {
	cfg       *config.Config
	store     *Store
	coal      *Coalescer
	sched     *Scheduler
	rec       *Reconciler
	sub       *Subscription
	persister Persister
	logger    *slog.Logger
	probe     ProbeFunc
	now       func() time.Time

	mu        sync.Mutex
	outputDir string
	saveTimer *time.Timer
	closed    bool
}

// NewManager wires a manager over the encoder client and persistence
// adapter, restores any persisted queue, and subscribes to the encoder's
// event stream.
func NewManager(cfg *config.Config, client encoder.Client, persister Persister, notifier Notifier, accel gpu.Info, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{
		cfg:       cfg,
		store:     NewStore(cfg.Queue.MaxFiles),
		coal:      NewCoalescer(time.Duration(cfg.Queue.ProgressIntervalMS) * time.Millisecond),
		persister: persister,
		logger:    logging.WithComponent(logger, "queue"),
		now:       time.Now,
		outputDir: cfg.Paths.OutputDir,
	}
	m.probe = func(ctx context.Context, path string) (*media.Descriptor, error) {
		return media.Probe(ctx, cfg.Encoder.FFprobeBinary, path)
	}
	for _, opt := range opts {
		opt(m)
	}

	if dir, err := persister.OutputDir(); err == nil && dir != "" {
		m.outputDir = dir
	}
	m.sched = NewScheduler(m.store, client, accel, cfg.Queue.MaxParallel, m.OutputDir, logger)
	m.rec = NewReconciler(m.store, m.sched, m.coal, notifier, logger)
	m.sub = m.rec.Subscribe(client.Events())

	m.restore()
	return m
}

func (m *Manager) restore() {
	jobs, err := m.persister.LoadJobs()
	if err != nil {
		m.logger.Warn("queue restore failed", "error", err)
		return
	}
	for _, job := range jobs {
		if err := m.store.Insert(job); err != nil {
			m.logger.Warn("persisted job skipped", "job_id", job.ID, "reason", Reason(err))
		}
	}
	if len(jobs) > 0 {
		m.logger.Info("queue restored", "jobs", m.store.Len())
	}
}

// AddOutcome reports per-path results of an AddFiles call. Duplicates and
// capacity rejections are distinct outcomes; Errors holds paths that could
// not be probed.
type AddOutcome struct {
	Added      []Job
	Duplicates []string
	Rejected   []string
	Errors     map[string]string
}

// AddFiles probes each source path and enqueues a Pending job for it. Paths
// already queued are skipped as duplicates; adds past the capacity bound are
// rejected; a path that cannot be probed is reported without aborting the
// rest of the batch.
func (m *Manager) AddFiles(ctx context.Context, paths []string, format string, settings Settings) AddOutcome {
	outcome := AddOutcome{Errors: make(map[string]string)}
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		if m.store.HasSource(abs) {
			outcome.Duplicates = append(outcome.Duplicates, abs)
			continue
		}
		descriptor, err := m.probe(ctx, abs)
		if err != nil {
			m.logger.Warn("probe failed", "source", abs, "error", err)
			outcome.Errors[abs] = err.Error()
			continue
		}
		job := Job{
			ID:           uuid.NewString(),
			SourcePath:   abs,
			DisplayName:  fileutil.DisplayName(abs),
			Media:        *descriptor,
			OutputFormat: format,
			Settings:     settings,
			Status:       StatusPending,
			AddedAt:      m.now(),
		}
		if err := m.store.Insert(job); err != nil {
			switch {
			case errors.Is(err, ErrDuplicate):
				outcome.Duplicates = append(outcome.Duplicates, abs)
			case errors.Is(err, ErrCapacity):
				outcome.Rejected = append(outcome.Rejected, abs)
			default:
				outcome.Errors[abs] = err.Error()
			}
			continue
		}
		outcome.Added = append(outcome.Added, job)
	}
	if len(outcome.Added) > 0 {
		m.scheduleSave()
	}
	return outcome
}

// RemoveFile deletes one job. A Processing job is cancelled first so its
// conversion slot is released through the scheduler rather than leaked.
func (m *Manager) RemoveFile(ctx context.Context, id string) error {
	job, ok := m.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	if job.Status == StatusProcessing {
		if err := m.sched.CancelConversion(ctx, id); err != nil {
			m.logger.Warn("cancel before removal failed", "job_id", id, "error", err)
		}
	}
	m.store.Remove(id)
	m.coal.Drop(id)
	m.scheduleSave()
	return nil
}

// RemoveSelected deletes a set of jobs, continuing past individual misses.
func (m *Manager) RemoveSelected(ctx context.Context, ids []string) int {
	removed := 0
	for _, id := range ids {
		if err := m.RemoveFile(ctx, id); err == nil {
			removed++
		}
	}
	return removed
}

// RetryFile returns a terminal job to Pending, clearing its outcome fields.
func (m *Manager) RetryFile(id string) error {
	job, ok := m.store.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !job.Status.IsTerminal() {
		return ErrPrecondition
	}
	_, err := m.store.Apply(id, Patch{
		Status:           statusPtr(StatusPending),
		ClearError:       true,
		ClearProgress:    true,
		ClearCompletedAt: true,
	})
	if err == nil {
		m.scheduleSave()
	}
	return err
}

// ClearCompleted removes every Completed job.
func (m *Manager) ClearCompleted() int {
	removed := m.store.RemoveWhere(func(job Job) bool {
		return job.Status == StatusCompleted
	})
	if len(removed) > 0 {
		m.scheduleSave()
	}
	return len(removed)
}

// ClearAll cancels anything still converting and empties the queue.
func (m *Manager) ClearAll(ctx context.Context) int {
	m.sched.CancelAll(ctx)
	removed := m.store.RemoveWhere(func(Job) bool { return true })
	m.coal.Reset()
	m.scheduleSave()
	return len(removed)
}

// StartConversion dispatches one Pending job.
func (m *Manager) StartConversion(ctx context.Context, id string) error {
	err := m.sched.StartConversion(ctx, id)
	if err == nil {
		m.scheduleSave()
	}
	return err
}

// StartAll dispatches Pending jobs until the concurrency gate fills.
func (m *Manager) StartAll(ctx context.Context) int {
	started := m.sched.StartAll(ctx)
	if started > 0 {
		m.scheduleSave()
	}
	return started
}

// CancelConversion cancels one Processing job; a no-op otherwise.
func (m *Manager) CancelConversion(ctx context.Context, id string) error {
	err := m.sched.CancelConversion(ctx, id)
	if err == nil {
		m.scheduleSave()
	}
	return err
}

// CancelAll cancels every Processing job.
func (m *Manager) CancelAll(ctx context.Context) {
	m.sched.CancelAll(ctx)
	m.scheduleSave()
}

// SortedFiles returns the caller-facing job ordering.
func (m *Manager) SortedFiles() []Job {
	return m.store.Sorted()
}

// Stats returns aggregate per-status counts.
func (m *Manager) Stats() Stats {
	return m.store.Stats()
}

// Get returns a copy of one job.
func (m *Manager) Get(id string) (Job, bool) {
	return m.store.Get(id)
}

// ActiveConversions returns how many jobs hold a conversion slot.
func (m *Manager) ActiveConversions() int {
	return m.sched.Active()
}

// OutputDir returns the directory new conversions write into.
func (m *Manager) OutputDir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputDir
}

// SetOutputDir records the output directory and persists it as the
// last-used value.
func (m *Manager) SetOutputDir(dir string) {
	m.mu.Lock()
	m.outputDir = dir
	m.mu.Unlock()
	if err := m.persister.SetOutputDir(dir); err != nil {
		m.logger.Warn("output dir not persisted", "error", err)
	}
}

// scheduleSave arms the debounced autosave. Repeated mutations inside the
// window collapse into one write.
func (m *Manager) scheduleSave() {
	delay := time.Duration(m.cfg.Queue.AutosaveSeconds) * time.Second
	if delay <= 0 {
		delay = 5 * time.Second
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.saveTimer != nil {
		return
	}
	m.saveTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.saveTimer = nil
		m.mu.Unlock()
		m.save()
	})
}

func (m *Manager) save() {
	if err := m.persister.SaveJobs(m.store.Sorted()); err != nil {
		m.logger.Warn("queue save failed", "error", err)
	}
}

// Flush writes the queue snapshot immediately.
func (m *Manager) Flush() {
	m.mu.Lock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
		m.saveTimer = nil
	}
	m.mu.Unlock()
	m.save()
}

// Close detaches from the encoder's event stream and flushes state. The
// encoder client itself belongs to the caller and is not closed here.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.saveTimer != nil {
		m.saveTimer.Stop()
		m.saveTimer = nil
	}
	m.mu.Unlock()
	m.sub.Close()
	m.save()
}
