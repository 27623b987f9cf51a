package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"convertq/internal/encoder"
	"convertq/internal/fileutil"
	"convertq/internal/gpu"
	"convertq/internal/logging"
	"convertq/internal/media"
)

// Scheduler gates dispatch to the external encoder so no more than
// maxParallel jobs are converting at once. The slot ledger records which job
// ids hold a slot, which makes every release idempotent no matter whether it
// comes from a cancel call, a terminal event, or both.
type Scheduler struct {
	store  *Store
	client encoder.Client
	logger *slog.Logger
	gpu    gpu.Info

	maxParallel int
	outputDir   func() string

	mu    sync.Mutex
	slots map[string]struct{}
}

// NewScheduler wires a scheduler over the store and encoder client.
// outputDir supplies the directory used to resolve destinations for jobs
// that do not carry one yet.
func NewScheduler(store *Store, client encoder.Client, accel gpu.Info, maxParallel int, outputDir func() string, logger *slog.Logger) *Scheduler {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if outputDir == nil {
		outputDir = func() string { return "" }
	}
	return &Scheduler{
		store:       store,
		client:      client,
		logger:      logging.WithComponent(logger, "scheduler"),
		gpu:         accel,
		maxParallel: maxParallel,
		outputDir:   outputDir,
		slots:       make(map[string]struct{}),
	}
}

// Active returns the number of jobs currently holding a conversion slot.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Holds reports whether the job with the given id holds a conversion slot.
func (s *Scheduler) Holds(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.slots[id]
	return ok
}

// StartConversion validates, transitions, and dispatches one Pending job.
// The slot is acquired and the job moved to Processing in a single atomic
// step; a synchronous dispatch failure moves the job straight to Failed and
// gives the slot back in the same call, so no event will ever arrive for it.
func (s *Scheduler) StartConversion(ctx context.Context, id string) error {
	job, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.Status != StatusPending {
		return fmt.Errorf("job %s is %s, not pending: %w", id, job.Status, ErrPrecondition)
	}
	if job.Media.Type != media.TypeAudio && job.Media.Type != media.TypeVideo {
		return fmt.Errorf("job %s has no usable media descriptor: %w", id, ErrPrecondition)
	}
	outputPath := job.OutputPath
	if outputPath == "" {
		dir := s.outputDir()
		if dir == "" {
			return fmt.Errorf("job %s has no output directory: %w", id, ErrPrecondition)
		}
		outputPath = fileutil.ResolveOutputPath(dir, job.SourcePath, job.OutputFormat)
	}

	s.mu.Lock()
	if len(s.slots) >= s.maxParallel {
		s.mu.Unlock()
		return fmt.Errorf("%d of %d conversion slots busy: %w", s.maxParallel, s.maxParallel, ErrCapacity)
	}
	job, err := s.store.Apply(id, Patch{
		Status:     statusPtr(StatusProcessing),
		OutputPath: &outputPath,
		Progress:   &encoder.Progress{TotalTime: job.Media.DurationSeconds},
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.slots[id] = struct{}{}
	s.mu.Unlock()

	if err := s.dispatch(ctx, job); err != nil {
		s.logger.Warn("encoder dispatch failed", "job_id", id, "error", err)
		s.fail(id, err.Error())
		return nil
	}
	s.logger.Info("conversion started",
		"job_id", id,
		"source", job.SourcePath,
		"output", job.OutputPath,
		"format", job.OutputFormat)
	return nil
}

// dispatch selects the encoder entry point from the media type and the
// extract-audio flag.
func (s *Scheduler) dispatch(ctx context.Context, job Job) error {
	task := encoder.Task{
		ID:              job.ID,
		InputPath:       job.SourcePath,
		OutputPath:      job.OutputPath,
		Format:          job.OutputFormat,
		DurationSeconds: job.Media.DurationSeconds,
	}
	audio := encoder.AudioSettings{
		Quality:     job.Settings.Quality,
		BitrateKbps: job.Settings.BitrateKbps,
		SampleRate:  job.Settings.SampleRate,
		Channels:    job.Settings.Channels,
	}
	switch {
	case job.Media.Type == media.TypeAudio:
		return s.client.ConvertAudio(ctx, encoder.AudioRequest{Task: task, Settings: audio})
	case job.Settings.ExtractAudioOnly:
		return s.client.ExtractAudio(ctx, encoder.ExtractRequest{Task: task, Settings: audio})
	default:
		return s.client.ConvertVideo(ctx, encoder.VideoRequest{
			Task: task,
			Settings: encoder.VideoSettings{
				Quality: job.Settings.Quality,
				Width:   job.Settings.Width,
				Height:  job.Settings.Height,
				FPS:     job.Settings.FPS,
				UseGPU:  job.Settings.UseGPU,
			},
			GPU: s.gpu,
		})
	}
}

// StartAll dispatches every Pending job oldest-first until the gate is full.
// Individual failures do not stop the walk; the return value is the number
// of jobs that reached Processing.
func (s *Scheduler) StartAll(ctx context.Context) int {
	pending := make([]Job, 0)
	for _, job := range s.store.Sorted() {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	// Sorted yields newest first; dispatch in arrival order.
	started := 0
	for i := len(pending) - 1; i >= 0; i-- {
		if err := s.StartConversion(ctx, pending[i].ID); err != nil {
			s.logger.Debug("job not started", "job_id", pending[i].ID, "reason", Reason(err))
			continue
		}
		started++
	}
	return started
}

// CancelConversion asks the encoder to stop a Processing job and records the
// job as Cancelled. A cancel on a job that is not Processing is a no-op, so
// repeated cancels settle on the same state and release the slot once.
func (s *Scheduler) CancelConversion(ctx context.Context, id string) error {
	job, ok := s.store.Get(id)
	if !ok {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.Status != StatusProcessing {
		return nil
	}
	// Best effort: a failed cancel request still counts as cancelled for
	// local bookkeeping.
	if err := s.client.Cancel(ctx, id); err != nil {
		s.logger.Warn("cancel request failed", "job_id", id, "error", err)
	}
	now := time.Now()
	if _, err := s.store.Apply(id, Patch{
		Status:        statusPtr(StatusCancelled),
		ClearProgress: true,
		CompletedAt:   &now,
	}); err != nil {
		return err
	}
	s.Release(id)
	s.logger.Info("conversion cancelled", "job_id", id)
	return nil
}

// CancelAll cancels every Processing job. Each cancellation is independent;
// one failure does not keep the rest from releasing their slots.
func (s *Scheduler) CancelAll(ctx context.Context) {
	for _, job := range s.store.Sorted() {
		if job.Status != StatusProcessing {
			continue
		}
		if err := s.CancelConversion(ctx, job.ID); err != nil {
			s.logger.Warn("cancel failed", "job_id", job.ID, "error", err)
		}
	}
}

// Release gives back the slot held by a job id. Safe to call more than once
// and for ids that never held a slot.
func (s *Scheduler) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, id)
}

func (s *Scheduler) fail(id, message string) {
	now := time.Now()
	if _, err := s.store.Apply(id, Patch{
		Status:        statusPtr(StatusFailed),
		ErrorMessage:  &message,
		ClearProgress: true,
		CompletedAt:   &now,
	}); err != nil {
		s.logger.Warn("failed-state transition rejected", "job_id", id, "error", err)
	}
	s.Release(id)
}
