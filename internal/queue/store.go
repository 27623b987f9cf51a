package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"convertq/internal/encoder"
)

// Store is the authoritative in-memory map of job id to Job. All mutation
// goes through its methods so the job invariants are enforced in one place.
type Store struct {
	mu       sync.Mutex
	jobs     map[string]Job
	maxFiles int
}

// NewStore returns an empty store bounded at maxFiles jobs.
func NewStore(maxFiles int) *Store {
	if maxFiles <= 0 {
		maxFiles = 1
	}
	return &Store{
		jobs:     make(map[string]Job),
		maxFiles: maxFiles,
	}
}

// Patch describes a partial job update. Nil pointer fields are left
// untouched; the Clear flags reset optional fields to their zero value.
type Patch struct {
	Status           *Status
	OutputFormat     *string
	OutputPath       *string
	Settings         *Settings
	Progress         *encoder.Progress
	ClearProgress    bool
	ErrorMessage     *string
	ClearError       bool
	CompletedAt      *time.Time
	ClearCompletedAt bool
}

func statusPtr(s Status) *Status { return &s }

func legalTransition(from, to Status) bool {
	if from == to {
		// Restating a terminal status would restamp completion metadata,
		// so only non-terminal states accept a same-status patch.
		return !from.IsTerminal()
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed || to == StatusCancelled
	case StatusProcessing:
		return to.IsTerminal()
	case StatusCompleted, StatusFailed, StatusCancelled:
		// Terminal states are only left via explicit retry.
		return to == StatusPending
	}
	return false
}

// Insert adds a new job. It rejects duplicates by source path and enforces
// the capacity bound so callers can report why an add was refused.
func (s *Store) Insert(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, ErrDuplicate)
	}
	for _, existing := range s.jobs {
		if existing.SourcePath == job.SourcePath {
			return fmt.Errorf("%s: %w", job.SourcePath, ErrDuplicate)
		}
	}
	if len(s.jobs) >= s.maxFiles {
		return fmt.Errorf("queue holds %d of %d jobs: %w", len(s.jobs), s.maxFiles, ErrCapacity)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job with the given id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.Clone(), true
}

// Apply runs patch against the job with the given id and returns the updated
// copy. Illegal status transitions and mutation of conversion parameters on
// a job that already left Pending are rejected. The one exception is setting
// OutputPath together with the Pending to Processing transition, which is how
// the scheduler resolves the destination at dispatch time.
func (s *Store) Apply(id string, patch Patch) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	next := job.Status
	if patch.Status != nil {
		next = *patch.Status
		if !legalTransition(job.Status, next) {
			return Job{}, fmt.Errorf("job %s: %s -> %s: %w", id, job.Status, next, ErrPrecondition)
		}
	}

	startingProcessing := patch.Status != nil && job.Status == StatusPending && next == StatusProcessing

	if patch.Settings != nil || patch.OutputFormat != nil {
		if job.Status != StatusPending {
			return Job{}, fmt.Errorf("job %s is %s, parameters are frozen: %w", id, job.Status, ErrPrecondition)
		}
	}
	if patch.OutputPath != nil && job.Status != StatusPending && !startingProcessing {
		return Job{}, fmt.Errorf("job %s is %s, output path is frozen: %w", id, job.Status, ErrPrecondition)
	}

	if patch.Settings != nil {
		job.Settings = *patch.Settings
	}
	if patch.OutputFormat != nil {
		job.OutputFormat = *patch.OutputFormat
	}
	if patch.OutputPath != nil {
		job.OutputPath = *patch.OutputPath
	}
	if patch.Status != nil {
		job.Status = next
	}
	if startingProcessing && job.OutputPath == "" {
		return Job{}, fmt.Errorf("job %s has no output path: %w", id, ErrPrecondition)
	}
	if patch.ErrorMessage != nil {
		job.ErrorMessage = *patch.ErrorMessage
	}
	if patch.ClearError {
		job.ErrorMessage = ""
	}
	if patch.CompletedAt != nil {
		job.CompletedAt = *patch.CompletedAt
	}
	if patch.ClearCompletedAt {
		job.CompletedAt = time.Time{}
	}
	if patch.Progress != nil {
		progress := *patch.Progress
		job.Progress = &progress
	}
	if patch.ClearProgress {
		job.Progress = nil
	}
	// Progress only exists while a job is actively converting.
	if job.Status != StatusProcessing {
		job.Progress = nil
	}
	if job.Status != StatusFailed {
		job.ErrorMessage = ""
	}

	s.jobs[id] = job
	return job.Clone(), nil
}

// Remove deletes the job with the given id and reports whether it existed.
func (s *Store) Remove(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	delete(s.jobs, id)
	return job, true
}

// RemoveWhere deletes every job matching the predicate and returns the
// removed jobs.
func (s *Store) RemoveWhere(match func(Job) bool) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []Job
	for id, job := range s.jobs {
		if match(job.Clone()) {
			removed = append(removed, job.Clone())
			delete(s.jobs, id)
		}
	}
	return removed
}

// Len returns the number of jobs currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// HasSource reports whether any job was created from the given source path.
func (s *Store) HasSource(sourcePath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.SourcePath == sourcePath {
			return true
		}
	}
	return false
}

// Sorted returns the caller-facing ordering: Processing first, then Pending,
// then Cancelled, Failed, and Completed. Pending jobs sort newest-added
// first; terminal jobs sort newest-completed first. Ties break on id so the
// order is stable across calls.
func (s *Store) Sorted() []Job {
	s.mu.Lock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	s.mu.Unlock()

	sort.SliceStable(jobs, func(i, jdx int) bool {
		a, b := jobs[i], jobs[jdx]
		if ra, rb := a.Status.sortRank(), b.Status.sortRank(); ra != rb {
			return ra < rb
		}
		var ta, tb time.Time
		if a.Status.IsTerminal() {
			ta, tb = a.CompletedAt, b.CompletedAt
		} else {
			ta, tb = a.AddedAt, b.AddedAt
		}
		if !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.ID < b.ID
	})
	return jobs
}

// Stats aggregates per-status counts.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{Total: len(s.jobs)}
	for _, job := range s.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		case StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}
