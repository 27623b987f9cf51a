package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"convertq/internal/encoder"
	"convertq/internal/logging"
)

// Notifier receives user-facing outcome notifications. Cancellation is a
// user-directed outcome and deliberately has no method here; it is never
// reported through the failure path.
type Notifier interface {
	ConversionCompleted(ctx context.Context, job Job)
	ConversionFailed(ctx context.Context, job Job, message string)
	QueueCompleted(ctx context.Context, stats Stats)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) ConversionCompleted(context.Context, Job)      {}
func (NopNotifier) ConversionFailed(context.Context, Job, string) {}
func (NopNotifier) QueueCompleted(context.Context, Stats)         {}

// Reconciler is the single consumer of the encoder's event stream. It maps
// every event onto a store mutation, releases the scheduler slot on terminal
// events, and drops events whose job id is unknown or already terminal.
type Reconciler struct {
	store    *Store
	sched    *Scheduler
	coal     *Coalescer
	notifier Notifier
	logger   *slog.Logger
}

// NewReconciler builds a reconciler over the store, scheduler, and
// coalescer. A nil notifier disables notifications.
func NewReconciler(store *Store, sched *Scheduler, coal *Coalescer, notifier Notifier, logger *slog.Logger) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		store:    store,
		sched:    sched,
		coal:     coal,
		notifier: notifier,
		logger:   logging.WithComponent(logger, "reconciler"),
	}
}

// Subscription is the handle for one event-stream consumer. Close detaches
// the consumer and waits for in-flight event handling to finish, so no late
// write lands in a torn-down store.
type Subscription struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}

// Subscribe starts consuming the event channel in a background goroutine.
// The reconciler holds at most one logical consumer; callers must Close the
// returned handle on shutdown.
func (r *Reconciler) Subscribe(events <-chan encoder.Event) *Subscription {
	sub := &Subscription{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(sub.done)
		for {
			select {
			case <-sub.stop:
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				r.handle(event)
			}
		}
	}()
	return sub
}

func (r *Reconciler) handle(event encoder.Event) {
	switch event.Kind {
	case encoder.EventProgress:
		r.onProgress(event.TaskID, event.Progress)
	case encoder.EventCompleted:
		r.onCompleted(event.TaskID)
	case encoder.EventFailed:
		r.onFailed(event.TaskID, event.Message)
	case encoder.EventCancelled:
		r.onCancelled(event.TaskID)
	default:
		r.logger.Debug("unknown encoder event", "kind", string(event.Kind), "job_id", event.TaskID)
	}
}

func (r *Reconciler) onProgress(id string, progress *encoder.Progress) {
	if progress == nil {
		return
	}
	if !r.sched.Holds(id) {
		// A job without a slot has no live conversion. A buffered event
		// arriving after cancel, removal, or retry must not drag the job
		// back to Processing.
		r.logger.Debug("dropped progress for inactive job", "job_id", id)
		return
	}
	if !r.coal.Admit(id, progress.Percent) {
		return
	}
	_, err := r.store.Apply(id, Patch{
		Status:   statusPtr(StatusProcessing),
		Progress: progress,
	})
	if err != nil {
		r.dropEvent("progress", id, err)
	}
}

func (r *Reconciler) onCompleted(id string) {
	now := time.Now()
	job, err := r.store.Apply(id, Patch{
		Status:        statusPtr(StatusCompleted),
		ClearProgress: true,
		CompletedAt:   &now,
	})
	r.coal.Drop(id)
	r.sched.Release(id)
	if err != nil {
		r.dropEvent("completed", id, err)
		return
	}
	r.logger.Info("conversion completed", "job_id", id, "output", job.OutputPath)
	r.notifier.ConversionCompleted(context.Background(), job)
	r.maybeNotifyQueueDone()
}

func (r *Reconciler) onFailed(id, message string) {
	now := time.Now()
	job, err := r.store.Apply(id, Patch{
		Status:        statusPtr(StatusFailed),
		ErrorMessage:  &message,
		ClearProgress: true,
		CompletedAt:   &now,
	})
	r.coal.Drop(id)
	r.sched.Release(id)
	if err != nil {
		r.dropEvent("failed", id, err)
		return
	}
	r.logger.Error("conversion failed", "job_id", id, "error", message)
	// The patched copy still carries the settings and media descriptor the
	// failure report needs, even if the store mutates afterwards.
	r.notifier.ConversionFailed(context.Background(), job, message)
	r.maybeNotifyQueueDone()
}

func (r *Reconciler) onCancelled(id string) {
	now := time.Now()
	_, err := r.store.Apply(id, Patch{
		Status:        statusPtr(StatusCancelled),
		ClearProgress: true,
		CompletedAt:   &now,
	})
	r.coal.Drop(id)
	r.sched.Release(id)
	if err != nil {
		r.dropEvent("cancelled", id, err)
		// A user-side cancel already stamped the job before the encoder's
		// event arrived. The queue may have drained in the meantime, so the
		// completion check still runs for jobs that really are cancelled.
		if job, ok := r.store.Get(id); ok && job.Status == StatusCancelled {
			r.maybeNotifyQueueDone()
		}
		return
	}
	r.logger.Info("conversion cancelled by encoder", "job_id", id)
	r.maybeNotifyQueueDone()
}

// dropEvent logs and swallows an event that no longer maps onto a live job.
// The job may have been removed, or already sits in a terminal state.
func (r *Reconciler) dropEvent(kind, id string, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPrecondition) {
		r.logger.Debug("dropped stale encoder event", "kind", kind, "job_id", id)
		return
	}
	r.logger.Warn("event not applied", "kind", kind, "job_id", id, "error", err)
}

func (r *Reconciler) maybeNotifyQueueDone() {
	stats := r.store.Stats()
	if stats.Total == 0 || stats.Processing > 0 || stats.Pending > 0 {
		return
	}
	r.notifier.QueueCompleted(context.Background(), stats)
}
