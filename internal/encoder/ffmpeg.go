package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"convertq/internal/fileutil"
	"convertq/internal/logging"
)

var commandContext = exec.CommandContext

const (
	defaultTimeout  = time.Hour
	eventBufferSize = 256
	stderrTailBytes = 4096
	pipeWaitDelay   = 2 * time.Second
)

// Option configures the FFmpeg client.
type Option func(*FFmpeg)

// WithBinary overrides the default ffmpeg binary name.
func WithBinary(binary string) Option {
	return func(f *FFmpeg) {
		if binary != "" {
			f.binary = binary
		}
	}
}

// WithTimeout overrides the per-conversion wall-clock limit.
func WithTimeout(timeout time.Duration) Option {
	return func(f *FFmpeg) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// FFmpeg drives conversions through the ffmpeg command line, one process per
// task, and reports progress and outcomes on the Events channel.
type FFmpeg struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
	events  chan Event

	mu      sync.Mutex
	procs   map[string]*process
	closing bool
	wg      sync.WaitGroup
}

type process struct {
	cancel    context.CancelFunc
	cancelled bool
}

// NewFFmpeg constructs an FFmpeg client.
func NewFFmpeg(logger *slog.Logger, opts ...Option) *FFmpeg {
	f := &FFmpeg{
		binary:  "ffmpeg",
		timeout: defaultTimeout,
		logger:  logging.WithComponent(logger, "encoder"),
		events:  make(chan Event, eventBufferSize),
		procs:   make(map[string]*process),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Events returns the encoder's event channel. At most one consumer may read it.
func (f *FFmpeg) Events() <-chan Event {
	return f.events
}

// ConvertAudio launches an audio-to-audio conversion.
func (f *FFmpeg) ConvertAudio(ctx context.Context, req AudioRequest) error {
	return f.launch(ctx, req.Task, buildAudioArgs(req))
}

// ConvertVideo launches a full video conversion.
func (f *FFmpeg) ConvertVideo(ctx context.Context, req VideoRequest) error {
	return f.launch(ctx, req.Task, buildVideoArgs(req))
}

// ExtractAudio launches an audio extraction from a video source.
func (f *FFmpeg) ExtractAudio(ctx context.Context, req ExtractRequest) error {
	return f.launch(ctx, req.Task, buildExtractArgs(req))
}

// Cancel kills the running conversion for taskID. The cancelled event arrives
// asynchronously once the process exits.
func (f *FFmpeg) Cancel(_ context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	proc, ok := f.procs[taskID]
	if !ok {
		return fmt.Errorf("no active conversion for task %s", taskID)
	}
	proc.cancelled = true
	proc.cancel()
	return nil
}

// Close kills all running conversions, waits for their monitors to finish,
// and closes the event channel.
func (f *FFmpeg) Close() error {
	f.mu.Lock()
	if f.closing {
		f.mu.Unlock()
		return nil
	}
	f.closing = true
	for _, proc := range f.procs {
		proc.cancelled = true
		proc.cancel()
	}
	f.mu.Unlock()

	f.wg.Wait()
	close(f.events)
	return nil
}

func (f *FFmpeg) launch(ctx context.Context, task Task, args []string) error {
	if strings.TrimSpace(task.ID) == "" {
		return errors.New("task id required")
	}
	if strings.TrimSpace(task.InputPath) == "" {
		return errors.New("input path required")
	}
	if strings.TrimSpace(task.OutputPath) == "" {
		return errors.New("output path required")
	}

	// The process must outlive the caller's context; only the per-conversion
	// timeout and Cancel stop it.
	procCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)

	cmd := commandContext(procCtx, f.binary, args...) //nolint:gosec
	// A killed encoder can leave child processes holding the pipes open;
	// WaitDelay forces them closed so the monitor still observes the exit.
	cmd.WaitDelay = pipeWaitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	f.mu.Lock()
	if f.closing {
		f.mu.Unlock()
		cancel()
		return errors.New("encoder is shutting down")
	}
	if _, exists := f.procs[task.ID]; exists {
		f.mu.Unlock()
		cancel()
		return fmt.Errorf("task %s already running", task.ID)
	}

	if err := cmd.Start(); err != nil {
		f.mu.Unlock()
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	proc := &process{cancel: cancel}
	f.procs[task.ID] = proc
	f.wg.Add(1)
	f.mu.Unlock()

	go f.monitor(procCtx, cmd, proc, task, stdout, stderr)
	return nil
}

func (f *FFmpeg) monitor(procCtx context.Context, cmd *exec.Cmd, proc *process, task Task, stdout, stderr io.Reader) {
	defer f.wg.Done()
	defer proc.cancel()

	stderrTail := make(chan string, 1)
	go func() {
		stderrTail <- readTail(stderr)
	}()

	parser := newProgressParser(task.DurationSeconds)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if progress := parser.parseLine(scanner.Text()); progress != nil {
			f.emit(Event{Kind: EventProgress, TaskID: task.ID, Progress: progress})
		}
	}

	waitErr := cmd.Wait()
	tail := <-stderrTail

	f.mu.Lock()
	cancelled := proc.cancelled
	delete(f.procs, task.ID)
	f.mu.Unlock()

	switch {
	case cancelled:
		f.cleanupOutput(task)
		f.emit(Event{Kind: EventCancelled, TaskID: task.ID})
	case errors.Is(procCtx.Err(), context.DeadlineExceeded):
		f.cleanupOutput(task)
		f.emit(Event{Kind: EventFailed, TaskID: task.ID, Message: fmt.Sprintf("conversion timed out after %s", f.timeout)})
	case waitErr != nil:
		f.cleanupOutput(task)
		message := fmt.Sprintf("ffmpeg failed: %v", waitErr)
		if tail != "" {
			message = fmt.Sprintf("%s: %s", message, tail)
		}
		f.emit(Event{Kind: EventFailed, TaskID: task.ID, Message: message})
	default:
		f.emit(Event{Kind: EventCompleted, TaskID: task.ID})
	}
}

func (f *FFmpeg) cleanupOutput(task Task) {
	if err := fileutil.RemoveIfExists(task.OutputPath); err != nil {
		f.logger.Warn("remove partial output", "task", task.ID, "path", task.OutputPath, "error", err)
	}
}

// emit never blocks; when the consumer falls behind the buffer, the event is
// dropped. Progress events are safe to drop, and with coalescing downstream
// the buffer only fills when no consumer is attached at all.
func (f *FFmpeg) emit(event Event) {
	select {
	case f.events <- event:
	default:
		f.logger.Warn("event buffer full, dropping event", "kind", string(event.Kind), "task", event.TaskID)
	}
}

// readTail keeps the last stderrTailBytes of the stream for error reporting.
func readTail(r io.Reader) string {
	var buf bytes.Buffer
	tmp := make([]byte, 1024)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf.Write(tmp[:n])
			if buf.Len() > stderrTailBytes {
				trimmed := buf.Bytes()[buf.Len()-stderrTailBytes:]
				buf = *bytes.NewBuffer(append([]byte(nil), trimmed...))
			}
		}
		if err != nil {
			break
		}
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}

var _ Client = (*FFmpeg)(nil)
