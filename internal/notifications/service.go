package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"convertq/internal/config"
	"convertq/internal/queue"
)

const userAgent = "convertq/0.1.0"

// Service is the notification surface the queue reconciler and CLI use. It
// satisfies queue.Notifier, and cancellation is deliberately absent: a
// user-directed stop is not an outcome worth pushing.
type Service interface {
	queue.Notifier
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:        topic,
		client:          &http.Client{Timeout: timeout},
		sendCompletions: cfg.Notifications.Completion,
		sendErrors:      cfg.Notifications.Errors,
		sendQueue:       cfg.Notifications.Queue,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint        string
	client          *http.Client
	sendCompletions bool
	sendErrors      bool
	sendQueue       bool
}

func (n *ntfyService) ConversionCompleted(ctx context.Context, job queue.Job) {
	if !n.sendCompletions {
		return
	}
	message := fmt.Sprintf("Converted: %s -> %s", job.DisplayName, strings.ToUpper(job.OutputFormat))
	if job.OutputPath != "" {
		message = fmt.Sprintf("%s\nFile: %s", message, job.OutputPath)
	}
	_ = n.send(ctx, payload{
		title:   "convertq - Conversion Complete",
		message: message,
		tags:    []string{"convertq", "conversion", "completed"},
	})
}

func (n *ntfyService) ConversionFailed(ctx context.Context, job queue.Job, message string) {
	if !n.sendErrors {
		return
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "Conversion failed: %s", job.DisplayName)
	if message = strings.TrimSpace(message); message != "" {
		builder.WriteString("\n")
		builder.WriteString(message)
	}
	// Carry the job context along so the report is useful on its own.
	fmt.Fprintf(&builder, "\nSource: %s (%s)", job.SourcePath, job.Media.Type)
	fmt.Fprintf(&builder, "\nTarget: %s, quality %s", job.OutputFormat, job.Settings.Quality)
	_ = n.send(ctx, payload{
		title:    "convertq - Conversion Failed",
		message:  builder.String(),
		tags:     []string{"convertq", "conversion", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) QueueCompleted(ctx context.Context, stats queue.Stats) {
	if !n.sendQueue {
		return
	}
	var message string
	var title string
	if stats.Failed == 0 {
		title = "convertq - Queue Complete"
		message = fmt.Sprintf("Queue finished: %d conversions completed", stats.Completed)
	} else {
		title = "convertq - Queue Complete (with errors)"
		message = fmt.Sprintf("Queue finished: %d completed, %d failed", stats.Completed, stats.Failed)
	}
	_ = n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"convertq", "queue", "completed"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "convertq - Test",
		message:  "Notification system test",
		tags:     []string{"convertq", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) ConversionCompleted(context.Context, queue.Job)      {}
func (noopService) ConversionFailed(context.Context, queue.Job, string) {}
func (noopService) QueueCompleted(context.Context, queue.Stats)         {}
func (noopService) TestNotification(context.Context) error              { return nil }
