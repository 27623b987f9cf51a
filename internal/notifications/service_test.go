package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"convertq/internal/media"
	"convertq/internal/notifications"
	"convertq/internal/queue"
	"convertq/internal/testsupport"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func sampleJob() queue.Job {
	return queue.Job{
		ID:           "job-1",
		SourcePath:   "/in/holiday_video.mov",
		DisplayName:  "Holiday Video",
		Media:        media.Descriptor{Type: media.TypeVideo, DurationSeconds: 90},
		OutputFormat: "mp4",
		OutputPath:   "/out/holiday_video.mp4",
		Settings:     queue.Settings{Quality: "high"},
	}
}

func TestNoopServiceWhenTopicMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(cfg)
	// Must not panic or reach the network.
	svc.ConversionCompleted(context.Background(), sampleJob())
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("noop test notification returned %v", err)
	}
}

func TestConversionCompletedPayload(t *testing.T) {
	server, requests := newCaptureServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	svc := notifications.NewService(cfg)

	svc.ConversionCompleted(context.Background(), sampleJob())

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if got[0].title != "convertq - Conversion Complete" {
		t.Fatalf("unexpected title %q", got[0].title)
	}
	if !strings.Contains(got[0].body, "Holiday Video") || !strings.Contains(got[0].body, "MP4") {
		t.Fatalf("body missing job context: %q", got[0].body)
	}
}

func TestConversionFailedCarriesJobContext(t *testing.T) {
	server, requests := newCaptureServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	svc := notifications.NewService(cfg)

	svc.ConversionFailed(context.Background(), sampleJob(), "encoder crashed")

	got := requests()
	if len(got) != 1 {
		t.Fatalf("expected 1 request, got %d", len(got))
	}
	if got[0].priority != "high" {
		t.Fatalf("failure should be high priority, got %q", got[0].priority)
	}
	for _, want := range []string{"encoder crashed", "/in/holiday_video.mov", "video", "quality high"} {
		if !strings.Contains(got[0].body, want) {
			t.Fatalf("failure body missing %q: %q", want, got[0].body)
		}
	}
}

func TestQueueCompletedDistinguishesErrors(t *testing.T) {
	server, requests := newCaptureServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	svc := notifications.NewService(cfg)

	svc.QueueCompleted(context.Background(), queue.Stats{Completed: 3})
	svc.QueueCompleted(context.Background(), queue.Stats{Completed: 2, Failed: 1})

	got := requests()
	if len(got) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(got))
	}
	if strings.Contains(got[0].title, "errors") {
		t.Fatalf("clean run flagged with errors: %q", got[0].title)
	}
	if !strings.Contains(got[1].title, "errors") {
		t.Fatalf("failed run not flagged: %q", got[1].title)
	}
}

func TestTogglesSuppressCategories(t *testing.T) {
	server, requests := newCaptureServer(t)
	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	cfg.Notifications.Completion = false
	cfg.Notifications.Errors = false
	cfg.Notifications.Queue = false
	svc := notifications.NewService(cfg)

	svc.ConversionCompleted(context.Background(), sampleJob())
	svc.ConversionFailed(context.Background(), sampleJob(), "boom")
	svc.QueueCompleted(context.Background(), queue.Stats{Completed: 1})

	if got := requests(); len(got) != 0 {
		t.Fatalf("disabled categories still sent %d notifications", len(got))
	}
}

func TestTestNotificationReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)
	cfg := testsupport.NewConfig(t, testsupport.WithNtfyTopic(server.URL))
	svc := notifications.NewService(cfg)

	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error from 403 response")
	}
}
