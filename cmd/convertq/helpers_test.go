package main

import (
	"testing"

	"convertq/internal/encoder"
	"convertq/internal/queue"
)

func TestSettingsFlagsValidation(t *testing.T) {
	flags := settingsFlags{format: "MP3", quality: "High", bitrateKbps: 192}
	format, settings, err := flags.settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if format != "mp3" {
		t.Fatalf("format not lowercased: %q", format)
	}
	if settings.Quality != encoder.QualityHigh || settings.BitrateKbps != 192 {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	flags = settingsFlags{format: "mp3", quality: "insane"}
	if _, _, err := flags.settings(); err == nil {
		t.Fatal("expected unknown quality to be rejected")
	}

	flags = settingsFlags{format: "  ", quality: "medium"}
	if _, _, err := flags.settings(); err == nil {
		t.Fatal("expected empty format to be rejected")
	}
}

func TestRenderJobTableShowsErrorDetail(t *testing.T) {
	jobs := []queue.Job{
		{
			ID:           "0123456789abcdef",
			DisplayName:  "Song",
			OutputFormat: "mp3",
			Status:       queue.StatusFailed,
			ErrorMessage: "encoder exited with status 1",
		},
	}
	out := renderJobTable(jobs, false)
	requireContains(t, out, "01234567")
	requireContains(t, out, "Song")
	requireContains(t, out, "MP3")
	requireContains(t, out, "failed")
	requireContains(t, out, "encoder exited with status 1")
}

func TestFormatPercent(t *testing.T) {
	job := queue.Job{Status: queue.StatusProcessing, Progress: &encoder.Progress{Percent: 42.4}}
	if got := formatPercent(job); got != "42%" {
		t.Fatalf("formatPercent = %q", got)
	}
	job = queue.Job{Status: queue.StatusCompleted}
	if got := formatPercent(job); got != "100%" {
		t.Fatalf("completed without progress = %q", got)
	}
	job = queue.Job{Status: queue.StatusPending}
	if got := formatPercent(job); got != "" {
		t.Fatalf("pending = %q", got)
	}
}
