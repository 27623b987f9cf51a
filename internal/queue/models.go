package queue

import (
	"strings"
	"time"

	"convertq/internal/encoder"
	"convertq/internal/media"
)

// Status represents the lifecycle of a conversion job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status can only be left via explicit retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// sortRank orders statuses for the caller-facing view: active work first,
// then queued, then terminal outcomes grouped by how actionable they are.
func (s Status) sortRank() int {
	switch s {
	case StatusProcessing:
		return 0
	case StatusPending:
		return 1
	case StatusCancelled:
		return 2
	case StatusFailed:
		return 3
	case StatusCompleted:
		return 4
	default:
		return 5
	}
}

// Settings are the user-chosen conversion parameters for one job. They are
// mutable only while the job is still Pending.
type Settings struct {
	Quality          encoder.Quality `json:"quality"`
	BitrateKbps      int             `json:"bitrateKbps,omitempty"`
	SampleRate       int             `json:"sampleRate,omitempty"`
	Channels         int             `json:"channels,omitempty"`
	Width            int             `json:"width,omitempty"`
	Height           int             `json:"height,omitempty"`
	FPS              int             `json:"fps,omitempty"`
	UseGPU           bool            `json:"useGPU,omitempty"`
	ExtractAudioOnly bool            `json:"extractAudioOnly,omitempty"`
}

// Job is one queued conversion unit. The ID is generated at creation and is
// the correlation key for every asynchronous encoder event.
type Job struct {
	ID           string            `json:"id"`
	SourcePath   string            `json:"sourcePath"`
	DisplayName  string            `json:"displayName"`
	Media        media.Descriptor  `json:"media"`
	OutputFormat string            `json:"outputFormat"`
	OutputPath   string            `json:"outputPath,omitempty"`
	Settings     Settings          `json:"settings"`
	Status       Status            `json:"status"`
	Progress     *encoder.Progress `json:"progress,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	AddedAt      time.Time         `json:"addedAt"`
	CompletedAt  time.Time         `json:"completedAt,omitempty"`
}

// Clone returns a deep copy so callers can hold a snapshot without racing
// the store's writer.
func (j Job) Clone() Job {
	cp := j
	if j.Progress != nil {
		progress := *j.Progress
		cp.Progress = &progress
	}
	cp.Media = j.Media
	if len(j.Media.VideoStreams) > 0 {
		cp.Media.VideoStreams = append([]media.VideoStream(nil), j.Media.VideoStreams...)
	}
	if len(j.Media.AudioStreams) > 0 {
		cp.Media.AudioStreams = append([]media.AudioStream(nil), j.Media.AudioStreams...)
	}
	return cp
}

// Stats aggregates job counts per lifecycle state for the read model.
type Stats struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}
