package encoder

import (
	"context"

	"convertq/internal/gpu"
)

// Task carries the fields every conversion request shares. The ID correlates
// all asynchronous events emitted for the request.
type Task struct {
	ID              string
	InputPath       string
	OutputPath      string
	Format          string
	DurationSeconds float64
}

// Quality names the encoding quality presets.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
	QualityCustom Quality = "custom"
)

// AudioSettings parameterizes audio-output conversions.
type AudioSettings struct {
	Quality     Quality
	BitrateKbps int
	SampleRate  int
	Channels    int
}

// VideoSettings parameterizes full video conversions.
type VideoSettings struct {
	Quality    Quality
	VideoCodec string
	AudioCodec string
	Width      int
	Height     int
	FPS        int
	UseGPU     bool
}

// AudioRequest converts an audio source to an audio format.
type AudioRequest struct {
	Task
	Settings AudioSettings
}

// VideoRequest converts a video source to a video format.
type VideoRequest struct {
	Task
	Settings VideoSettings
	GPU      gpu.Info
}

// ExtractRequest produces an audio file from a video source.
type ExtractRequest struct {
	Task
	Settings AudioSettings
}

// Client defines the narrow command surface of the external encoder. All three
// convert calls return once the encoder process is launched; outcome and
// progress arrive later on the Events channel, keyed by task ID. A synchronous
// error means no event will ever be emitted for that task.
type Client interface {
	ConvertAudio(ctx context.Context, req AudioRequest) error
	ConvertVideo(ctx context.Context, req VideoRequest) error
	ExtractAudio(ctx context.Context, req ExtractRequest) error
	Cancel(ctx context.Context, taskID string) error
	Events() <-chan Event
	Close() error
}
