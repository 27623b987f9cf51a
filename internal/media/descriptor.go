package media

import "strings"

// Type classifies a source file by its dominant stream kind.
type Type string

const (
	TypeAudio   Type = "audio"
	TypeVideo   Type = "video"
	TypeUnknown Type = "unknown"
)

// ParseType converts a string into a known Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case TypeAudio, TypeVideo, TypeUnknown:
		return normalized, true
	}
	return TypeUnknown, false
}

// VideoStream describes a single video stream in the source container.
type VideoStream struct {
	Codec   string  `json:"codec"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
	BitRate int64   `json:"bitRate,omitempty"`
}

// AudioStream describes a single audio stream in the source container.
type AudioStream struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	BitRate    int64  `json:"bitRate,omitempty"`
}

// Descriptor summarizes a source file for queue and dispatch decisions.
// It is produced once at ingestion and never mutated afterwards.
type Descriptor struct {
	Type            Type          `json:"type"`
	DurationSeconds float64       `json:"durationSeconds"`
	SizeBytes       int64         `json:"sizeBytes"`
	FormatName      string        `json:"formatName"`
	VideoStreams    []VideoStream `json:"videoStreams,omitempty"`
	AudioStreams    []AudioStream `json:"audioStreams,omitempty"`
}

// PrimaryVideo returns the first video stream, or nil when the source has none.
func (d *Descriptor) PrimaryVideo() *VideoStream {
	if d == nil || len(d.VideoStreams) == 0 {
		return nil
	}
	return &d.VideoStreams[0]
}

// PrimaryAudio returns the first audio stream, or nil when the source has none.
func (d *Descriptor) PrimaryAudio() *AudioStream {
	if d == nil || len(d.AudioStreams) == 0 {
		return nil
	}
	return &d.AudioStreams[0]
}

// AudioCodec returns the primary audio codec name, or empty.
func (d *Descriptor) AudioCodec() string {
	if audio := d.PrimaryAudio(); audio != nil {
		return audio.Codec
	}
	return ""
}

// VideoCodec returns the primary video codec name, or empty.
func (d *Descriptor) VideoCodec() string {
	if video := d.PrimaryVideo(); video != nil {
		return video.Codec
	}
	return ""
}
