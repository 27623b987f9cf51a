package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Probe executes ffprobe against the provided path and summarizes the result
// into a Descriptor.
func Probe(ctx context.Context, binary, path string) (*Descriptor, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("probe: empty path")
	}

	cmd := exec.CommandContext(ctx, binary, "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", "--", path)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}

	descriptor, err := parseProbeOutput(output)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", path, err)
	}
	if descriptor.SizeBytes == 0 {
		if info, statErr := os.Stat(path); statErr == nil {
			descriptor.SizeBytes = info.Size()
		}
	}
	return descriptor, nil
}

type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitRate    string `json:"bit_rate"`
}

type probeFormat struct {
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

func parseProbeOutput(output []byte) (*Descriptor, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	descriptor := &Descriptor{
		Type:            TypeUnknown,
		DurationSeconds: parseFloat(result.Format.Duration),
		SizeBytes:       int64(parseFloat(result.Format.Size)),
		FormatName:      result.Format.FormatName,
	}
	if descriptor.FormatName == "" {
		descriptor.FormatName = "unknown"
	}

	for _, stream := range result.Streams {
		switch strings.ToLower(stream.CodecType) {
		case "video":
			if stream.CodecName == "" {
				continue
			}
			descriptor.VideoStreams = append(descriptor.VideoStreams, VideoStream{
				Codec:   stream.CodecName,
				Width:   stream.Width,
				Height:  stream.Height,
				FPS:     parseFrameRate(stream.RFrameRate),
				BitRate: int64(parseFloat(stream.BitRate)),
			})
		case "audio":
			if stream.CodecName == "" {
				continue
			}
			descriptor.AudioStreams = append(descriptor.AudioStreams, AudioStream{
				Codec:      stream.CodecName,
				SampleRate: int(parseFloat(stream.SampleRate)),
				Channels:   stream.Channels,
				BitRate:    int64(parseFloat(stream.BitRate)),
			})
		}
	}

	switch {
	case len(descriptor.VideoStreams) > 0:
		descriptor.Type = TypeVideo
	case len(descriptor.AudioStreams) > 0:
		descriptor.Type = TypeAudio
	}

	return descriptor, nil
}

// parseFrameRate converts ffprobe's rational frame rate ("30000/1001") into
// frames per second.
func parseFrameRate(value string) float64 {
	parts := strings.SplitN(strings.TrimSpace(value), "/", 2)
	if len(parts) != 2 {
		return parseFloat(value)
	}
	num := parseFloat(parts[0])
	den := parseFloat(parts[1])
	if den == 0 {
		return 0
	}
	return num / den
}

func parseFloat(value string) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0
	}
	return parsed
}
