package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"convertq/internal/encoder"
	"convertq/internal/queue"
)

// settingsFlags carries the per-job conversion parameters accepted by the
// add and run commands.
type settingsFlags struct {
	format       string
	quality      string
	bitrateKbps  int
	sampleRate   int
	channels     int
	width        int
	height       int
	fps          int
	useGPU       bool
	extractAudio bool
}

func (f *settingsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.format, "format", "f", "mp3", "Target output format (mp3, aac, flac, mp4, mkv, ...)")
	cmd.Flags().StringVarP(&f.quality, "quality", "q", string(encoder.QualityMedium), "Quality preset (low, medium, high, ultra, custom)")
	cmd.Flags().IntVar(&f.bitrateKbps, "bitrate", 0, "Audio bitrate in kbps (custom quality)")
	cmd.Flags().IntVar(&f.sampleRate, "sample-rate", 0, "Audio sample rate in Hz")
	cmd.Flags().IntVar(&f.channels, "channels", 0, "Audio channel count")
	cmd.Flags().IntVar(&f.width, "width", 0, "Video output width")
	cmd.Flags().IntVar(&f.height, "height", 0, "Video output height")
	cmd.Flags().IntVar(&f.fps, "fps", 0, "Video output frame rate")
	cmd.Flags().BoolVar(&f.useGPU, "gpu", false, "Use a hardware encoder when one is available")
	cmd.Flags().BoolVar(&f.extractAudio, "extract-audio", false, "Extract the audio track from video sources")
}

func (f *settingsFlags) settings() (string, queue.Settings, error) {
	format := strings.ToLower(strings.TrimSpace(f.format))
	if format == "" {
		return "", queue.Settings{}, fmt.Errorf("output format is required")
	}
	quality := encoder.Quality(strings.ToLower(strings.TrimSpace(f.quality)))
	switch quality {
	case encoder.QualityLow, encoder.QualityMedium, encoder.QualityHigh, encoder.QualityUltra, encoder.QualityCustom:
	default:
		return "", queue.Settings{}, fmt.Errorf("unknown quality preset %q", f.quality)
	}
	return format, queue.Settings{
		Quality:          quality,
		BitrateKbps:      f.bitrateKbps,
		SampleRate:       f.sampleRate,
		Channels:         f.channels,
		Width:            f.width,
		Height:           f.height,
		FPS:              f.fps,
		UseGPU:           f.useGPU,
		ExtractAudioOnly: f.extractAudio,
	}, nil
}

// resolveJobID accepts a full job id or a unique prefix of one.
func resolveJobID(m *queue.Manager, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("empty job id")
	}
	if _, ok := m.Get(arg); ok {
		return arg, nil
	}
	var match string
	for _, job := range m.SortedFiles() {
		if strings.HasPrefix(job.ID, arg) {
			if match != "" {
				return "", fmt.Errorf("job id prefix %q is ambiguous", arg)
			}
			match = job.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("no queued job matches %q", arg)
	}
	return match, nil
}

func reportOutcome(cmd *cobra.Command, outcome queue.AddOutcome) {
	out := cmd.OutOrStdout()
	for _, job := range outcome.Added {
		fmt.Fprintf(out, "Queued %s as %s\n", job.SourcePath, shortID(job.ID))
	}
	for _, path := range outcome.Duplicates {
		fmt.Fprintf(out, "Skipped %s: already queued\n", path)
	}
	for _, path := range outcome.Rejected {
		fmt.Fprintf(out, "Skipped %s: queue is full\n", path)
	}
	for path, message := range outcome.Errors {
		fmt.Fprintf(out, "Skipped %s: %s\n", path, message)
	}
}
