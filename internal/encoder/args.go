package encoder

import (
	"fmt"
	"strconv"
	"strings"
)

// argBuilder accumulates an ffmpeg invocation. Video filters are collected
// separately and folded into a single -vf argument at build time.
type argBuilder struct {
	args    []string
	filters []string
}

func newArgBuilder(input string) *argBuilder {
	b := &argBuilder{args: make([]string, 0, 32)}
	b.flag("-hide_banner").flag("-y")
	b.arg("-i", input)
	b.arg("-progress", "pipe:1")
	b.flag("-nostats")
	return b
}

func (b *argBuilder) arg(key, value string) *argBuilder {
	b.args = append(b.args, key, value)
	return b
}

func (b *argBuilder) flag(flag string) *argBuilder {
	b.args = append(b.args, flag)
	return b
}

func (b *argBuilder) filter(expr string) *argBuilder {
	b.filters = append(b.filters, expr)
	return b
}

func (b *argBuilder) build(output string) []string {
	args := b.args
	if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	return append(args, output)
}

// audioCodecFor maps an output format to ffmpeg's encoder name.
func audioCodecFor(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "mp3":
		return "libmp3lame"
	case "aac", "m4a":
		return "aac"
	case "ogg":
		return "libvorbis"
	case "opus":
		return "libopus"
	case "flac":
		return "flac"
	case "wav":
		return "pcm_s16le"
	case "wma":
		return "wmav2"
	default:
		return "libmp3lame"
	}
}

// videoCodecFor maps an output format to the default software encoder. An
// explicit codec in the settings, or a GPU encoder, overrides this.
func videoCodecFor(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "webm":
		return "libvpx-vp9"
	case "avi":
		return "mpeg4"
	case "ogv":
		return "libtheora"
	default:
		return "libx264"
	}
}

func lossyFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "flac", "wav":
		return false
	default:
		return true
	}
}

func (q Quality) normalize() Quality {
	switch q {
	case QualityLow, QualityMedium, QualityHigh, QualityUltra, QualityCustom:
		return q
	default:
		return QualityMedium
	}
}

func (q Quality) audioBitrateKbps() int {
	switch q.normalize() {
	case QualityLow:
		return 128
	case QualityHigh:
		return 256
	case QualityUltra:
		return 320
	default:
		return 192
	}
}

func (q Quality) crf() string {
	switch q.normalize() {
	case QualityLow:
		return "28"
	case QualityHigh:
		return "19"
	case QualityUltra:
		return "15"
	default:
		return "23"
	}
}

func (q Quality) x264Preset() string {
	switch q.normalize() {
	case QualityLow:
		return "faster"
	case QualityHigh:
		return "slow"
	case QualityUltra:
		return "veryslow"
	default:
		return "medium"
	}
}

func buildAudioArgs(req AudioRequest) []string {
	b := newArgBuilder(req.InputPath)
	b.flag("-vn")
	b.arg("-c:a", audioCodecFor(req.Format))
	applyAudioSettings(b, req.Format, req.Settings)
	return b.build(req.OutputPath)
}

func buildExtractArgs(req ExtractRequest) []string {
	b := newArgBuilder(req.InputPath)
	b.flag("-vn")
	b.arg("-c:a", audioCodecFor(req.Format))
	applyAudioSettings(b, req.Format, req.Settings)
	return b.build(req.OutputPath)
}

func applyAudioSettings(b *argBuilder, format string, settings AudioSettings) {
	if lossyFormat(format) {
		bitrate := settings.BitrateKbps
		if bitrate <= 0 {
			bitrate = settings.Quality.audioBitrateKbps()
		}
		b.arg("-b:a", fmt.Sprintf("%dk", bitrate))
	}
	if settings.SampleRate > 0 {
		b.arg("-ar", strconv.Itoa(settings.SampleRate))
	}
	if settings.Channels > 0 {
		b.arg("-ac", strconv.Itoa(settings.Channels))
	}
}

func buildVideoArgs(req VideoRequest) []string {
	codec := strings.TrimSpace(req.Settings.VideoCodec)
	useGPU := req.Settings.UseGPU && req.GPU.Available
	if codec == "" {
		if useGPU && req.GPU.EncoderH264 != "" {
			codec = req.GPU.EncoderH264
		} else {
			codec = videoCodecFor(req.Format)
		}
	}

	b := &argBuilder{args: make([]string, 0, 48)}
	b.flag("-hide_banner").flag("-y")
	if useGPU {
		for _, arg := range req.GPU.HWAccelArgs() {
			b.flag(arg)
		}
	}
	b.arg("-i", req.InputPath)
	b.arg("-progress", "pipe:1")
	b.flag("-nostats")

	b.arg("-c:v", codec)
	applyVideoCodecPreset(b, codec, req.Settings.Quality)

	if req.Settings.Width > 0 && req.Settings.Height > 0 {
		// Encoders reject odd dimensions for 4:2:0 content.
		width := req.Settings.Width &^ 1
		height := req.Settings.Height &^ 1
		b.filter(fmt.Sprintf("scale=%d:%d", width, height))
	}
	if req.Settings.FPS > 0 {
		b.arg("-r", strconv.Itoa(req.Settings.FPS))
	}

	audioCodec := strings.TrimSpace(req.Settings.AudioCodec)
	if audioCodec == "" {
		audioCodec = defaultVideoAudioCodec(req.Format)
	}
	b.arg("-c:a", audioCodec)

	return b.build(req.OutputPath)
}

func defaultVideoAudioCodec(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "webm":
		return "libopus"
	case "ogv":
		return "libvorbis"
	default:
		return "aac"
	}
}

func applyVideoCodecPreset(b *argBuilder, codec string, quality Quality) {
	switch {
	case strings.Contains(codec, "nvenc"):
		b.arg("-preset", "p7").arg("-tune", "hq").arg("-rc", "vbr").arg("-cq", quality.crf())
	case strings.Contains(codec, "qsv"):
		b.arg("-preset", "veryslow").arg("-global_quality", quality.crf())
	case strings.Contains(codec, "amf"):
		b.arg("-usage", "transcoding").arg("-quality", amfQuality(quality))
	case strings.Contains(codec, "videotoolbox"):
		b.arg("-profile:v", "high").arg("-allow_sw", "1")
	case strings.Contains(codec, "libvpx"):
		b.arg("-crf", vpxCRF(quality)).arg("-b:v", "0").arg("-cpu-used", vpxCPUUsed(quality))
		if strings.Contains(codec, "vp9") {
			b.arg("-row-mt", "1").arg("-tile-columns", "2")
		}
	case codec == "libtheora":
		b.arg("-q:v", theoraQuality(quality))
	case codec == "mpeg2video":
		bitrate := mpeg2Bitrate(quality)
		b.arg("-b:v", bitrate).arg("-maxrate", bitrate).arg("-bufsize", "2M")
	case strings.Contains(codec, "libx26"):
		b.arg("-preset", quality.x264Preset()).arg("-crf", quality.crf())
	}
}

func amfQuality(quality Quality) string {
	switch quality.normalize() {
	case QualityLow:
		return "speed"
	case QualityHigh, QualityUltra:
		return "quality"
	default:
		return "balanced"
	}
}

func vpxCRF(quality Quality) string {
	switch quality.normalize() {
	case QualityLow:
		return "35"
	case QualityHigh:
		return "24"
	case QualityUltra:
		return "15"
	default:
		return "31"
	}
}

func vpxCPUUsed(quality Quality) string {
	switch quality.normalize() {
	case QualityLow:
		return "5"
	case QualityHigh:
		return "1"
	case QualityUltra:
		return "0"
	default:
		return "2"
	}
}

func theoraQuality(quality Quality) string {
	switch quality.normalize() {
	case QualityLow:
		return "3"
	case QualityHigh:
		return "7"
	case QualityUltra:
		return "10"
	default:
		return "5"
	}
}

func mpeg2Bitrate(quality Quality) string {
	switch quality.normalize() {
	case QualityLow:
		return "4000k"
	case QualityHigh:
		return "8000k"
	case QualityUltra:
		return "12000k"
	default:
		return "6000k"
	}
}
