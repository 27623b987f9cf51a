package gpu

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

const (
	detectTimeout       = 10 * time.Second
	encoderCheckTimeout = 5 * time.Second
)

// Vendor identifies the GPU family the encoder capability belongs to.
type Vendor string

const (
	VendorNvidia Vendor = "nvidia"
	VendorIntel  Vendor = "intel"
	VendorAMD    Vendor = "amd"
	VendorApple  Vendor = "apple"
	VendorNone   Vendor = "none"
)

// Info describes hardware acceleration capability. The queue treats it as
// opaque; only the encoder command builder interprets it.
type Info struct {
	Vendor      Vendor `json:"vendor"`
	Name        string `json:"name"`
	EncoderH264 string `json:"encoderH264,omitempty"`
	EncoderH265 string `json:"encoderH265,omitempty"`
	Available   bool   `json:"available"`
}

// None returns the CPU-only fallback capability.
func None() Info {
	return Info{Vendor: VendorNone, Name: "CPU Only"}
}

// HWAccelArgs returns the ffmpeg input-side hardware acceleration flags.
func (i Info) HWAccelArgs() []string {
	if !i.Available {
		return nil
	}
	switch i.Vendor {
	case VendorNvidia:
		return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
	case VendorIntel:
		return []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}
	case VendorAMD:
		return []string{"-hwaccel", "auto"}
	case VendorApple:
		return []string{"-hwaccel", "videotoolbox"}
	default:
		return nil
	}
}

// Detect probes for a usable hardware encoder, preferring NVIDIA, then AMD,
// then Intel, then Apple. A vendor only counts when ffmpeg reports the
// matching encoder, so a GPU without driver support falls back to CPU.
func Detect(ctx context.Context, ffmpegBinary string) Info {
	encoders := listEncoders(ctx, ffmpegBinary)
	if encoders == "" {
		return None()
	}

	if name := nvidiaName(ctx); name != "" && strings.Contains(encoders, "h264_nvenc") {
		return Info{Vendor: VendorNvidia, Name: name, EncoderH264: "h264_nvenc", EncoderH265: "hevc_nvenc", Available: true}
	}
	if name := pciName(ctx, "amd", "radeon"); name != "" && strings.Contains(encoders, "h264_amf") {
		return Info{Vendor: VendorAMD, Name: name, EncoderH264: "h264_amf", EncoderH265: "hevc_amf", Available: true}
	}
	if name := pciName(ctx, "intel", "hd graphics", "uhd graphics", "iris"); name != "" && strings.Contains(encoders, "h264_qsv") {
		return Info{Vendor: VendorIntel, Name: name, EncoderH264: "h264_qsv", EncoderH265: "hevc_qsv", Available: true}
	}
	if strings.Contains(encoders, "h264_videotoolbox") {
		return Info{Vendor: VendorApple, Name: "Apple GPU", EncoderH264: "h264_videotoolbox", EncoderH265: "hevc_videotoolbox", Available: true}
	}

	return None()
}

func listEncoders(ctx context.Context, ffmpegBinary string) string {
	checkCtx, cancel := context.WithTimeout(ctx, encoderCheckTimeout)
	defer cancel()

	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	output, err := exec.CommandContext(checkCtx, ffmpegBinary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return ""
	}
	return string(output)
}

func nvidiaName(ctx context.Context) string {
	detectCtx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	output, err := exec.CommandContext(detectCtx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(string(output), "\n", 2)[0])
}

func pciName(ctx context.Context, keywords ...string) string {
	detectCtx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	output, err := exec.CommandContext(detectCtx, "lspci").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(output), "\n") {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga") {
			continue
		}
		for _, keyword := range keywords {
			if strings.Contains(lower, keyword) {
				parts := strings.SplitN(line, ":", 3)
				if len(parts) == 3 {
					return strings.TrimSpace(parts[2])
				}
				return strings.TrimSpace(line)
			}
		}
	}
	return ""
}
