package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"convertq/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Queue.AutosaveSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithMaxParallel overrides the scheduler's concurrency bound.
func WithMaxParallel(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxParallel = n
	}
}

// WithMaxFiles overrides the queue capacity bound.
func WithMaxFiles(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxFiles = n
	}
}

// WithNtfyTopic points notifications at the given endpoint and enables all
// notification categories.
func WithNtfyTopic(endpoint string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = endpoint
		b.cfg.Notifications.Completion = true
		b.cfg.Notifications.Errors = true
		b.cfg.Notifications.Queue = true
	}
}

// WithStubbedBinaries writes stub executables for the provided names,
// prepends them to PATH, and points the encoder config at them. If names is
// empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
			switch name {
			case "ffmpeg":
				b.cfg.Encoder.FFmpegBinary = target
			case "ffprobe":
				b.cfg.Encoder.FFprobeBinary = target
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
