package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"convertq/internal/config"
	"convertq/internal/testsupport"
)

const probeStubScript = `#!/bin/sh
cat <<'JSON'
{
  "streams": [
    {"codec_name": "pcm_s16le", "codec_type": "audio", "sample_rate": "44100", "channels": 2}
  ],
  "format": {"duration": "120.0", "size": "1024", "format_name": "wav"}
}
JSON
`

type cliTestEnv struct {
	configPath string
	baseDir    string
	sourceFile string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Queue.AutosaveSeconds = 1

	binDir := filepath.Join(base, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}
	probeStub := filepath.Join(binDir, "ffprobe")
	if err := os.WriteFile(probeStub, []byte(probeStubScript), 0o755); err != nil {
		t.Fatalf("write ffprobe stub: %v", err)
	}
	cfgVal.Encoder.FFprobeBinary = probeStub

	source := filepath.Join(base, "input.wav")
	testsupport.WriteMediaFile(t, source, 64*1024)

	encoded, err := toml.Marshal(cfgVal)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, encoded, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{
		configPath: configPath,
		baseDir:    base,
		sourceFile: source,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, haystack, needle string) {
	t.Helper()
	if !strings.Contains(haystack, needle) {
		t.Fatalf("expected output to contain %q, got:\n%s", needle, haystack)
	}
}
