package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteMediaFile creates a WAV-shaped fixture of the requested size: a RIFF
// preamble followed by pattern bytes. The content is not decodable media; it
// gives probe-stubbed tests an input file with realistic bulk.
func WriteMediaFile(t testing.TB, path string, size int64) {
	t.Helper()

	preamble := []byte("RIFF\x00\x00\x00\x00WAVEfmt ")
	if size < int64(len(preamble)) {
		size = int64(len(preamble))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	if _, err := f.Write(preamble); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}
	remaining := size - int64(len(preamble))
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}
