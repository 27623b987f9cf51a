package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"convertq/internal/config"
	"convertq/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDiskSpace verifies the filesystem holding path has at least minGiB
// free for conversion output.
func CheckDiskSpace(name, path string, minGiB int) Result {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	freeBytes := stat.Bavail * uint64(stat.Bsize)
	freeGiB := float64(freeBytes) / (1 << 30)
	if minGiB > 0 && freeBytes < uint64(minGiB)<<30 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%.1f GiB free, need %d GiB)", path, freeGiB, minGiB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%.1f GiB free)", path, freeGiB)}
}

// CheckEncoderBinaries evaluates the external tool requirements. The status
// command and the run command both use this to avoid duplicating the list.
func CheckEncoderBinaries(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Encoder.FFmpegBinary,
			Description: "Required for media conversion",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.Encoder.FFprobeBinary,
			Description: "Required for media inspection",
		},
	}
	if cfg.Encoder.GPUDetection {
		requirements = append(requirements, deps.Requirement{
			Name:        "nvidia-smi",
			Command:     "nvidia-smi",
			Description: "Improves GPU detection on NVIDIA systems",
			Optional:    true,
		})
	}
	return deps.CheckBinaries(requirements)
}
