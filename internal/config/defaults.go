package config

const (
	defaultStateDir           = "~/.local/share/convertq"
	defaultLogDir             = "~/.local/share/convertq/logs"
	defaultMaxParallel        = 4
	defaultMaxFiles           = 50
	defaultProgressIntervalMS = 100
	defaultRetentionDays      = 7
	defaultAutosaveSeconds    = 5
	defaultFFmpegBinary       = "ffmpeg"
	defaultFFprobeBinary      = "ffprobe"
	defaultEncoderTimeout     = 3600
	defaultMinFreeGiB         = 1
	defaultNotifyTimeout      = 10
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Queue: Queue{
			MaxParallel:        defaultMaxParallel,
			MaxFiles:           defaultMaxFiles,
			ProgressIntervalMS: defaultProgressIntervalMS,
			RetentionDays:      defaultRetentionDays,
			AutosaveSeconds:    defaultAutosaveSeconds,
		},
		Encoder: Encoder{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			GPUDetection:   true,
			TimeoutSeconds: defaultEncoderTimeout,
			MinFreeGiB:     defaultMinFreeGiB,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Completion:     true,
			Errors:         true,
			Queue:          true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
