package config

import (
	"errors"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateEncoder(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxParallel <= 0 {
		return errors.New("queue.max_parallel must be positive")
	}
	if c.Queue.MaxFiles <= 0 {
		return errors.New("queue.max_files must be positive")
	}
	if c.Queue.MaxFiles < c.Queue.MaxParallel {
		return errors.New("queue.max_files must be at least queue.max_parallel")
	}
	if c.Queue.ProgressIntervalMS <= 0 {
		return errors.New("queue.progress_interval_ms must be positive")
	}
	if c.Queue.RetentionDays <= 0 {
		return errors.New("queue.retention_days must be positive")
	}
	if c.Queue.AutosaveSeconds <= 0 {
		return errors.New("queue.autosave_seconds must be positive")
	}
	return nil
}

func (c *Config) validateEncoder() error {
	if strings.TrimSpace(c.Encoder.FFmpegBinary) == "" {
		return errors.New("encoder.ffmpeg_binary must be set")
	}
	if strings.TrimSpace(c.Encoder.FFprobeBinary) == "" {
		return errors.New("encoder.ffprobe_binary must be set")
	}
	if c.Encoder.TimeoutSeconds <= 0 {
		return errors.New("encoder.timeout_seconds must be positive")
	}
	if c.Encoder.MinFreeGiB < 0 {
		return errors.New("encoder.min_free_gib must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errors.New("logging.format must be console or json")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
