package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"convertq/internal/config"
	"convertq/internal/encoder"
	"convertq/internal/gpu"
	"convertq/internal/logging"
	"convertq/internal/notifications"
	"convertq/internal/persist"
	"convertq/internal/queue"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withManager assembles the full queue stack for one command invocation and
// tears it down afterwards. The manager flushes its snapshot on close, so
// mutations made inside fn survive the process.
func (c *commandContext) withManager(ctx context.Context, fn func(*queue.Manager) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := persist.Open(cfg, logger)
	if err != nil {
		if errors.Is(err, persist.ErrLocked) {
			return fmt.Errorf("state directory %s is locked; another convertq instance is running", cfg.Paths.StateDir)
		}
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	accel := gpu.None()
	if cfg.Encoder.GPUDetection {
		accel = gpu.Detect(ctx, cfg.Encoder.FFmpegBinary)
	}

	client := encoder.NewFFmpeg(
		logging.WithComponent(logger, "encoder"),
		encoder.WithBinary(cfg.Encoder.FFmpegBinary),
		encoder.WithTimeout(time.Duration(cfg.Encoder.TimeoutSeconds)*time.Second),
	)
	defer client.Close()

	notifier := notifications.NewService(cfg)

	manager := queue.NewManager(cfg, client, store, notifier, accel, logger)
	defer manager.Close()

	return fn(manager)
}

func (c *commandContext) notifierService() (notifications.Service, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return notifications.NewService(cfg), nil
}
