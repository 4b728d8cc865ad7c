package config

import (
	"fmt"
)

var knownArtifactKinds = map[string]struct{}{
	"image": {},
	"model": {},
	"log":   {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateConcurrency(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	for name, value := range map[string]int{
		"pipeline.timeout_low":    c.Pipeline.TimeoutLow,
		"pipeline.timeout_medium": c.Pipeline.TimeoutMedium,
		"pipeline.timeout_high":   c.Pipeline.TimeoutHigh,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	if c.Pipeline.CancelGrace <= 0 {
		return fmt.Errorf("pipeline.cancel_grace must be positive, got %d", c.Pipeline.CancelGrace)
	}
	if c.Pipeline.OutputTailLines <= 0 {
		return fmt.Errorf("pipeline.output_tail_lines must be positive, got %d", c.Pipeline.OutputTailLines)
	}
	return nil
}

func (c *Config) validateConcurrency() error {
	if c.Concurrency.MaxGlobal <= 0 {
		return fmt.Errorf("concurrency.max_global must be positive, got %d", c.Concurrency.MaxGlobal)
	}
	if c.Concurrency.MaxPerOwner <= 0 {
		return fmt.Errorf("concurrency.max_per_owner must be positive, got %d", c.Concurrency.MaxPerOwner)
	}
	if c.Concurrency.MaxPerOwner > c.Concurrency.MaxGlobal {
		return fmt.Errorf("concurrency.max_per_owner (%d) cannot exceed concurrency.max_global (%d)",
			c.Concurrency.MaxPerOwner, c.Concurrency.MaxGlobal)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.RemoteEnabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage.remote_enabled is true")
	}
	for _, kind := range c.Storage.MirrorKinds {
		if _, ok := knownArtifactKinds[kind]; !ok {
			return fmt.Errorf("storage.mirror_kinds: unknown artifact kind %q", kind)
		}
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.WindowHours <= 0 {
		return fmt.Errorf("retention.window_hours must be positive, got %d", c.Retention.WindowHours)
	}
	if c.Retention.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("retention.sweep_interval_minutes must be positive, got %d", c.Retention.SweepIntervalMinutes)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return fmt.Errorf("workflow.queue_poll_interval must be positive, got %d", c.Workflow.QueuePollInterval)
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return fmt.Errorf("workflow.error_retry_interval must be positive, got %d", c.Workflow.ErrorRetryInterval)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
