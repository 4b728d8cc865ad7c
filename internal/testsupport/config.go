package testsupport

import (
	"path/filepath"
	"testing"

	"facet/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithConcurrency overrides the admission bounds on the test config.
func WithConcurrency(global, perOwner int) ConfigOption {
	return func(c *config.Config) {
		c.Concurrency.MaxGlobal = global
		c.Concurrency.MaxPerOwner = perOwner
	}
}

// WithRetention overrides the retention window on the test config.
func WithRetention(windowHours, sweepMinutes int) ConfigOption {
	return func(c *config.Config) {
		c.Retention.WindowHours = windowHours
		c.Retention.SweepIntervalMinutes = sweepMinutes
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
