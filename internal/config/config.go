package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// DataDir holds the local artifact tier and the job database.
	DataDir string `toml:"data_dir"`
	// StagingDir holds per-job work directories for engine invocations.
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
}

// Pipeline contains configuration for the external reconstruction engine.
type Pipeline struct {
	// EngineBinary overrides autodiscovery of the engine executable.
	EngineBinary string `toml:"engine_binary"`
	// TimeoutLow/Medium/High are wall-clock ceilings in seconds per quality.
	TimeoutLow    int `toml:"timeout_low"`
	TimeoutMedium int `toml:"timeout_medium"`
	TimeoutHigh   int `toml:"timeout_high"`
	// CancelGrace is the seconds allowed between SIGTERM and SIGKILL.
	CancelGrace int `toml:"cancel_grace"`
	// OutputTailLines bounds the captured diagnostic tail on failure.
	OutputTailLines int `toml:"output_tail_lines"`
}

// Concurrency contains admission control bounds.
type Concurrency struct {
	MaxGlobal   int `toml:"max_global"`
	MaxPerOwner int `toml:"max_per_owner"`
}

// Storage contains the remote artifact tier configuration.
type Storage struct {
	RemoteEnabled bool   `toml:"remote_enabled"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	// Endpoint optionally points at an S3-compatible service.
	Endpoint string `toml:"endpoint"`
	// MirrorKinds lists artifact kinds copied to the remote tier ("image",
	// "model", "log").
	MirrorKinds []string `toml:"mirror_kinds"`
	// RetryAttempts bounds transparent retries during input materialization.
	RetryAttempts int `toml:"retry_attempts"`
}

// Retention contains configuration for terminal job cleanup.
type Retention struct {
	WindowHours          int `toml:"window_hours"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Workflow contains daemon timing intervals.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Facet.
//
// Configuration sections by subsystem:
//   - Paths: data, staging, and log directories
//   - Pipeline: engine binary and per-quality timeouts
//   - Concurrency: global and per-owner admission bounds
//   - Storage: remote tier and mirror policy
//   - Retention: terminal job cleanup window
//   - Workflow: daemon polling intervals
//   - Logging: log format and level
type Config struct {
	Paths       Paths       `toml:"paths"`
	Pipeline    Pipeline    `toml:"pipeline"`
	Concurrency Concurrency `toml:"concurrency"`
	Storage     Storage     `toml:"storage"`
	Retention   Retention   `toml:"retention"`
	Workflow    Workflow    `toml:"workflow"`
	Logging     Logging     `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/facet/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("facet.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// SampleConfig returns the embedded sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
