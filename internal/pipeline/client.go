// Package pipeline drives the external photogrammetry engine: command
// construction, process supervision, progress parsing, and outcome
// classification for one reconstruction at a time.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"facet/internal/registry"
)

// Preset is an engine quality preset.
type Preset string

const (
	PresetDraft    Preset = "draft"
	PresetDefault  Preset = "default"
	PresetDetailed Preset = "detailed"
)

// PresetFor maps a job quality onto the engine preset it runs with.
func PresetFor(quality registry.Quality) Preset {
	switch quality {
	case registry.QualityLow:
		return PresetDraft
	case registry.QualityHigh:
		return PresetDetailed
	default:
		return PresetDefault
	}
}

// Request describes one engine invocation.
type Request struct {
	InputDir  string
	OutputDir string
	CacheDir  string
	Quality   registry.Quality
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps engine CLI interactions.
type Client struct {
	binary string
	exec   Executor
}

// NewClient constructs an engine client around the given binary.
// cancelGrace bounds how long a terminated process gets to exit cleanly.
func NewClient(binary string, cancelGrace time.Duration, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("engine binary required")
	}
	client := &Client{
		binary: binary,
		exec:   groupExecutor{grace: cancelGrace},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Reconstruct runs the engine to completion. Every output line goes to
// onLine; lines that parse as progress additionally reach onSignal.
func (c *Client) Reconstruct(ctx context.Context, req Request, onLine func(string), onSignal func(Signal)) error {
	args := buildArgs(req)
	return c.exec.Run(ctx, c.binary, args, func(line string) {
		if onLine != nil {
			onLine(line)
		}
		if onSignal == nil {
			return
		}
		if sig, ok := ParseSignal(line); ok {
			onSignal(sig)
		}
	})
}

func buildArgs(req Request) []string {
	return []string{
		"--input", req.InputDir,
		"--output", req.OutputDir,
		"--cache", req.CacheDir,
		"--preset", string(PresetFor(req.Quality)),
		"--verbose", "info",
		"--save", filepath.Join(req.CacheDir, "pipeline.mg"),
	}
}
