// Package logging centralizes slog construction and the structured field
// vocabulary used across the orchestrator. Console output goes through tint
// with colors disabled on non-TTY writers; JSON output uses the stdlib
// handler with normalized ts/level/msg keys.
package logging
