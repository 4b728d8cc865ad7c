// Package services defines shared utilities consumed by the orchestrator
// components and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the orchestrator's error taxonomy (validation, conflict, not
//     found, spawn, pipeline, timeout, storage).
//
// Use these helpers when wiring new components so operational behaviour
// (error handling, observability, retries) stays uniform across the
// orchestrator.
package services
