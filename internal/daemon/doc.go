// Package daemon coordinates the long-running Facet process.
//
// It wires configuration, the job store, and the orchestrator into a single
// lifecycle with flock-based locking to prevent multiple instances. Job
// lifecycle logic lives in the orchestrator; the daemon focuses on startup,
// shutdown, and status reporting.
package daemon
