// Package registry is the authoritative record of every reconstruction
// job's lifecycle. It owns the job state machine, serializes all mutations
// per job, and persists records through a SQLite-backed store so the daemon
// can recover after a restart.
package registry
