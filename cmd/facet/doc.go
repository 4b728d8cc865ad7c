// Package main hosts the Facet CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon: job creation, reconstruction requests, status and log
// inspection, artifact download, retention sweeps, and configuration
// scaffolding. It centralizes configuration resolution and socket discovery
// so subcommands stay small.
//
// Add new functionality by extending the internal packages first, then
// surface it through dedicated commands or flags here.
package main
