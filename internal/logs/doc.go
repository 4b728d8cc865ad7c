// Package logs provides offset-based tailing of the daemon log file.
//
// The IPC LogTail call and `facet logs --follow` read through this package
// so both use the same resume-from-offset semantics. A negative offset asks
// for the last N lines; follow mode polls with a bounded wait so callers
// shut down cleanly when the CLI exits.
package logs
