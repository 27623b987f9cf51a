// Package logging builds the slog loggers used across convertq.
//
// Two output formats are supported: a compact console format for interactive
// use and JSON for machine consumption. Component subsystems receive child
// loggers tagged via WithComponent so log lines can be attributed without
// threading extra context through call sites.
package logging
