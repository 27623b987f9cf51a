// Package preflight verifies the runtime environment before conversions
// start: encoder binaries on PATH, writable directories, and enough free
// disk space for output files.
package preflight
