// Package config loads, validates, and normalizes convertq configuration.
//
// Configuration lives in a TOML file (default ~/.config/convertq/config.toml)
// with sections per subsystem. Load falls back to built-in defaults when no
// file exists, expands tilde paths, and rejects unusable values early so the
// rest of the system can trust the Config it receives.
package config
