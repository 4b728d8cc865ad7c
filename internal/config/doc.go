// Package config loads, normalizes, and validates the TOML configuration
// for the facet daemon and CLI.
package config
