// Package config loads and validates the static relay configuration.
//
// Precedence: compiled baseline < BRC_* environment overrides < optional
// config.yaml. Configuration is fixed for the lifetime of a relay instance;
// there is no hot reload.
package config
