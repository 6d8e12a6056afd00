// Package config loads, normalizes, and validates lifeline's TOML
// configuration.
//
// Load resolves the config path (explicit flag, user config dir, or a
// project-local lifeline.toml), decodes on top of Default values, expands
// filesystem paths, applies environment fallbacks for secrets, and validates
// the result. Downstream packages receive a fully resolved Config and never
// re-read the environment.
package config
