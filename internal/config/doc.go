// Package config loads and validates gateway configuration from YAML
// files with ${VAR} environment substitution.
package config
