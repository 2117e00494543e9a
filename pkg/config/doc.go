// Package config loads application configuration. A YAML file, when given,
// establishes the base values; SAASCORE_* environment variables override it;
// defaults fill the rest. Validation runs once at load so the binaries can
// fail fast on a bad deployment instead of at first request.
package config
