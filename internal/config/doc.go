// Package config loads server and worker settings from defaults, an optional
// config.yaml, a .env file and MANGA_ prefixed environment variables, and
// validates them before any component starts.
package config
