// Package config provides configuration loading and validation for the live
// audio translator. Configuration is a YAML file whose ${VAR} references are
// expanded from the environment after any .env file has been loaded; keys
// absent from the file keep the values returned by Default.
package config
