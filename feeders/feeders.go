// Package feeders provides configuration feeders for reading nexus
// configuration from various sources: environment variables, YAML files and
// TOML files. Feeders populate a config structure in place; feeding order
// determines precedence (later feeders overwrite earlier ones).
package feeders

// Feeder populates a configuration structure from one source.
type Feeder interface {
	// Feed reads the source and fills the provided structure, which must
	// be a pointer to a struct.
	Feed(structure interface{}) error
}
