package nexus

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/GoCodeAlone/nexus/feeders"
)

// EnvPrefix is the prefix for all nexus environment variables.
const EnvPrefix = "ACDIN"

// LoadConfig builds a Config by layering sources: the optional config file
// first (YAML or TOML, chosen by extension), then ACDIN_-prefixed
// environment variables on top, then defaults and validation. An empty path
// loads from the environment alone.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	var feedList []feeders.Feeder
	if path != "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			feedList = append(feedList, feeders.NewTomlFeeder(path))
		default:
			feedList = append(feedList, feeders.NewYamlFeeder(path))
		}
	}
	feedList = append(feedList, feeders.NewEnvFeeder(EnvPrefix))

	for _, f := range feedList {
		if err := f.Feed(cfg); err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
