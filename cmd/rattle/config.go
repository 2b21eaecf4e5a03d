package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// configFile is the optional per-project configuration, looked up in the
// working directory.  Command-line flags override it.
const configFile = "rattle.yml"

// Config holds project defaults for the CLI.
type Config struct {
	Output    string `yaml:"output"`
	ParseTree bool   `yaml:"parse_tree"`
	NoRequire bool   `yaml:"norequire"`
}

// loadConfig reads the project config.  A missing or unreadable file yields
// the zero config; a malformed one is ignored the same way, since the flags
// still work without it.
func loadConfig(path string) Config {
	var cfg Config
	content, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
