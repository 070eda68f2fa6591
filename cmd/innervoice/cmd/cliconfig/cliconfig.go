// Package cliconfig holds the flags shared by every subcommand.
package cliconfig

import (
	"innervoice/internal/config"
)

var (
	// Path is the --config flag.
	Path string
	// Verbose is the --verbose flag.
	Verbose bool
)

// Load reads the configuration named by --config and applies --verbose.
func Load() (*config.Config, error) {
	cfg, err := config.Load(Path)
	if err != nil {
		return nil, err
	}
	if Verbose {
		cfg.Log.Development = true
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}
