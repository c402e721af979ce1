package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// cliConfig is the on-disk CLI configuration: named vault definitions so
// commands can say "notes" instead of a full URI.
type cliConfig struct {
	DefaultVault string                `toml:"default_vault"`
	Vaults       map[string]vaultEntry `toml:"vault"`
}

type vaultEntry struct {
	URI string `toml:"uri"`
}

// defaultConfigPath returns ~/.config/syncvault/config.toml, or "" when the
// home directory cannot be determined.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "syncvault", "config.toml")
}

// loadCLIConfig reads the config file at path (or the default location when
// path is empty). A missing file at the default location is not an error —
// full URIs on the command line need no config at all.
func loadCLIConfig(path string) (*cliConfig, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	cfg := &cliConfig{Vaults: make(map[string]vaultEntry)}

	if path == "" {
		return cfg, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}

		return cfg, nil
	}

	return parseCLIConfig(path)
}

// parseCLIConfig decodes a TOML config file. Unknown keys are fatal —
// silently ignoring a typo in a config file leads to hard-to-debug behavior.
func parseCLIConfig(path string) (*cliConfig, error) {
	cfg := &cliConfig{Vaults: make(map[string]vaultEntry)}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		var errs []error

		for _, key := range undecoded {
			errs = append(errs, fmt.Errorf("unknown config key %q in %s", key.String(), path))
		}

		return nil, errors.Join(errs...)
	}

	for name, entry := range cfg.Vaults {
		if entry.URI == "" {
			return nil, fmt.Errorf("vault %q in %s has no uri", name, path)
		}
	}

	return cfg, nil
}
