// Package config loads appfsctl's configuration from a layered stack
// of JSONC files, the same precedence scheme the teacher's ticket
// tooling uses for its own config: defaults, then a global user config,
// then CLI-flag overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// Config holds appfsctl's tunables.
type Config struct {
	// DefaultImagePath is used when appfsctl is invoked with no image
	// argument.
	DefaultImagePath string `json:"default_image_path,omitempty"`

	// DefaultPartitionSize is the default of "appfsctl new --size", in
	// bytes.
	DefaultPartitionSize int64 `json:"default_partition_size,omitempty"`

	// HistoryFile is where the liner REPL persists command history.
	HistoryFile string `json:"history_file,omitempty"`

	// Sources records which files contributed to the final config, for
	// diagnostics.
	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global string
}

// DefaultConfig returns appfsctl's built-in defaults.
func DefaultConfig() Config {
	return Config{
		DefaultPartitionSize: 1 << 20, // 1 MiB, matching the spec's worked example
		HistoryFile:          ".appfsctl_history",
	}
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	// ConfigPath, if non-empty, overrides the default global config
	// location.
	ConfigPath string
	Env        map[string]string
}

// Load loads configuration with precedence (highest wins): defaults,
// then the global user config file, then fields the caller later
// overrides directly on the returned Config from CLI flags.
func Load(input LoadInput) (Config, error) {
	cfg := DefaultConfig()

	path := input.ConfigPath
	if path == "" {
		path = defaultConfigPath(input.Env)
	}

	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}

	var fileCfg Config
	if err := json.Unmarshal(standardized, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %q: %w", path, err)
	}

	cfg = merge(cfg, fileCfg)
	cfg.Sources.Global = path

	if cfg.DefaultImagePath != "" && !filepath.IsAbs(cfg.DefaultImagePath) {
		cfg.DefaultImagePath = filepath.Join(filepath.Dir(path), cfg.DefaultImagePath)
	}

	return cfg, nil
}

func merge(base, override Config) Config {
	if override.DefaultImagePath != "" {
		base.DefaultImagePath = override.DefaultImagePath
	}

	if override.DefaultPartitionSize != 0 {
		base.DefaultPartitionSize = override.DefaultPartitionSize
	}

	if override.HistoryFile != "" {
		base.HistoryFile = override.HistoryFile
	}

	return base
}

func defaultConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "appfsctl", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "appfsctl", "config.json")
	}

	return ""
}
