package yosegi

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// UploadConfig holds the settings for publishing built artifacts to an
// S3-compatible bucket. All four values must be present for uploads to run.
type UploadConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
}

// Config is the orchestrator configuration, loaded from yosegi.toml and then
// overridden by YOSEGI_* environment variables.
type Config struct {
	Threads          int               `toml:"threads"`
	Overlays         []string          `toml:"overlays"`
	IgnoredFeatures  []string          `toml:"ignored_features"`
	Features         map[string]string `toml:"features"`
	TarballCache     string            `toml:"tarball_cache"`
	BuildCache       string            `toml:"build_cache"`
	GitReferenceDirs []string          `toml:"git_reference_dirs"`
	DefaultNamespace string            `toml:"default_namespace"`
	QuietPackages    bool              `toml:"quiet_packages"`
	KeepStaging      bool              `toml:"keep_staging"`
	CleanPackages    bool              `toml:"clean_packages"`
	Upload           UploadConfig      `toml:"upload"`
}

// loadConfig reads the TOML configuration and applies defaults. A missing
// file is not an error: every field has a usable zero value.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Features: make(map[string]string)}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	mergeEnvOverrides(cfg)

	if cfg.DefaultNamespace == "" {
		cfg.DefaultNamespace = "native"
	}
	if cfg.Features == nil {
		cfg.Features = make(map[string]string)
	}

	return cfg, nil
}

// Merge YOSEGI_* env overrides
func mergeEnvOverrides(cfg *Config) {
	if v := os.Getenv("YOSEGI_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Threads = n
		}
	}
	if v := os.Getenv("YOSEGI_BUILD_CACHE"); v != "" {
		cfg.BuildCache = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("YOSEGI_TARBALL_CACHE"); v != "" {
		cfg.TarballCache = v
	}
	if v := os.Getenv("YOSEGI_OVERLAYS"); v != "" {
		cfg.Overlays = strings.Split(v, ":")
	}
	if v := os.Getenv("YOSEGI_DEBUG"); v == "1" {
		Debug = true
	}
}
