package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Resolved is the effective configuration after every override layer.
type Resolved struct {
	Config

	// Path is the config file that was consulted. It may not exist.
	Path string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and carry "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// Config path: CLI > env > default.
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	r := &Resolved{Config: *cfg, Path: cfgPath}

	if env.DBPath != "" {
		r.Store.Path = env.DBPath
	}

	if cli.DBPath != "" {
		r.Store.Path = cli.DBPath
	}

	if cli.Owner != "" {
		r.Account.Owner = cli.Owner
	}

	if cli.Mode != "" {
		r.Sync.Mode = cli.Mode
	}

	if cli.Parallel != nil {
		r.Sync.ParallelJobs = *cli.Parallel
	}

	if r.Store.Path == "" {
		r.Store.Path = DefaultDBPath()
	}

	r.Store.Path = expandHome(r.Store.Path)
	r.Storage.Filesystem.Root = expandHome(r.Storage.Filesystem.Root)
	r.Storage.GDrive.CredentialsFile = expandHome(r.Storage.GDrive.CredentialsFile)
	r.Logging.LogFile = expandHome(r.Logging.LogFile)

	// Flags may have broken what the file validation accepted.
	if err := Validate(&r.Config); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if err := ValidateResolved(r); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return r, nil
}
