package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "TONIES_GO_CONFIG"
	EnvDB       = "TONIES_GO_DB"
	EnvVaultKey = "TONIES_GO_VAULT_KEY"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // TONIES_GO_CONFIG: override config file path
	DBPath     string // TONIES_GO_DB: state database path
	VaultKey   string // TONIES_GO_VAULT_KEY: credential vault passphrase or raw key
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDB),
		VaultKey:   os.Getenv(EnvVaultKey),
	}
}

// LoadDotEnv loads KEY=value files into the environment without replacing
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}

		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}

	return nil
}
