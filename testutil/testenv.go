// Package testutil holds environment helpers for the live e2e tests, which
// build the binary and cannot import internal/.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Env vars read by the e2e suite.
const (
	EnvUsername        = "TONIES_E2E_USERNAME"
	EnvPassword        = "TONIES_E2E_PASSWORD"
	EnvAllowedAccounts = "TONIES_E2E_ALLOWED_ACCOUNTS"
	EnvDevice          = "TONIES_E2E_DEVICE"
)

// LoadDotEnv loads path into the environment. A missing file is fine since
// CI sets the variables directly, and variables already set win.
func LoadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	if err := godotenv.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parsing %s: %v\n", path, err)
		os.Exit(1)
	}
}

// ValidateAllowlist exits unless the e2e username is listed in
// TONIES_E2E_ALLOWED_ACCOUNTS. The suite writes to real devices, so it must
// never run against an account nobody opted in.
func ValidateAllowlist() string {
	user := os.Getenv(EnvUsername)
	if user == "" || os.Getenv(EnvPassword) == "" {
		fmt.Fprintf(os.Stderr, "FATAL: %s and %s must be set\n", EnvUsername, EnvPassword)
		os.Exit(1)
	}

	allowlist := os.Getenv(EnvAllowedAccounts)
	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), user) {
			return user
		}
	}

	fmt.Fprintf(os.Stderr, "FATAL: %s=%q is not in %s=%q\n", EnvUsername, user, EnvAllowedAccounts, allowlist)
	os.Exit(1)

	return ""
}

// FindModuleRoot walks up from the working directory to go.mod, returning
// fallback if there is none.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
