package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each config section to its valid keys. Storage providers
// are nested one level deeper and appear as "storage.s3" and so on.
var knownKeys = map[string][]string{
	"api":     {"base_url", "token_url", "client_id", "token_expiry_buffer"},
	"account": {"owner"},
	"store":   {"path"},
	"sync": {
		"mode", "audit_credential_access", "parallel_jobs", "max_retries",
		"bandwidth_limit", "source_url_ttl",
	},
	"storage":            {"default", "filesystem", "s3", "gdrive"},
	"storage.filesystem": {"root"},
	"storage.s3": {
		"bucket", "region", "endpoint", "prefix", "access_key_id",
		"secret_access_key", "use_path_style",
	},
	"storage.gdrive": {"folder_id", "credentials_file", "endpoint"},
	"adapter":        {"url", "listen", "credential"},
	"logging":        {"log_level", "log_file", "log_format"},
	"network":        {"connect_timeout", "user_agent"},
}

// knownSections is the sorted list of top-level sections. Sorted for
// deterministic suggestions when two candidates have the same distance.
var knownSections = func() []string {
	var out []string

	for s := range knownKeys {
		if !strings.Contains(s, ".") {
			out = append(out, s)
		}
	}

	sort.Strings(out)

	return out
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		errs = append(errs, unknownKeyError(key))
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	if len(key) == 1 {
		if s := closestMatch(key[0], knownSections); s != "" {
			return fmt.Errorf("unknown config key %q: did you mean [%s]?", key[0], s)
		}

		return fmt.Errorf("unknown config key %q", key[0])
	}

	section := strings.Join(key[:len(key)-1], ".")
	leaf := key[len(key)-1]

	known, ok := knownKeys[section]
	if !ok {
		return fmt.Errorf("unknown config section [%s]", section)
	}

	if s := closestMatch(leaf, sorted(known)); s != "" {
		return fmt.Errorf("unknown config key %q in [%s]: did you mean %q?", leaf, section, s)
	}

	return fmt.Errorf("unknown config key %q in [%s]", leaf, section)
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)

	return out
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Single-row optimization avoids allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
