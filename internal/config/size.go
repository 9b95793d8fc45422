package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Size multiplier constants (decimal / SI).
const (
	kilobyte = 1000
	megabyte = 1000 * kilobyte
	gigabyte = 1000 * megabyte
)

// Size multiplier constants (binary / IEC).
const (
	kibibyte = 1024
	mebibyte = 1024 * kibibyte
	gibibyte = 1024 * mebibyte
)

// ParseSize converts a human-readable size string to bytes. Supports both
// SI (KB, MB, GB) and IEC (KiB, MiB, GiB) suffixes. Empty string and "0"
// return 0. A bare number is raw bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	upper := strings.ToUpper(s)

	suffixes := []struct {
		suffix     string
		multiplier int64
	}{
		{"GIB", gibibyte},
		{"MIB", mebibyte},
		{"KIB", kibibyte},
		{"GB", gigabyte},
		{"MB", megabyte},
		{"KB", kilobyte},
		{"B", 1},
	}

	for _, sf := range suffixes {
		if strings.HasSuffix(upper, sf.suffix) {
			return parseSizeNumber(strings.TrimSpace(s[:len(s)-len(sf.suffix)]), sf.multiplier, s)
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	return n, nil
}

func parseSizeNumber(numStr string, multiplier int64, original string) (int64, error) {
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", original, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", original)
	}

	return int64(n * float64(multiplier)), nil
}

// ParseBandwidth parses a bandwidth limit such as "5MB/s" or "512KiB" into
// bytes per second. Zero means unlimited.
func ParseBandwidth(s string) (int64, error) {
	return ParseSize(strings.TrimSuffix(strings.TrimSpace(s), "/s"))
}

// BandwidthBytes returns sync.bandwidth_limit in bytes per second.
func (c *Config) BandwidthBytes() int64 {
	n, _ := ParseBandwidth(c.Sync.BandwidthLimit) //nolint:errcheck // validated on load

	return n
}

// TokenExpiryBuffer returns api.token_expiry_buffer as a duration.
func (c *Config) TokenExpiryBuffer() time.Duration {
	return mustDuration(c.API.TokenExpiryBuffer)
}

// SourceURLTTL returns sync.source_url_ttl as a duration.
func (c *Config) SourceURLTTL() time.Duration {
	return mustDuration(c.Sync.SourceURLTTL)
}

// ConnectTimeout returns network.connect_timeout as a duration.
func (c *Config) ConnectTimeout() time.Duration {
	return mustDuration(c.Network.ConnectTimeout)
}

// mustDuration parses a duration already checked by Validate.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s) //nolint:errcheck // validated on load

	return d
}
