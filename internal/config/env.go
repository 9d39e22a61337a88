package config

import (
	"fmt"
	"strconv"
	"time"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "LOCKERSIM_"

func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"STATE_DIR":               &c.StateDir,
		"KEY_BACKEND":             &c.KeyBackend,
		"KEY_ALIAS":               &c.KeyAlias,
		"LOG_LEVEL":               &c.LogLevel,
		"LOG_FORMAT":              &c.LogFormat,
		"CONFLICT":                &c.Conflict,
		"BEACON_URL":              &c.Beacon.URL,
		"BEACON_MODEL":            &c.Beacon.Model,
		"BEACON_PLATFORM_VERSION": &c.Beacon.PlatformVersion,
		"COLLECTOR_ADDR":          &c.Collector.Addr,
		"COLLECTOR_LOG":           &c.Collector.LogPath,
	}
	for name, dst := range strs {
		if v := getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"WORKERS":       &c.Workers,
		"BEACON_BURSTS": &c.Beacon.Bursts,
	}
	for name, dst := range ints {
		if v := getenv(EnvPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"LOCK_TIMEOUT":    &c.LockTimeout,
		"BEACON_INTERVAL": &c.Beacon.Interval,
		"BEACON_TIMEOUT":  &c.Beacon.Timeout,
	}
	for name, dst := range durations {
		if v := getenv(EnvPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	if v := getenv(EnvPrefix + "NOTE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sNOTE: %w", EnvPrefix, err)
		}
		c.Note = b
	}

	return nil
}
