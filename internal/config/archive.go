package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Keys accepted by the archive_config table and the YAML config file
const (
	KeyInactivityThreshold = "inactivity_threshold"
	KeyHotMaxAge           = "hot.max_age"
	KeyHotEmergencyCap     = "hot.emergency_cap"
	KeyWarmDelay           = "warm.delay"
	KeyWarmRetention       = "warm.retention"
	KeyColdAge             = "cold.age"
	KeyColdTargetCount     = "cold.target_count"
	KeyColdSpanWindow      = "cold.span_window"
	KeyColdRetention       = "cold.retention"
	KeyArchiveRetention    = "archive.retention"
	KeyBatchSize           = "batch_size"
)

// ArchiveConfig holds the operator-tunable tier thresholds. A zero retention
// means the tier is never purged; a zero emergency cap disables hot purging.
type ArchiveConfig struct {
	InactivityThreshold time.Duration

	HotMaxAge       time.Duration
	HotEmergencyCap int64

	WarmDelay     time.Duration
	WarmRetention time.Duration

	ColdAge         time.Duration
	ColdTargetCount int
	ColdSpanWindow  time.Duration
	ColdRetention   time.Duration

	ArchiveRetention time.Duration

	// BatchSize bounds how many chunks one job run selects
	BatchSize int
}

// DefaultArchiveConfig returns the thresholds used when no override is stored
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		InactivityThreshold: 30 * time.Minute,
		HotMaxAge:           24 * time.Hour,
		WarmDelay:           0,
		WarmRetention:       90 * 24 * time.Hour,
		ColdAge:             7 * 24 * time.Hour,
		ColdTargetCount:     100,
		ColdSpanWindow:      time.Hour,
		ColdRetention:       365 * 24 * time.Hour,
		ArchiveRetention:    730 * 24 * time.Hour,
		BatchSize:           5000,
	}
}

// Validate checks the thresholds for values no job can run with
func (c ArchiveConfig) Validate() error {
	durations := map[string]time.Duration{
		KeyInactivityThreshold: c.InactivityThreshold,
		KeyHotMaxAge:           c.HotMaxAge,
		KeyWarmDelay:           c.WarmDelay,
		KeyWarmRetention:       c.WarmRetention,
		KeyColdAge:             c.ColdAge,
		KeyColdRetention:       c.ColdRetention,
		KeyArchiveRetention:    c.ArchiveRetention,
	}
	for key, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", key, d)
		}
	}
	if c.InactivityThreshold == 0 {
		return fmt.Errorf("%s must be positive", KeyInactivityThreshold)
	}
	if c.ColdSpanWindow < time.Second || c.ColdSpanWindow%time.Second != 0 {
		return fmt.Errorf("%s must be a whole number of seconds, got %s", KeyColdSpanWindow, c.ColdSpanWindow)
	}
	if c.ColdTargetCount < 2 {
		return fmt.Errorf("%s must be at least 2, got %d", KeyColdTargetCount, c.ColdTargetCount)
	}
	if c.HotEmergencyCap < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyHotEmergencyCap, c.HotEmergencyCap)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyBatchSize, c.BatchSize)
	}
	return nil
}

// FromValues overlays key/value settings on the defaults and validates the result
func FromValues(values map[string]string) (ArchiveConfig, error) {
	cfg := DefaultArchiveConfig()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := strings.TrimSpace(values[key])
		var err error
		switch key {
		case KeyInactivityThreshold:
			cfg.InactivityThreshold, err = ParseDuration(raw)
		case KeyHotMaxAge:
			cfg.HotMaxAge, err = ParseDuration(raw)
		case KeyHotEmergencyCap:
			cfg.HotEmergencyCap, err = parseInt64(raw)
		case KeyWarmDelay:
			cfg.WarmDelay, err = ParseDuration(raw)
		case KeyWarmRetention:
			cfg.WarmRetention, err = ParseDuration(raw)
		case KeyColdAge:
			cfg.ColdAge, err = ParseDuration(raw)
		case KeyColdTargetCount:
			var n int64
			n, err = parseInt64(raw)
			cfg.ColdTargetCount = int(n)
		case KeyColdSpanWindow:
			cfg.ColdSpanWindow, err = ParseDuration(raw)
		case KeyColdRetention:
			cfg.ColdRetention, err = ParseDuration(raw)
		case KeyArchiveRetention:
			cfg.ArchiveRetention, err = ParseDuration(raw)
		case KeyBatchSize:
			var n int64
			n, err = parseInt64(raw)
			cfg.BatchSize = int(n)
		default:
			return ArchiveConfig{}, fmt.Errorf("unknown archive config key %q", key)
		}
		if err != nil {
			return ArchiveConfig{}, fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return ArchiveConfig{}, err
	}
	return cfg, nil
}

// Values renders the config as the key/value form stored in archive_config
func (c ArchiveConfig) Values() map[string]string {
	return map[string]string{
		KeyInactivityThreshold: c.InactivityThreshold.String(),
		KeyHotMaxAge:           c.HotMaxAge.String(),
		KeyHotEmergencyCap:     strconv.FormatInt(c.HotEmergencyCap, 10),
		KeyWarmDelay:           c.WarmDelay.String(),
		KeyWarmRetention:       c.WarmRetention.String(),
		KeyColdAge:             c.ColdAge.String(),
		KeyColdTargetCount:     strconv.Itoa(c.ColdTargetCount),
		KeyColdSpanWindow:      c.ColdSpanWindow.String(),
		KeyColdRetention:       c.ColdRetention.String(),
		KeyArchiveRetention:    c.ArchiveRetention.String(),
		KeyBatchSize:           strconv.Itoa(c.BatchSize),
	}
}

// ParseDuration extends time.ParseDuration with a whole-day suffix ("90d").
// An empty string parses as zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
