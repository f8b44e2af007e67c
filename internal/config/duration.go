package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses one duration-valued config field such as
// telegram.poll_timeout or usage.reset_interval. An empty or blank value
// means "unset" and parses to zero without error; negative durations are
// rejected. path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback: unset (zero)
// values resolve to def instead. Used for fields that always need a working
// value, like the translator timeout.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
