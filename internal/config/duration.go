package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const day = 24 * time.Hour

// parseSpan accepts Go durations ("90s", "1h30m") and whole days ("7d").
func parseSpan(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", raw)
		}
		return time.Duration(days) * day, nil
	}
	return time.ParseDuration(s)
}

// durationField parses raw for the key at path. Empty yields def; so does zero unless keepZero.
func durationField(path, raw string, def time.Duration, keepZero bool) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := parseSpan(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	case d == 0 && !keepZero:
		return def, nil
	}
	return d, nil
}
