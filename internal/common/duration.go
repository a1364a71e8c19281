// Package common holds the small cross-cutting helpers shared by the
// config loader and the other internal packages: a YAML/JSON-friendly
// Duration wrapper and the config-file parsing helpers in parse.go.
package common

import (
	"fmt"
	"time"
)

// Duration wraps time.Duration with text (un)marshalling so it can be
// written as "30s", "1h30m" etc. in YAML, JSON, or TOML config files
// instead of a raw integer nanosecond count.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText parses a Go duration string. An empty string or a
// string missing its unit suffix (e.g. "100") is rejected: config
// authors must always be explicit about units.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("common: invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration back in Go duration-string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
