package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chunmedia/chunconv/pkg/duration"
)

// Duration is a time.Duration that decodes from the duration strings
// accepted in configuration: Go's native format plus day ("7d") and week
// ("2w") units. It implements encoding.TextUnmarshaler for viper/YAML and
// json.Unmarshaler for JSON config files.
type Duration time.Duration

// ParseDuration parses a duration string, accepting 'd' and 'w' units in
// addition to the native Go ones.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for YAML/Viper support.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Try as a number (nanoseconds) for backwards compatibility
		var ns int64
		if err := json.Unmarshal(data, &ns); err != nil {
			return err
		}
		*d = Duration(ns)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler, rendering week and day units
// where they apply.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String renders the duration with week and day units pulled out in front
// of the native Go rendering: "1w2d12h0m0s", "2m0s".
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}

	negative := dur < 0
	if negative {
		dur = -dur
	}

	weeks := dur / duration.Week
	dur -= weeks * duration.Week
	days := dur / duration.Day
	dur -= days * duration.Day

	var result string
	if weeks > 0 {
		result += fmt.Sprintf("%dw", weeks)
	}
	if days > 0 {
		result += fmt.Sprintf("%dd", days)
	}
	if result == "" {
		return time.Duration(d).String()
	}
	if dur > 0 {
		result += dur.String()
	}
	if negative {
		result = "-" + result
	}
	return result
}
