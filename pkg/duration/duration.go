// Package duration reads the duration strings accepted in chunconv
// configuration: Go's native format extended with day and week units
// ("90m", "36h", "7d", "2w", "1w2d12h").
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// Parse reads a duration. Whole-number day ("d") and week ("w") components
// may precede the units time.ParseDuration understands.
func Parse(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		trimmed = trimmed[1:]
	}
	if trimmed == "" {
		return 0, fmt.Errorf("duration: empty value")
	}

	var total time.Duration
	rest := trimmed
	for {
		digits := 0
		for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
			digits++
		}
		if digits == 0 || digits >= len(rest) {
			break
		}
		unit := rest[digits]
		if unit != 'd' && unit != 'w' {
			break
		}
		n, err := strconv.ParseInt(rest[:digits], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("duration: invalid value %q", s)
		}
		if unit == 'd' {
			total += time.Duration(n) * Day
		} else {
			total += time.Duration(n) * Week
		}
		rest = rest[digits+1:]
	}

	if rest != "" {
		parsed, err := time.ParseDuration(rest)
		if err != nil {
			return 0, fmt.Errorf("duration: %w", err)
		}
		total += parsed
	}
	if negative {
		total = -total
	}
	return total, nil
}
