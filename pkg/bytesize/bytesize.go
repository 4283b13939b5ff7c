// Package bytesize reads and renders byte quantities the way they appear
// in chunconv configuration and CLI flags: "500KB", "1.5 GB", "4194304".
// Units are binary (1KB = 1024 bytes); the explicit KiB spellings are
// accepted as synonyms.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB      = 1024 * B
	MB      = 1024 * KB
	GB      = 1024 * MB
	TB      = 1024 * GB
	PB      = 1024 * TB
)

var units = map[string]Size{
	"":    B,
	"b":   B,
	"k":   KB,
	"kb":  KB,
	"kib": KB,
	"m":   MB,
	"mb":  MB,
	"mib": MB,
	"g":   GB,
	"gb":  GB,
	"gib": GB,
	"t":   TB,
	"tb":  TB,
	"tib": TB,
	"p":   PB,
	"pb":  PB,
	"pib": PB,
}

// Parse reads a size with an optional unit suffix. A bare number is a byte
// count. Whitespace around the number and unit is ignored, unit casing is
// not significant.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty value")
	}

	cut := len(trimmed)
	for i, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			cut = i
			break
		}
	}
	value, err := strconv.ParseFloat(trimmed[:cut], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid value %q", s)
	}
	unit := strings.ToLower(strings.TrimSpace(trimmed[cut:]))
	mult, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q in %q", unit, s)
	}
	return Size(value * float64(mult)), nil
}

// Bytes returns the size as a plain byte count.
func (s Size) Bytes() int64 { return int64(s) }

// String renders the size using the largest unit that keeps the value at
// or above one: "5MB", "1.5GB", "500B".
func (s Size) String() string {
	if s < 0 {
		return "-" + (-s).String()
	}
	steps := []struct {
		mult Size
		unit string
	}{
		{PB, "PB"},
		{TB, "TB"},
		{GB, "GB"},
		{MB, "MB"},
		{KB, "KB"},
	}
	for _, step := range steps {
		if s < step.mult {
			continue
		}
		value := strconv.FormatFloat(float64(s)/float64(step.mult), 'f', 2, 64)
		value = strings.TrimRight(strings.TrimRight(value, "0"), ".")
		return value + step.unit
	}
	return strconv.FormatInt(int64(s), 10) + "B"
}
