package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"seconds", "45s", 45 * time.Second, false},
		{"minutes", "30m", 30 * time.Minute, false},
		{"hours", "720h", 720 * time.Hour, false},
		{"milliseconds", "100ms", 100 * time.Millisecond, false},
		{"combined native", "1h30m", 90 * time.Minute, false},
		{"days", "30d", 30 * Day, false},
		{"single day", "1d", Day, false},
		{"weeks", "2w", 2 * Week, false},
		{"days and hours", "1d12h", 36 * time.Hour, false},
		{"weeks and days", "1w2d", 9 * Day, false},
		{"weeks days hours", "1w2d12h", 9*Day + 12*time.Hour, false},
		{"full mix", "1w2d3h4m5s", 9*Day + 3*time.Hour + 4*time.Minute + 5*time.Second, false},
		{"surrounding whitespace", "  7d  ", 7 * Day, false},
		{"zero", "0s", 0, false},
		{"negative hours", "-12h", -12 * time.Hour, false},
		{"negative days", "-30d", -30 * Day, false},
		{"fractional hours", "1.5h", 90 * time.Minute, false},
		{"empty", "", 0, true},
		{"sign only", "-", 0, true},
		{"garbage", "invalid", 0, true},
		{"unit only", "d", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEquivalence(t *testing.T) {
	groups := [][]string{
		{"1d", "24h"},
		{"1w", "7d", "168h"},
		{"1d12h", "36h"},
		{"1w1d", "8d", "192h"},
	}

	for _, group := range groups {
		want, err := Parse(group[0])
		require.NoError(t, err)
		for _, s := range group[1:] {
			got, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, want, got, "%q should equal %q", s, group[0])
		}
	}
}
