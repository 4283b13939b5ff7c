package ffmpeg

import (
	"context"
	"testing"
	"time"

	"github.com/chunmedia/chunconv/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbeJSON = `{
  "streams": [
    {
      "codec_name": "hevc",
      "codec_type": "video",
      "width": 1920,
      "height": 1080,
      "pix_fmt": "yuv420p10le",
      "r_frame_rate": "30000/1001",
      "avg_frame_rate": "30000/1001"
    },
    {
      "codec_name": "flac",
      "codec_type": "audio",
      "sample_rate": "48000",
      "channels": 2,
      "bit_rate": "620000"
    }
  ],
  "format": {
    "format_name": "matroska,webm",
    "duration": "120.000000",
    "bit_rate": "5000000"
  }
}`

func TestParseProbeOutput(t *testing.T) {
	info, err := parseProbeOutput([]byte(sampleProbeJSON))
	require.NoError(t, err)

	assert.True(t, info.HasDuration)
	assert.Equal(t, 2*time.Minute, info.Duration)
	assert.Equal(t, media.VideoH265, info.VideoCodec)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, media.PixFmtYUV420P10LE, info.PixelFormat)
	assert.InDelta(t, 29.97, info.Framerate, 0.01)
	assert.Equal(t, media.AudioFLAC, info.AudioCodec)
	assert.Equal(t, 48000, info.AudioSampleRate)
	assert.Equal(t, 2, info.AudioChannels)
	assert.Equal(t, int64(620000), info.AudioBitrateBps)
}

func TestParseProbeOutputNoDuration(t *testing.T) {
	// Live-ish sources report no container duration.
	input := `{
  "streams": [{"codec_name": "h264", "codec_type": "video", "width": 640, "height": 480, "avg_frame_rate": "25/1"}],
  "format": {"format_name": "mpegts"}
}`
	info, err := parseProbeOutput([]byte(input))
	require.NoError(t, err)
	assert.False(t, info.HasDuration)
	assert.Zero(t, info.Duration)
}

func TestParseProbeOutputAudioOnly(t *testing.T) {
	input := `{
  "streams": [{"codec_name": "mp3", "codec_type": "audio", "sample_rate": "44100", "channels": 2}],
  "format": {"format_name": "mp3", "duration": "181.5"}
}`
	info, err := parseProbeOutput([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, media.VideoNone, info.VideoCodec)
	assert.Equal(t, media.AudioMP3, info.AudioCodec)
	assert.True(t, info.HasDuration)
}

func TestParseProbeOutputErrors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		_, err := parseProbeOutput([]byte("{"))
		assert.Error(t, err)
	})

	t.Run("no streams", func(t *testing.T) {
		_, err := parseProbeOutput([]byte(`{"streams": [], "format": {}}`))
		assert.Error(t, err)
	})
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30000/1001", 29.97},
		{"25/1", 25},
		{"24", 24},
		{"0/0", 0},
		{"", 0},
		{"abc", 0},
		{"25/0", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.expected, parseFramerate(tt.input), 0.01, tt.input)
	}
}

func TestProberUnavailable(t *testing.T) {
	prober := NewProber("")
	_, err := prober.Probe(context.Background(), "/in.mkv")
	assert.ErrorIs(t, err, ErrProberUnavailable)
}
