package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/chunmedia/chunconv/internal/media"
)

// ErrProberUnavailable is returned when no ffprobe binary was detected.
var ErrProberUnavailable = errors.New("ffprobe not available")

// Prober extracts source media properties via ffprobe.
type Prober struct {
	probePath string
}

// NewProber creates a prober using the given ffprobe path.
func NewProber(probePath string) *Prober {
	return &Prober{probePath: probePath}
}

// probeResult mirrors the subset of ffprobe JSON output we consume.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"` // video, audio, subtitle, data
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	PixFmt       string `json:"pix_fmt,omitempty"`
	SampleRate   string `json:"sample_rate,omitempty"`
	Channels     int    `json:"channels,omitempty"`
	RFrameRate   string `json:"r_frame_rate,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	Duration     string `json:"duration,omitempty"`
	BitRate      string `json:"bit_rate,omitempty"`
}

// Probe inspects the file at path and returns its source properties.
func (p *Prober) Probe(ctx context.Context, path string) (*media.SourceInfo, error) {
	if p.probePath == "" {
		return nil, ErrProberUnavailable
	}

	cmd := exec.CommandContext(ctx, p.probePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("probing %s: %w", path, err)
	}

	return parseProbeOutput(output)
}

// parseProbeOutput converts raw ffprobe JSON into SourceInfo. The first
// video and first audio stream win; attached pictures are not distinguished
// here since conversions remap explicitly anyway.
func parseProbeOutput(output []byte) (*media.SourceInfo, error) {
	var result probeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing probe output: %w", err)
	}

	info := &media.SourceInfo{}

	if seconds, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil && seconds > 0 {
		info.Duration = time.Duration(seconds * float64(time.Second))
		info.HasDuration = true
	}

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if info.VideoCodec != media.VideoNone {
				continue
			}
			info.VideoCodec = media.NormalizeVideoCodec(stream.CodecName)
			info.Width = stream.Width
			info.Height = stream.Height
			info.PixelFormat = media.PixelFormat(stream.PixFmt)
			info.Framerate = parseFramerate(stream.AvgFrameRate)
			if info.Framerate == 0 {
				info.Framerate = parseFramerate(stream.RFrameRate)
			}
			if !info.HasDuration {
				if seconds, err := strconv.ParseFloat(stream.Duration, 64); err == nil && seconds > 0 {
					info.Duration = time.Duration(seconds * float64(time.Second))
					info.HasDuration = true
				}
			}
		case "audio":
			if info.AudioCodec != media.AudioNone {
				continue
			}
			info.AudioCodec = media.NormalizeAudioCodec(stream.CodecName)
			info.AudioChannels = stream.Channels
			if rate, err := strconv.Atoi(stream.SampleRate); err == nil {
				info.AudioSampleRate = rate
			}
			if bps, err := strconv.ParseInt(stream.BitRate, 10, 64); err == nil {
				info.AudioBitrateBps = bps
			}
		}
	}

	if info.VideoCodec == media.VideoNone && info.AudioCodec == media.AudioNone {
		return nil, fmt.Errorf("no usable streams found")
	}
	return info, nil
}

// parseFramerate parses a rational framerate like "30000/1001" or "25/1".
// Returns 0 when the value is missing or malformed.
func parseFramerate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) == 1 {
		fps, _ := strconv.ParseFloat(parts[0], 64)
		return fps
	}
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
