// Package ffmpeg drives the external FFmpeg toolchain: one-time capability
// probing, source media probing, and supervised conversion subprocesses.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/chunmedia/chunconv/internal/media"
	"github.com/chunmedia/chunconv/internal/util"
)

// ErrToolchainUnavailable is returned when the encoder binary cannot be
// located or refuses to report its version.
var ErrToolchainUnavailable = errors.New("toolchain unavailable")

// Capabilities describes what the installed toolchain can do. It is built
// once per process by CapabilityProbe and treated as immutable afterwards.
type Capabilities struct {
	FFmpegPath   string    `json:"ffmpeg_path"`
	FFprobePath  string    `json:"ffprobe_path,omitempty"`
	Version      string    `json:"version"`
	MajorVersion int       `json:"major_version"`
	MinorVersion int       `json:"minor_version"`
	Encoders     []string  `json:"encoders"`
	MuxFormats   []string  `json:"mux_formats"`
	HWAccels     []HWAccel `json:"hw_accels"`
}

// HasEncoder returns true if the named encoder is available.
func (c *Capabilities) HasEncoder(name string) bool {
	return slices.Contains(c.Encoders, name)
}

// CanMux returns true if the toolchain can mux the named format.
func (c *Capabilities) CanMux(name string) bool {
	return slices.Contains(c.MuxFormats, name)
}

// AvailableHWAccels returns the accelerators that passed their functional
// probe, in detection order.
func (c *Capabilities) AvailableHWAccels() []HWAccel {
	var out []HWAccel
	for _, hw := range c.HWAccels {
		if hw.Available {
			out = append(out, hw)
		}
	}
	return out
}

// HardwareEncoderFor returns the hardware encoder for the codec on the
// highest-priority available accelerator, honoring an optional vendor pin.
// ok is false when no accelerator can encode the codec.
func (c *Capabilities) HardwareEncoderFor(codec media.VideoCodec, priority []string, vendor string) (encoder string, accel HWAccelType, ok bool) {
	for _, name := range priority {
		t := HWAccelType(name)
		if vendor != "" && string(t) != vendor {
			continue
		}
		for _, hw := range c.HWAccels {
			if hw.Type != t || !hw.Available {
				continue
			}
			candidate := hardwareEncoderName(codec, t)
			if candidate != "" && slices.Contains(hw.Encoders, candidate) {
				return candidate, t, true
			}
		}
	}
	return "", "", false
}

// CapabilityProbe performs toolchain detection exactly once per process.
// Concurrent callers share the single probe; later callers get the cached
// result without re-querying the toolchain.
type CapabilityProbe struct {
	binaryPath string // explicit ffmpeg path; empty auto-detects
	probePath  string // explicit ffprobe path; empty auto-detects
	logger     *slog.Logger

	once sync.Once
	caps *Capabilities
	err  error
}

// NewCapabilityProbe creates a probe. Empty binary paths fall back to the
// CHUNCONV_FFMPEG_BINARY / CHUNCONV_FFPROBE_BINARY env vars, the working
// directory, then PATH.
func NewCapabilityProbe(binaryPath, probePath string, logger *slog.Logger) *CapabilityProbe {
	if logger == nil {
		logger = slog.Default()
	}
	return &CapabilityProbe{
		binaryPath: binaryPath,
		probePath:  probePath,
		logger:     logger.With(slog.String("component", "capability_probe")),
	}
}

// Probe returns the toolchain capabilities, detecting them on first call.
// A failed probe is cached too: the toolchain does not come back mid-process
// and retrying on every job would hammer a broken install.
func (p *CapabilityProbe) Probe(ctx context.Context) (*Capabilities, error) {
	p.once.Do(func() {
		p.caps, p.err = p.detect(ctx)
		if p.err != nil {
			p.logger.Error("capability probe failed", slog.String("error", p.err.Error()))
			return
		}
		p.logger.Info("toolchain detected",
			slog.String("version", p.caps.Version),
			slog.String("path", p.caps.FFmpegPath),
			slog.Int("encoders", len(p.caps.Encoders)),
			slog.Int("hw_accels", len(p.caps.AvailableHWAccels())),
		)
	})
	return p.caps, p.err
}

// detect runs the full toolchain interrogation.
func (p *CapabilityProbe) detect(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{}

	ffmpegPath := p.binaryPath
	if ffmpegPath == "" {
		path, err := util.FindBinary("ffmpeg", "CHUNCONV_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrToolchainUnavailable, err)
		}
		ffmpegPath = path
	}
	caps.FFmpegPath = ffmpegPath

	// ffprobe is optional: without it source probing degrades but encoding
	// still works.
	probePath := p.probePath
	if probePath == "" {
		if path, err := util.FindBinary("ffprobe", "CHUNCONV_FFPROBE_BINARY"); err == nil {
			probePath = path
		}
	}
	caps.FFprobePath = probePath

	versionOut, err := runTool(ctx, ffmpegPath, "-version")
	if err != nil {
		return nil, fmt.Errorf("%w: querying version: %v", ErrToolchainUnavailable, err)
	}
	full, major, minor, err := parseVersion(versionOut)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolchainUnavailable, err)
	}
	caps.Version = full
	caps.MajorVersion = major
	caps.MinorVersion = minor

	if out, err := runTool(ctx, ffmpegPath, "-encoders", "-hide_banner"); err == nil {
		caps.Encoders = parseEncoders(out)
	}
	if out, err := runTool(ctx, ffmpegPath, "-formats", "-hide_banner"); err == nil {
		caps.MuxFormats = parseMuxFormats(out)
	}

	caps.HWAccels = detectHWAccels(ctx, ffmpegPath, caps.Encoders)
	return caps, nil
}

// runTool runs the binary with args and returns stdout.
func runTool(ctx context.Context, path string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, path, args...)
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

var versionRegex = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// parseVersion extracts the version string and numeric components from
// `ffmpeg -version` output. Handles "6.0", "n6.0-2-g...", and "6.0.1".
func parseVersion(output string) (full string, major, minor int, err error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 3 {
			continue
		}
		full = parts[2]
		if matches := versionRegex.FindStringSubmatch(full); len(matches) >= 3 {
			major, _ = strconv.Atoi(matches[1])
			minor, _ = strconv.Atoi(matches[2])
		}
		return full, major, minor, nil
	}
	return "", 0, 0, fmt.Errorf("failed to parse version output")
}

// parseEncoders extracts encoder names from `ffmpeg -encoders` output.
// Lines look like " V....D libx264  H.264 / AVC ..." after a ------ header.
func parseEncoders(output string) []string {
	var encoders []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		line = strings.TrimLeft(line, " ")
		if len(line) < 8 {
			continue
		}
		if line[0] != 'V' && line[0] != 'A' && line[0] != 'S' {
			continue
		}
		if fields := strings.Fields(strings.TrimSpace(line[6:])); len(fields) >= 1 && fields[0] != "" {
			encoders = append(encoders, fields[0])
		}
	}
	return encoders
}

// parseMuxFormats extracts muxable format names from `ffmpeg -formats`
// output. The E flag marks muxing support; comma-separated names are split.
func parseMuxFormats(output string) []string {
	var formats []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "--") {
			inList = true
			continue
		}
		if !inList || len(line) < 4 {
			continue
		}
		flags := strings.TrimSpace(line[:3])
		if !strings.Contains(flags, "E") {
			continue
		}
		rest := strings.TrimSpace(line[3:])
		parts := strings.SplitN(rest, " ", 2)
		if len(parts) < 1 || parts[0] == "" {
			continue
		}
		for _, name := range strings.Split(parts[0], ",") {
			if name != "" {
				formats = append(formats, name)
			}
		}
	}
	return formats
}
