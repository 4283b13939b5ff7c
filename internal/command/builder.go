// Package command synthesizes toolchain invocations from validated job
// specs. Building is deterministic: the same spec, verdict, capabilities,
// and source description always yield the identical argument vector. No
// subprocess is spawned here.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/chunmedia/chunconv/internal/compat"
	"github.com/chunmedia/chunconv/internal/ffmpeg"
	"github.com/chunmedia/chunconv/internal/media"
)

// Builder errors.
var (
	// ErrRejectedSpec means a rejected verdict reached the builder. Rejected
	// specs must be stopped at admission; this is a programming error guard.
	ErrRejectedSpec = errors.New("spec was rejected by compatibility check")
	// ErrHardwareUnavailable means the spec forces a hardware path no
	// detected accelerator can provide.
	ErrHardwareUnavailable = errors.New("hardware encoder unavailable")
	// ErrDurationUnknown means target-size rate control needs the source
	// duration and the probe could not determine it.
	ErrDurationUnknown = errors.New("source duration unknown")
	// ErrUnbuildableSpec means the spec cannot be turned into a command for
	// a reason other than hardware or duration.
	ErrUnbuildableSpec = errors.New("unbuildable spec")
)

// minTargetVideoBps is the floor for derived video bitrates in target-size
// mode. Below this the output would be unusable anyway; the resulting file
// overshoots the target instead.
const minTargetVideoBps = 300_000

// EncodeCommand is a fully resolved toolchain invocation.
type EncodeCommand struct {
	Binary       string
	Args         []string
	VideoEncoder string // resolved encoder name; empty for audio-only output
	AudioEncoder string
	Accel        ffmpeg.HWAccelType // empty on the software path
	Mode         media.EncodingMode
}

// String renders the command for logging.
func (c *EncodeCommand) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Builder turns accepted specs into encode commands.
type Builder struct {
	caps       *ffmpeg.Capabilities
	hwPriority []string
	threads    int // 0 omits -threads
}

// NewBuilder creates a builder over the probed capabilities. hwPriority
// orders hardware vendors for auto resolution; threads caps encoder
// threading (0 leaves it to the toolchain).
func NewBuilder(caps *ffmpeg.Capabilities, hwPriority []string, threads int) *Builder {
	return &Builder{caps: caps, hwPriority: hwPriority, threads: threads}
}

// Build synthesizes the invocation for an accepted spec. The verdict must
// come from the compatibility engine for the same spec; its resolved codec
// and pixel format fields take precedence over the spec's. src may be nil
// when the source was not probed, which disables target-size mode and
// source-diff filter suppression.
func (b *Builder) Build(spec *media.JobSpec, verdict compat.Verdict, src *media.SourceInfo) (*EncodeCommand, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnbuildableSpec, err)
	}
	if verdict.Decision == compat.Rejected {
		return nil, fmt.Errorf("%w: %s", ErrRejectedSpec, verdict.Reason)
	}

	mode, err := spec.Mode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnbuildableSpec, err)
	}

	cmd := &EncodeCommand{
		Binary: b.caps.FFmpegPath,
		Mode:   mode,
	}

	audioOnly := spec.Container.IsAudioOnly()

	var accel ffmpeg.HWAccelType
	if !audioOnly && verdict.VideoCodec != media.VideoCopy {
		cmd.VideoEncoder, accel, err = b.resolveVideoEncoder(spec, verdict.VideoCodec)
		if err != nil {
			return nil, err
		}
		cmd.Accel = accel
	} else if verdict.VideoCodec == media.VideoCopy {
		cmd.VideoEncoder = "copy"
	}

	if verdict.AudioCodec == media.AudioCopy {
		cmd.AudioEncoder = "copy"
	} else {
		enc := ffmpeg.AudioEncoder(verdict.AudioCodec)
		if enc == "" {
			return nil, fmt.Errorf("%w: no encoder for audio codec %q", ErrUnbuildableSpec, verdict.AudioCodec)
		}
		cmd.AudioEncoder = enc
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-nostats",
		"-progress", "pipe:1",
	}
	args = append(args, ffmpeg.HardwareInputArgs(accel, hwDevice(b.caps, accel))...)
	args = append(args, "-i", spec.InputPath)

	// Output-side seek keeps trimming frame-accurate at the cost of
	// decoding up to the start point.
	if !spec.Trim.IsZero() {
		if spec.Trim.Start > 0 {
			args = append(args, "-ss", formatSeconds(spec.Trim.Start))
		}
		if spec.Trim.Duration > 0 {
			args = append(args, "-t", formatSeconds(spec.Trim.Duration))
		}
	}

	if audioOnly {
		args = append(args, "-vn", "-map", "0:a:0")
	} else {
		args = append(args, "-map", "0:v:0", "-map", "0:a:0?")
	}

	if !audioOnly {
		videoArgs, err := b.videoArgs(cmd, spec, verdict, src, mode)
		if err != nil {
			return nil, err
		}
		args = append(args, videoArgs...)
	}

	args = append(args, b.audioArgs(cmd, spec, verdict)...)

	if !spec.Color.IsZero() {
		if spec.Color.Space != "" {
			args = append(args, "-colorspace", spec.Color.Space)
		}
		if spec.Color.Primaries != "" {
			args = append(args, "-color_primaries", spec.Color.Primaries)
		}
		if spec.Color.Transfer != "" {
			args = append(args, "-color_trc", spec.Color.Transfer)
		}
	}

	if fastStart(spec) {
		args = append(args, "-movflags", "+faststart")
	}

	muxer, ok := muxerNames[spec.Container]
	if !ok {
		return nil, fmt.Errorf("%w: no muxer for container %q", ErrUnbuildableSpec, spec.Container)
	}
	args = append(args, "-f", muxer)

	if b.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(b.threads))
	}

	args = append(args, spec.OutputPath)
	cmd.Args = args
	return cmd, nil
}

// resolveVideoEncoder picks the encoder implementing the target codec per
// the spec's hardware preference.
func (b *Builder) resolveVideoEncoder(spec *media.JobSpec, codec media.VideoCodec) (string, ffmpeg.HWAccelType, error) {
	software := ffmpeg.SoftwareVideoEncoder(codec)

	switch spec.HardwareOrDefault() {
	case media.HardwareOff:
	case media.HardwareForced:
		enc, accel, ok := b.caps.HardwareEncoderFor(codec, b.hwPriority, spec.HardwareVendor)
		if !ok {
			return "", "", fmt.Errorf("%w: no accelerator provides codec %q", ErrHardwareUnavailable, codec)
		}
		return enc, accel, nil
	case media.HardwareAuto:
		if enc, accel, ok := b.caps.HardwareEncoderFor(codec, b.hwPriority, spec.HardwareVendor); ok {
			return enc, accel, nil
		}
	}

	if software == "" {
		return "", "", fmt.Errorf("%w: no encoder for video codec %q", ErrUnbuildableSpec, codec)
	}
	if len(b.caps.Encoders) > 0 && !b.caps.HasEncoder(software) {
		return "", "", fmt.Errorf("%w: encoder %q not built into toolchain", ErrUnbuildableSpec, software)
	}
	return software, "", nil
}

// videoArgs emits codec, rate control, preset, GOP, and filter arguments.
func (b *Builder) videoArgs(cmd *EncodeCommand, spec *media.JobSpec, verdict compat.Verdict, src *media.SourceInfo, mode media.EncodingMode) ([]string, error) {
	args := []string{"-c:v", cmd.VideoEncoder}
	if cmd.VideoEncoder == "copy" {
		return args, nil
	}

	rateArgs, err := b.rateControlArgs(cmd, spec, src, mode)
	if err != nil {
		return nil, err
	}
	args = append(args, rateArgs...)

	args = append(args, presetArgs(cmd, spec)...)

	if spec.Profile != "" {
		args = append(args, "-profile:v", spec.Profile)
	}
	if spec.Level != "" {
		args = append(args, "-level", spec.Level)
	}
	if spec.BFrames != nil {
		args = append(args, "-bf", strconv.Itoa(*spec.BFrames))
	}

	if spec.Gop.Mode != media.GopDefault {
		frames, err := resolveGopFrames(spec, src)
		if err != nil {
			return nil, err
		}
		args = append(args, "-g", strconv.Itoa(frames))
	}

	// Pixel format: through -pix_fmt on paths that encode from system
	// memory; VAAPI/QSV convert during upload instead.
	pixFmt := verdict.PixelFormat
	if src != nil && pixFmt == src.PixelFormat {
		pixFmt = media.PixFmtNone
	}
	uploadFilter := ffmpeg.HardwareUploadFilter(cmd.Accel)
	if pixFmt != media.PixFmtNone && uploadFilter == "" {
		args = append(args, "-pix_fmt", pixFmt.String())
	}

	if filter := buildFilterChain(spec, src, uploadFilter); filter != "" {
		args = append(args, "-vf", filter)
	}

	if spec.Framerate > 0 && (src == nil || !sameFramerate(spec.Framerate, src.Framerate)) {
		args = append(args, "-r", formatFramerate(spec.Framerate))
	}

	return args, nil
}

// rateControlArgs emits the mode-specific quality/bitrate arguments.
func (b *Builder) rateControlArgs(cmd *EncodeCommand, spec *media.JobSpec, src *media.SourceInfo, mode media.EncodingMode) ([]string, error) {
	switch mode {
	case media.ModeQuality:
		q := strconv.Itoa(*spec.Quality)
		switch cmd.Accel {
		case ffmpeg.HWAccelNVENC:
			return []string{"-rc", "vbr", "-cq", q, "-b:v", "0"}, nil
		case ffmpeg.HWAccelQSV:
			return []string{"-global_quality", q}, nil
		case ffmpeg.HWAccelVAAPI, ffmpeg.HWAccelVideoToolbox:
			return []string{"-qp", q}, nil
		}
		// libvpx/libaom require an explicit zero bitrate for constant
		// quality.
		if cmd.VideoEncoder == "libvpx-vp9" || cmd.VideoEncoder == "libvpx" || cmd.VideoEncoder == "libaom-av1" {
			return []string{"-crf", q, "-b:v", "0"}, nil
		}
		return []string{"-crf", q}, nil

	case media.ModeBitrate:
		args := []string{"-b:v", strconv.FormatInt(spec.VideoBitrateBps, 10)}
		if spec.MaxrateBps > 0 {
			args = append(args, "-maxrate", strconv.FormatInt(spec.MaxrateBps, 10))
		}
		if spec.BufsizeBps > 0 {
			args = append(args, "-bufsize", strconv.FormatInt(spec.BufsizeBps, 10))
		}
		return args, nil

	case media.ModeTargetSize:
		bps, err := targetVideoBitrate(spec, src)
		if err != nil {
			return nil, err
		}
		return []string{"-b:v", strconv.FormatInt(bps, 10)}, nil
	}
	return nil, fmt.Errorf("%w: unknown rate-control mode %q", ErrUnbuildableSpec, mode)
}

// targetVideoBitrate derives the video bitrate that fits the target size:
// total bit budget minus the audio share, spread over the duration.
func targetVideoBitrate(spec *media.JobSpec, src *media.SourceInfo) (int64, error) {
	if src == nil || !src.HasDuration || src.Duration <= 0 {
		return 0, ErrDurationUnknown
	}

	seconds := src.Duration.Seconds()
	if !spec.Trim.IsZero() && spec.Trim.Duration > 0 {
		seconds = spec.Trim.Duration.Seconds()
	}

	totalBits := float64(spec.TargetSizeBytes) * 8
	audioBits := float64(effectiveAudioBitrate(spec)) * seconds
	bps := int64((totalBits - audioBits) / seconds)
	if bps < minTargetVideoBps {
		bps = minTargetVideoBps
	}
	return bps, nil
}

// presetArgs emits preset/tune. Hardware paths drop the tune flag; NVENC
// presets are translated to its p1-p7 scale and other accelerators take no
// preset at all.
func presetArgs(cmd *EncodeCommand, spec *media.JobSpec) []string {
	if spec.Preset == "" && spec.Tune == "" {
		return nil
	}
	var args []string
	switch cmd.Accel {
	case "":
		if spec.Preset != "" {
			args = append(args, "-preset", spec.Preset)
		}
		if spec.Tune != "" {
			args = append(args, "-tune", spec.Tune)
		}
	case ffmpeg.HWAccelNVENC:
		if spec.Preset != "" {
			args = append(args, "-preset", mapNVENCPreset(spec.Preset))
		}
	}
	return args
}

// resolveGopFrames converts the GOP strategy to a frame count using the
// effective output framerate.
func resolveGopFrames(spec *media.JobSpec, src *media.SourceInfo) (int, error) {
	if spec.Gop.Mode == media.GopFrames {
		return spec.Gop.Frames, nil
	}

	fps := spec.Framerate
	if fps == 0 && src != nil {
		fps = src.Framerate
	}
	if fps <= 0 {
		return 0, fmt.Errorf("%w: keyframe interval %q needs a known framerate", ErrUnbuildableSpec, spec.Gop.Mode)
	}

	switch spec.Gop.Mode {
	case media.GopHalfFPS:
		return roundFrames(fps / 2), nil
	case media.GopSameFPS:
		return roundFrames(fps), nil
	case media.GopDoubleFPS:
		return roundFrames(fps * 2), nil
	case media.GopSeconds:
		return roundFrames(fps * spec.Gop.Seconds), nil
	}
	return 0, fmt.Errorf("%w: unknown keyframe interval mode %q", ErrUnbuildableSpec, spec.Gop.Mode)
}

func roundFrames(f float64) int {
	frames := int(math.Round(f))
	if frames < 1 {
		frames = 1
	}
	return frames
}

// buildFilterChain assembles the -vf chain: scaling when the requested
// dimensions differ from the source, then the accelerator upload fragment.
func buildFilterChain(spec *media.JobSpec, src *media.SourceInfo, uploadFilter string) string {
	var filters []string

	if !spec.Scale.IsZero() {
		differs := src == nil || spec.Scale.Width != src.Width || spec.Scale.Height != src.Height
		if differs {
			filters = append(filters, fmt.Sprintf("scale=%d:%d", scaleDim(spec.Scale.Width), scaleDim(spec.Scale.Height)))
		}
	}
	if uploadFilter != "" {
		filters = append(filters, uploadFilter)
	}
	return strings.Join(filters, ",")
}

// scaleDim maps an unset dimension to -2 so the toolchain preserves aspect
// ratio with an even size.
func scaleDim(d int) int {
	if d == 0 {
		return -2
	}
	return d
}

// audioArgs emits the audio codec arguments. Bitrate applies to lossy
// codecs only.
func (b *Builder) audioArgs(cmd *EncodeCommand, spec *media.JobSpec, verdict compat.Verdict) []string {
	args := []string{"-c:a", cmd.AudioEncoder}
	if cmd.AudioEncoder == "copy" {
		return args
	}

	if verdict.AudioCodec.IsLossy() {
		args = append(args, "-b:a", strconv.FormatInt(effectiveAudioBitrate(spec), 10))
	}
	if spec.AudioSampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(spec.AudioSampleRate))
	}
	if spec.AudioChannels > 0 {
		args = append(args, "-ac", strconv.Itoa(spec.AudioChannels))
	}
	return args
}

// effectiveAudioBitrate returns the configured audio bitrate or the default.
func effectiveAudioBitrate(spec *media.JobSpec) int64 {
	if spec.AudioBitrateBps > 0 {
		return spec.AudioBitrateBps
	}
	return media.DefaultAudioBitrateBps
}

// fastStart reports whether the faststart flag applies: on by default for
// mp4-family containers, opt-in elsewhere is meaningless so nil means off.
func fastStart(spec *media.JobSpec) bool {
	if spec.FastStart != nil {
		return *spec.FastStart && mp4Family(spec.Container)
	}
	return mp4Family(spec.Container)
}

func mp4Family(c media.Container) bool {
	return c == media.ContainerMP4 || c == media.ContainerMOV || c == media.ContainerM4A
}

// hwDevice returns the detected device path for an accelerator.
func hwDevice(caps *ffmpeg.Capabilities, accel ffmpeg.HWAccelType) string {
	if accel == "" {
		return ""
	}
	for _, hw := range caps.HWAccels {
		if hw.Type == accel {
			return hw.Device
		}
	}
	return ""
}

// formatSeconds renders a duration as fractional seconds for -ss/-t.
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// formatFramerate renders a framerate, trimming a trailing ".000".
func formatFramerate(fps float64) string {
	s := strconv.FormatFloat(fps, 'f', 3, 64)
	return strings.TrimSuffix(s, ".000")
}

// sameFramerate compares framerates with a small tolerance for rational
// rounding (29.97 vs 30000/1001).
func sameFramerate(a, b float64) bool {
	return math.Abs(a-b) < 0.01
}
