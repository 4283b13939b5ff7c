package media

import (
	"errors"
	"fmt"
	"time"
)

// HardwarePreference controls how the command builder resolves the encoder
// path for a job.
type HardwarePreference string

const (
	// HardwareAuto uses a hardware encoder when one is available for the
	// target codec, falling back to software otherwise.
	HardwareAuto HardwarePreference = "auto"
	// HardwareForced requires a hardware encoder. Building fails if none is
	// available for the target codec.
	HardwareForced HardwarePreference = "forced"
	// HardwareOff always uses the software encoder.
	HardwareOff HardwarePreference = "off"
)

// EncodingMode identifies which rate-control mode a job uses. Exactly one
// mode must be configured on a spec that produces video.
type EncodingMode string

const (
	// ModeQuality encodes at a constant quality factor.
	ModeQuality EncodingMode = "quality"
	// ModeBitrate encodes at an explicit average video bitrate.
	ModeBitrate EncodingMode = "bitrate"
	// ModeTargetSize derives the video bitrate from a target output size and
	// the source duration.
	ModeTargetSize EncodingMode = "target_size"
)

// GopMode selects how the keyframe interval is derived.
type GopMode string

const (
	// GopDefault leaves the keyframe interval to the encoder.
	GopDefault GopMode = ""
	// GopHalfFPS places a keyframe every half second of frames.
	GopHalfFPS GopMode = "half_fps"
	// GopSameFPS places a keyframe every second of frames.
	GopSameFPS GopMode = "same_fps"
	// GopDoubleFPS places a keyframe every two seconds of frames.
	GopDoubleFPS GopMode = "double_fps"
	// GopSeconds places a keyframe every Seconds seconds of frames.
	GopSeconds GopMode = "seconds"
	// GopFrames uses an explicit frame count.
	GopFrames GopMode = "frames"
)

// GopSpec configures the keyframe interval strategy.
type GopSpec struct {
	Mode    GopMode
	Seconds float64 // used when Mode == GopSeconds
	Frames  int     // used when Mode == GopFrames
}

// TrimSpec selects a time window of the source. Zero values mean the
// corresponding bound is not set.
type TrimSpec struct {
	Start    time.Duration
	Duration time.Duration
}

// IsZero reports whether no trim window is configured.
func (t TrimSpec) IsZero() bool { return t.Start == 0 && t.Duration == 0 }

// ScaleSpec requests output dimensions. A value of -2 asks the toolchain to
// derive that dimension preserving aspect ratio. Zero on both axes means no
// scaling.
type ScaleSpec struct {
	Width  int
	Height int
}

// IsZero reports whether no scaling is requested.
func (s ScaleSpec) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// ColorSpec carries explicit color metadata for the output stream. Empty
// fields are omitted from the command.
type ColorSpec struct {
	Space     string // e.g. bt709
	Primaries string
	Transfer  string
}

// IsZero reports whether no color metadata is requested.
func (c ColorSpec) IsZero() bool {
	return c.Space == "" && c.Primaries == "" && c.Transfer == ""
}

// DefaultAudioBitrateBps is used when a lossy audio target has no explicit
// bitrate configured.
const DefaultAudioBitrateBps = 128 * 1024

// JobSpec fully describes one conversion. It is a plain value: building and
// validating it touches neither the filesystem nor the toolchain.
type JobSpec struct {
	InputPath  string
	OutputPath string

	Container   Container
	VideoCodec  VideoCodec  // empty keeps the container's preferred codec
	AudioCodec  AudioCodec  // empty keeps the container's preferred codec
	PixelFormat PixelFormat // empty keeps the source pixel format

	// Rate control: exactly one of the three must be set for video output.
	Quality         *int  // constant quality factor (CRF/CQ scale)
	VideoBitrateBps int64 // explicit average video bitrate, bits per second
	TargetSizeBytes int64 // desired total output size

	AudioBitrateBps int64 // 0 uses DefaultAudioBitrateBps for lossy codecs
	AudioSampleRate int   // 0 keeps source
	AudioChannels   int   // 0 keeps source

	Preset  string // encoder preset, x264-style names
	Tune    string // encoder tune, dropped on hardware paths
	Profile string
	Level   string
	BFrames *int

	MaxrateBps int64
	BufsizeBps int64

	Gop       GopSpec
	Scale     ScaleSpec
	Framerate float64 // 0 keeps source
	Color     ColorSpec
	Trim      TrimSpec

	Hardware       HardwarePreference // empty means HardwareAuto
	HardwareVendor string             // optional vendor pin when forced

	// FastStart controls the mp4/mov faststart flag. Nil means on for mp4
	// and mov, off elsewhere.
	FastStart *bool
}

// Spec validation errors.
var (
	ErrNoInput        = errors.New("input path is required")
	ErrNoOutput       = errors.New("output path is required")
	ErrNoContainer    = errors.New("output container is required")
	ErrNoRateControl  = errors.New("exactly one rate-control mode is required")
	ErrAmbiguousRate  = errors.New("rate-control modes are mutually exclusive")
	ErrInvalidTrim    = errors.New("trim bounds must not be negative")
	ErrInvalidGop     = errors.New("invalid keyframe interval configuration")
	ErrInvalidHW      = errors.New("hardware preference must be auto, forced, or off")
	ErrInvalidQuality = errors.New("quality factor must not be negative")
)

// Mode returns the configured rate-control mode, or an error when zero or
// more than one mode is set. Audio-only containers and stream-copied video
// re-encode nothing, so rate control is optional there and ModeQuality is
// reported when nothing is set.
func (s *JobSpec) Mode() (EncodingMode, error) {
	var modes []EncodingMode
	if s.Quality != nil {
		modes = append(modes, ModeQuality)
	}
	if s.VideoBitrateBps > 0 {
		modes = append(modes, ModeBitrate)
	}
	if s.TargetSizeBytes > 0 {
		modes = append(modes, ModeTargetSize)
	}
	switch len(modes) {
	case 0:
		if s.Container.IsAudioOnly() || s.VideoCodec == VideoCopy {
			return ModeQuality, nil
		}
		return "", ErrNoRateControl
	case 1:
		return modes[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrAmbiguousRate, modes)
	}
}

// Validate checks structural validity of the spec. Container/codec
// compatibility is the rules engine's concern, not Validate's.
func (s *JobSpec) Validate() error {
	if s.InputPath == "" {
		return ErrNoInput
	}
	if s.OutputPath == "" {
		return ErrNoOutput
	}
	if s.Container == "" {
		return ErrNoContainer
	}
	if _, err := s.Mode(); err != nil {
		return err
	}
	if s.Quality != nil && *s.Quality < 0 {
		return ErrInvalidQuality
	}
	if s.Trim.Start < 0 || s.Trim.Duration < 0 {
		return ErrInvalidTrim
	}
	switch s.Gop.Mode {
	case GopDefault, GopHalfFPS, GopSameFPS, GopDoubleFPS:
	case GopSeconds:
		if s.Gop.Seconds <= 0 {
			return fmt.Errorf("%w: seconds mode needs a positive interval", ErrInvalidGop)
		}
	case GopFrames:
		if s.Gop.Frames <= 0 {
			return fmt.Errorf("%w: frames mode needs a positive frame count", ErrInvalidGop)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidGop, s.Gop.Mode)
	}
	switch s.Hardware {
	case "", HardwareAuto, HardwareForced, HardwareOff:
	default:
		return ErrInvalidHW
	}
	return nil
}

// HardwareOrDefault returns the effective hardware preference.
func (s *JobSpec) HardwareOrDefault() HardwarePreference {
	if s.Hardware == "" {
		return HardwareAuto
	}
	return s.Hardware
}

// SourceInfo describes the probed properties of an input file that the
// command builder needs.
type SourceInfo struct {
	Duration    time.Duration
	HasDuration bool

	VideoCodec  VideoCodec
	Width       int
	Height      int
	Framerate   float64
	PixelFormat PixelFormat

	AudioCodec      AudioCodec
	AudioBitrateBps int64
	AudioSampleRate int
	AudioChannels   int
}
