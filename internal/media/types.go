// Package media defines the domain value types shared by the compatibility
// engine, the command builder, and the conversion queue: containers, codecs,
// pixel formats, and the conversion job specification.
package media

import "strings"

// Container is an output container format, identified by its conventional
// file extension (without the dot).
type Container string

// Known containers.
const (
	ContainerMP4  Container = "mp4"
	ContainerMKV  Container = "mkv"
	ContainerWebM Container = "webm"
	ContainerAVI  Container = "avi"
	ContainerMOV  Container = "mov"
	ContainerFLV  Container = "flv"
	ContainerMP3  Container = "mp3"
	ContainerAAC  Container = "aac"
	ContainerFLAC Container = "flac"
	ContainerWAV  Container = "wav"
	ContainerOGG  Container = "ogg"
	ContainerOpus Container = "opus"
	ContainerM4A  Container = "m4a"
)

// String returns the container extension.
func (c Container) String() string { return string(c) }

// audioOnlyContainers holds containers that cannot carry a video stream.
var audioOnlyContainers = map[Container]bool{
	ContainerMP3:  true,
	ContainerAAC:  true,
	ContainerFLAC: true,
	ContainerWAV:  true,
	ContainerOGG:  true,
	ContainerOpus: true,
	ContainerM4A:  true,
}

// IsAudioOnly reports whether the container carries audio only. Conversions
// into an audio-only container drop the video stream entirely.
func (c Container) IsAudioOnly() bool { return audioOnlyContainers[c] }

// VideoCodec is a canonical video codec name (h264, h265, vp9, ...).
type VideoCodec string

// Known video codecs.
const (
	VideoH264   VideoCodec = "h264"
	VideoH265   VideoCodec = "h265"
	VideoVP8    VideoCodec = "vp8"
	VideoVP9    VideoCodec = "vp9"
	VideoAV1    VideoCodec = "av1"
	VideoMPEG4  VideoCodec = "mpeg4"
	VideoProRes VideoCodec = "prores"
	VideoFFV1   VideoCodec = "ffv1"
	VideoCopy   VideoCodec = "copy"
	VideoNone   VideoCodec = ""
)

// videoCodecAliases maps encoder names and alternate spellings to canonical
// codec names so user input and encoder tables converge.
var videoCodecAliases = map[string]VideoCodec{
	"libx264":    VideoH264,
	"avc":        VideoH264,
	"libx265":    VideoH265,
	"hevc":       VideoH265,
	"libvpx":     VideoVP8,
	"libvpx-vp9": VideoVP9,
	"libaom-av1": VideoAV1,
	"libsvtav1":  VideoAV1,
	"prores_ks":  VideoProRes,
}

// NormalizeVideoCodec maps an encoder name or codec alias to its canonical
// codec name. Unknown names are returned lowercased and unchanged.
func NormalizeVideoCodec(name string) VideoCodec {
	s := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := videoCodecAliases[s]; ok {
		return canonical
	}
	return VideoCodec(s)
}

// String returns the canonical codec name.
func (v VideoCodec) String() string { return string(v) }

// AudioCodec is a canonical audio codec name (aac, flac, opus, ...).
type AudioCodec string

// Known audio codecs.
const (
	AudioAAC    AudioCodec = "aac"
	AudioMP3    AudioCodec = "mp3"
	AudioAC3    AudioCodec = "ac3"
	AudioEAC3   AudioCodec = "eac3"
	AudioDTS    AudioCodec = "dts"
	AudioFLAC   AudioCodec = "flac"
	AudioALAC   AudioCodec = "alac"
	AudioOpus   AudioCodec = "opus"
	AudioVorbis AudioCodec = "vorbis"
	AudioPCM    AudioCodec = "pcm"
	AudioCopy   AudioCodec = "copy"
	AudioNone   AudioCodec = ""
)

// audioCodecAliases maps encoder names to canonical audio codec names.
var audioCodecAliases = map[string]AudioCodec{
	"libmp3lame": AudioMP3,
	"libopus":    AudioOpus,
	"libvorbis":  AudioVorbis,
	"libfdk_aac": AudioAAC,
	"pcm_s16le":  AudioPCM,
	"pcm_s24le":  AudioPCM,
	"pcm_s32le":  AudioPCM,
}

// NormalizeAudioCodec maps an encoder name or codec alias to its canonical
// codec name. Unknown names are returned lowercased and unchanged.
func NormalizeAudioCodec(name string) AudioCodec {
	s := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := audioCodecAliases[s]; ok {
		return canonical
	}
	return AudioCodec(s)
}

// String returns the canonical codec name.
func (a AudioCodec) String() string { return string(a) }

// lossyAudioCodecs holds codecs that take a bitrate argument. Lossless codecs
// never get one.
var lossyAudioCodecs = map[AudioCodec]bool{
	AudioAAC:    true,
	AudioMP3:    true,
	AudioAC3:    true,
	AudioEAC3:   true,
	AudioOpus:   true,
	AudioVorbis: true,
}

// IsLossy reports whether the codec is lossy and therefore accepts a bitrate.
func (a AudioCodec) IsLossy() bool { return lossyAudioCodecs[a] }

// PixelFormat is a pixel format name as the toolchain spells it
// (yuv420p, yuv422p10le, ...).
type PixelFormat string

// Common pixel formats.
const (
	PixFmtYUV420P     PixelFormat = "yuv420p"
	PixFmtYUV422P     PixelFormat = "yuv422p"
	PixFmtYUV444P     PixelFormat = "yuv444p"
	PixFmtYUV420P10LE PixelFormat = "yuv420p10le"
	PixFmtYUV422P10LE PixelFormat = "yuv422p10le"
	PixFmtNone        PixelFormat = ""
)

// String returns the pixel format name.
func (p PixelFormat) String() string { return string(p) }
