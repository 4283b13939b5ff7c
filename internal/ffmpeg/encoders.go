package ffmpeg

import (
	"slices"

	"github.com/chunmedia/chunconv/internal/media"
)

// softwareVideoEncoders maps canonical video codecs to their default
// software encoder.
var softwareVideoEncoders = map[media.VideoCodec]string{
	media.VideoH264:   "libx264",
	media.VideoH265:   "libx265",
	media.VideoVP8:    "libvpx",
	media.VideoVP9:    "libvpx-vp9",
	media.VideoAV1:    "libaom-av1",
	media.VideoMPEG4:  "mpeg4",
	media.VideoProRes: "prores_ks",
	media.VideoFFV1:   "ffv1",
}

// audioCodecEncoders maps canonical audio codecs to their default encoder.
var audioCodecEncoders = map[media.AudioCodec]string{
	media.AudioAAC:    "aac",
	media.AudioMP3:    "libmp3lame",
	media.AudioAC3:    "ac3",
	media.AudioEAC3:   "eac3",
	media.AudioDTS:    "dca",
	media.AudioFLAC:   "flac",
	media.AudioALAC:   "alac",
	media.AudioOpus:   "libopus",
	media.AudioVorbis: "libvorbis",
	media.AudioPCM:    "pcm_s16le",
}

// SoftwareVideoEncoder returns the default software encoder for a codec,
// or "" when no software encoder implements it.
func SoftwareVideoEncoder(codec media.VideoCodec) string {
	return softwareVideoEncoders[codec]
}

// AudioEncoder returns the default encoder for an audio codec, or "" when
// none implements it.
func AudioEncoder(codec media.AudioCodec) string {
	return audioCodecEncoders[codec]
}

// CanEncodeVideo reports whether the toolchain can produce the codec with
// any installed encoder, software or hardware. An empty encoder list means
// the encoder query failed; that counts as unknown and passes.
func (c *Capabilities) CanEncodeVideo(codec media.VideoCodec) bool {
	if len(c.Encoders) == 0 {
		return true
	}
	if codec == media.VideoCopy || codec == media.VideoNone {
		return true
	}
	if enc := SoftwareVideoEncoder(codec); enc != "" && c.HasEncoder(enc) {
		return true
	}
	for _, hw := range c.HWAccels {
		if !hw.Available {
			continue
		}
		if name := hardwareEncoderName(codec, hw.Type); name != "" && slices.Contains(hw.Encoders, name) {
			return true
		}
	}
	return false
}

// CanEncodeAudio reports whether the toolchain can produce the audio codec.
func (c *Capabilities) CanEncodeAudio(codec media.AudioCodec) bool {
	if len(c.Encoders) == 0 {
		return true
	}
	if codec == media.AudioCopy || codec == media.AudioNone {
		return true
	}
	enc := AudioEncoder(codec)
	return enc != "" && c.HasEncoder(enc)
}
