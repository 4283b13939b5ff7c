package command

import (
	"github.com/chunmedia/chunconv/internal/media"
)

// muxerNames maps containers to the toolchain muxer selected with -f. The
// muxer name is not always the extension (mkv is "matroska", m4a is "ipod").
var muxerNames = map[media.Container]string{
	media.ContainerMP4:  "mp4",
	media.ContainerMKV:  "matroska",
	media.ContainerWebM: "webm",
	media.ContainerAVI:  "avi",
	media.ContainerMOV:  "mov",
	media.ContainerFLV:  "flv",
	media.ContainerMP3:  "mp3",
	media.ContainerAAC:  "adts",
	media.ContainerFLAC: "flac",
	media.ContainerWAV:  "wav",
	media.ContainerOGG:  "ogg",
	media.ContainerOpus: "opus",
	media.ContainerM4A:  "ipod",
}

// nvencPresets maps x264-style preset names onto the NVENC p1 (fastest) to
// p7 (slowest) scale.
var nvencPresets = map[string]string{
	"ultrafast": "p1",
	"superfast": "p2",
	"veryfast":  "p2",
	"faster":    "p3",
	"fast":      "p4",
	"medium":    "p5",
	"slow":      "p6",
	"slower":    "p7",
	"veryslow":  "p7",
	"placebo":   "p7",
}

// mapNVENCPreset translates a preset name for NVENC encoders. Unknown names
// (including already-translated p1..p7) pass through unchanged.
func mapNVENCPreset(preset string) string {
	if mapped, ok := nvencPresets[preset]; ok {
		return mapped
	}
	return preset
}
