package ffmpeg

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	"github.com/chunmedia/chunconv/internal/media"
)

// HWAccelType identifies a hardware acceleration vendor path.
type HWAccelType string

const (
	HWAccelNVENC        HWAccelType = "nvenc"
	HWAccelQSV          HWAccelType = "qsv"
	HWAccelVAAPI        HWAccelType = "vaapi"
	HWAccelVideoToolbox HWAccelType = "videotoolbox"
)

// HWAccel describes one detected accelerator.
type HWAccel struct {
	Type      HWAccelType `json:"type"`
	Available bool        `json:"available"`
	Device    string      `json:"device,omitempty"`
	Encoders  []string    `json:"encoders,omitempty"`
}

// hwAccelNames maps `-hwaccels` output names to vendor paths. The toolchain
// reports NVIDIA as "cuda".
var hwAccelNames = map[string]HWAccelType{
	"cuda":         HWAccelNVENC,
	"nvdec":        HWAccelNVENC,
	"qsv":          HWAccelQSV,
	"vaapi":        HWAccelVAAPI,
	"videotoolbox": HWAccelVideoToolbox,
}

// encoderSuffixes maps vendor paths to the encoder name suffix the toolchain
// uses for them.
var encoderSuffixes = map[HWAccelType]string{
	HWAccelNVENC:        "_nvenc",
	HWAccelQSV:          "_qsv",
	HWAccelVAAPI:        "_vaapi",
	HWAccelVideoToolbox: "_videotoolbox",
}

// hwCodecBases maps canonical codec names to the base encoder name hardware
// encoders are derived from (h265 encoders are named hevc_*).
var hwCodecBases = map[media.VideoCodec]string{
	media.VideoH264:   "h264",
	media.VideoH265:   "hevc",
	media.VideoVP9:    "vp9",
	media.VideoAV1:    "av1",
	media.VideoProRes: "prores",
}

// hardwareEncoderName returns the hardware encoder name for a codec on an
// accelerator, or "" when the codec has no hardware path.
func hardwareEncoderName(codec media.VideoCodec, accel HWAccelType) string {
	base, ok := hwCodecBases[codec]
	if !ok {
		return ""
	}
	suffix, ok := encoderSuffixes[accel]
	if !ok {
		return ""
	}
	return base + suffix
}

// HardwareInputArgs returns the global/input arguments that activate an
// accelerator for encoding.
func HardwareInputArgs(accel HWAccelType, device string) []string {
	switch accel {
	case HWAccelNVENC:
		return []string{"-hwaccel", "cuda"}
	case HWAccelQSV:
		return []string{"-init_hw_device", "qsv=hw"}
	case HWAccelVAAPI:
		if device == "" {
			device = "/dev/dri/renderD128"
		}
		return []string{"-vaapi_device", device}
	case HWAccelVideoToolbox:
		return nil
	default:
		return nil
	}
}

// HardwareUploadFilter returns the filter chain fragment an accelerator
// needs to move frames into device memory, or "" when none is needed.
func HardwareUploadFilter(accel HWAccelType) string {
	switch accel {
	case HWAccelQSV:
		return "hwupload=extra_hw_frames=64,format=qsv"
	case HWAccelVAAPI:
		return "format=nv12,hwupload"
	default:
		return ""
	}
}

// detectHWAccels lists the accelerators the toolchain was built with and
// functionally probes each: a vendor counts as available only when a tiny
// null encode through it succeeds.
func detectHWAccels(ctx context.Context, ffmpegPath string, encoders []string) []HWAccel {
	out, err := runTool(ctx, ffmpegPath, "-hwaccels", "-hide_banner")
	if err != nil {
		return nil
	}

	seen := map[HWAccelType]bool{}
	var results []HWAccel
	for _, name := range parseHWAccelNames(out) {
		t, ok := hwAccelNames[name]
		if !ok || seen[t] {
			continue
		}
		seen[t] = true

		hw := HWAccel{Type: t}
		hw.Available, hw.Device = probeAccel(ctx, ffmpegPath, t)
		if hw.Available {
			suffix := encoderSuffixes[t]
			for _, enc := range encoders {
				if strings.HasSuffix(enc, suffix) {
					hw.Encoders = append(hw.Encoders, enc)
				}
			}
		}
		results = append(results, hw)
	}
	return results
}

// parseHWAccelNames parses `ffmpeg -hwaccels` output.
func parseHWAccelNames(output string) []string {
	var names []string
	inList := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			names = append(names, line)
		}
	}
	return names
}

// probeAccel runs a minimal encode through the accelerator to verify it
// works on this machine, not just that the toolchain was built with it.
func probeAccel(ctx context.Context, ffmpegPath string, accel HWAccelType) (bool, string) {
	switch accel {
	case HWAccelNVENC:
		return probeNVENC(ctx, ffmpegPath)
	case HWAccelQSV:
		return probeQSV(ctx, ffmpegPath)
	case HWAccelVAAPI:
		return probeVAAPI(ctx, ffmpegPath)
	case HWAccelVideoToolbox:
		return probeVideoToolbox(ctx, ffmpegPath)
	default:
		return false, ""
	}
}

func probeNVENC(ctx context.Context, ffmpegPath string) (bool, string) {
	cmd := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader")
	output, err := cmd.Output()
	if err != nil {
		return false, ""
	}
	deviceName := strings.TrimSpace(strings.Split(string(output), "\n")[0])
	if deviceName == "" {
		return false, ""
	}

	test := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_nvenc",
		"-t", "0.01",
		"-f", "null", "-")
	if err := test.Run(); err != nil {
		return false, ""
	}
	return true, deviceName
}

func probeQSV(ctx context.Context, ffmpegPath string) (bool, string) {
	test := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-init_hw_device", "qsv=hw",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-vf", "hwupload=extra_hw_frames=64,format=qsv",
		"-c:v", "h264_qsv",
		"-t", "0.01",
		"-f", "null", "-")
	if err := test.Run(); err != nil {
		return false, ""
	}
	return true, "Intel Quick Sync"
}

func probeVAAPI(ctx context.Context, ffmpegPath string) (bool, string) {
	if runtime.GOOS != "linux" {
		return false, ""
	}
	for _, device := range []string{"/dev/dri/renderD128", "/dev/dri/renderD129"} {
		test := exec.CommandContext(ctx, ffmpegPath,
			"-hide_banner",
			"-vaapi_device", device,
			"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
			"-vf", "format=nv12,hwupload",
			"-c:v", "h264_vaapi",
			"-t", "0.01",
			"-f", "null", "-")
		if err := test.Run(); err == nil {
			return true, device
		}
	}
	return false, ""
}

func probeVideoToolbox(ctx context.Context, ffmpegPath string) (bool, string) {
	if runtime.GOOS != "darwin" {
		return false, ""
	}
	test := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-f", "lavfi", "-i", "nullsrc=s=320x240:d=0.1",
		"-c:v", "h264_videotoolbox",
		"-t", "0.01",
		"-f", "null", "-")
	if err := test.Run(); err != nil {
		return false, ""
	}
	return true, "Apple VideoToolbox"
}
