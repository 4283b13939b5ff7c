package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/chunmedia/chunconv/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleVersionOutput = `ffmpeg version 6.1.1 Copyright (c) 2000-2023 the FFmpeg developers
built with gcc 13 (GCC)
configuration: --enable-gpl --enable-libx264
libavutil      58. 29.100 / 58. 29.100
`

const sampleEncodersOutput = `Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 V....D libx265              libx265 H.265 / HEVC
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder
 V....D hevc_nvenc           NVIDIA NVENC hevc encoder
 A....D aac                  AAC (Advanced Audio Coding)
 A....D libopus              libopus Opus
 S..... ass                  ASS (Advanced SubStation Alpha) subtitle
`

const sampleFormatsOutput = `File formats:
 D. = Demuxing supported
 .E = Muxing supported
 --
 D  aac             raw ADTS AAC (Advanced Audio Coding)
  E ipod            iPod H.264 MP4 (MPEG-4 Part 14)
 DE matroska,webm   Matroska / WebM
 DE mp4             MP4 (MPEG-4 Part 14)
 D  mpegts          MPEG-TS (MPEG-2 Transport Stream)
`

const sampleHWAccelsOutput = `Hardware acceleration methods:
vdpau
cuda
vaapi
qsv
`

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		full   string
		major  int
		minor  int
	}{
		{"plain", sampleVersionOutput, "6.1.1", 6, 1},
		{"git build", "ffmpeg version n7.0-2-gabc123 Copyright\n", "n7.0-2-gabc123", 7, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, major, minor, err := parseVersion(tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.full, full)
			assert.Equal(t, tt.major, major)
			assert.Equal(t, tt.minor, minor)
		})
	}

	t.Run("unparseable", func(t *testing.T) {
		_, _, _, err := parseVersion("not ffmpeg output")
		assert.Error(t, err)
	})
}

func TestParseEncoders(t *testing.T) {
	encoders := parseEncoders(sampleEncodersOutput)
	assert.Contains(t, encoders, "libx264")
	assert.Contains(t, encoders, "h264_nvenc")
	assert.Contains(t, encoders, "aac")
	assert.Contains(t, encoders, "ass")
	assert.NotContains(t, encoders, "Video")
}

func TestParseMuxFormats(t *testing.T) {
	formats := parseMuxFormats(sampleFormatsOutput)
	assert.Contains(t, formats, "mp4")
	assert.Contains(t, formats, "matroska")
	assert.Contains(t, formats, "webm")
	assert.Contains(t, formats, "ipod")
	assert.NotContains(t, formats, "aac")    // demux only
	assert.NotContains(t, formats, "mpegts") // demux only
}

func TestParseHWAccelNames(t *testing.T) {
	names := parseHWAccelNames(sampleHWAccelsOutput)
	assert.Equal(t, []string{"vdpau", "cuda", "vaapi", "qsv"}, names)
}

func TestCapabilitiesLookups(t *testing.T) {
	caps := &Capabilities{
		Encoders:   []string{"libx264", "h264_nvenc", "hevc_nvenc", "h264_vaapi"},
		MuxFormats: []string{"mp4", "matroska"},
		HWAccels: []HWAccel{
			{Type: HWAccelNVENC, Available: true, Encoders: []string{"h264_nvenc", "hevc_nvenc"}},
			{Type: HWAccelVAAPI, Available: false},
		},
	}

	assert.True(t, caps.HasEncoder("libx264"))
	assert.False(t, caps.HasEncoder("libx266"))
	assert.True(t, caps.CanMux("mp4"))
	assert.False(t, caps.CanMux("webm"))
	assert.Len(t, caps.AvailableHWAccels(), 1)
}

func TestHardwareEncoderFor(t *testing.T) {
	caps := &Capabilities{
		HWAccels: []HWAccel{
			{Type: HWAccelNVENC, Available: true, Encoders: []string{"h264_nvenc", "hevc_nvenc"}},
			{Type: HWAccelQSV, Available: true, Encoders: []string{"h264_qsv"}},
			{Type: HWAccelVAAPI, Available: false, Encoders: []string{"h264_vaapi"}},
		},
	}
	priority := []string{"nvenc", "qsv", "vaapi", "videotoolbox"}

	t.Run("highest priority wins", func(t *testing.T) {
		enc, accel, ok := caps.HardwareEncoderFor(media.VideoH264, priority, "")
		require.True(t, ok)
		assert.Equal(t, "h264_nvenc", enc)
		assert.Equal(t, HWAccelNVENC, accel)
	})

	t.Run("falls through to next vendor", func(t *testing.T) {
		enc, accel, ok := caps.HardwareEncoderFor(media.VideoH265, priority, "")
		require.True(t, ok)
		assert.Equal(t, "hevc_nvenc", enc)
		assert.Equal(t, HWAccelNVENC, accel)
	})

	t.Run("vendor pin", func(t *testing.T) {
		enc, accel, ok := caps.HardwareEncoderFor(media.VideoH264, priority, "qsv")
		require.True(t, ok)
		assert.Equal(t, "h264_qsv", enc)
		assert.Equal(t, HWAccelQSV, accel)
	})

	t.Run("unavailable vendor pin", func(t *testing.T) {
		_, _, ok := caps.HardwareEncoderFor(media.VideoH264, priority, "vaapi")
		assert.False(t, ok)
	})

	t.Run("no hardware path for codec", func(t *testing.T) {
		_, _, ok := caps.HardwareEncoderFor(media.VideoFFV1, priority, "")
		assert.False(t, ok)
	})
}

func TestHardwareEncoderName(t *testing.T) {
	assert.Equal(t, "h264_nvenc", hardwareEncoderName(media.VideoH264, HWAccelNVENC))
	assert.Equal(t, "hevc_qsv", hardwareEncoderName(media.VideoH265, HWAccelQSV))
	assert.Equal(t, "av1_vaapi", hardwareEncoderName(media.VideoAV1, HWAccelVAAPI))
	assert.Equal(t, "", hardwareEncoderName(media.VideoFFV1, HWAccelNVENC))
}

func TestHardwareArgs(t *testing.T) {
	assert.Equal(t, []string{"-hwaccel", "cuda"}, HardwareInputArgs(HWAccelNVENC, ""))
	assert.Equal(t, []string{"-vaapi_device", "/dev/dri/renderD128"}, HardwareInputArgs(HWAccelVAAPI, ""))
	assert.Equal(t, []string{"-vaapi_device", "/dev/dri/renderD129"}, HardwareInputArgs(HWAccelVAAPI, "/dev/dri/renderD129"))
	assert.Nil(t, HardwareInputArgs(HWAccelVideoToolbox, ""))

	assert.Equal(t, "format=nv12,hwupload", HardwareUploadFilter(HWAccelVAAPI))
	assert.Equal(t, "", HardwareUploadFilter(HWAccelNVENC))
}

func TestCapabilityProbeMissingBinary(t *testing.T) {
	probe := NewCapabilityProbe("/nonexistent/path/ffmpeg", "", nil)
	_, err := probe.Probe(context.Background())
	assert.ErrorIs(t, err, ErrToolchainUnavailable)

	// The failure is cached; a second call must not re-detect.
	_, err2 := probe.Probe(context.Background())
	assert.Equal(t, err, err2)
}

// TestCapabilityProbeRunsOnce verifies that concurrent probes issue exactly
// one version query to the toolchain, using a shell stub that records each
// invocation.
func TestCapabilityProbeRunsOnce(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}

	dir := t.TempDir()
	countFile := filepath.Join(dir, "count")
	stub := filepath.Join(dir, "ffmpeg-stub")
	script := `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo x >> ` + countFile + `
  echo "ffmpeg version 6.0 Copyright"
fi
exit 0
`
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	probe := NewCapabilityProbe(stub, "", nil)

	var wg sync.WaitGroup
	results := make([]*Capabilities, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = probe.Probe(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	data, err := os.ReadFile(countFile)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data), "version must be queried exactly once")

	for _, caps := range results {
		assert.Same(t, results[0], caps, "all callers share the cached result")
	}
	assert.Equal(t, "6.0", results[0].Version)
}
