package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVideoCodec(t *testing.T) {
	tests := []struct {
		input    string
		expected VideoCodec
	}{
		{"libx264", VideoH264},
		{"h264", VideoH264},
		{"HEVC", VideoH265},
		{"libx265", VideoH265},
		{"libvpx-vp9", VideoVP9},
		{"libaom-av1", VideoAV1},
		{"libsvtav1", VideoAV1},
		{"prores_ks", VideoProRes},
		{" vp8 ", VideoVP8},
		{"something_else", VideoCodec("something_else")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeVideoCodec(tt.input))
		})
	}
}

func TestNormalizeAudioCodec(t *testing.T) {
	tests := []struct {
		input    string
		expected AudioCodec
	}{
		{"libmp3lame", AudioMP3},
		{"libopus", AudioOpus},
		{"libvorbis", AudioVorbis},
		{"pcm_s16le", AudioPCM},
		{"AAC", AudioAAC},
		{"flac", AudioFLAC},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAudioCodec(tt.input))
		})
	}
}

func TestContainerIsAudioOnly(t *testing.T) {
	assert.True(t, ContainerMP3.IsAudioOnly())
	assert.True(t, ContainerFLAC.IsAudioOnly())
	assert.True(t, ContainerOpus.IsAudioOnly())
	assert.False(t, ContainerMP4.IsAudioOnly())
	assert.False(t, ContainerMKV.IsAudioOnly())
	assert.False(t, ContainerWebM.IsAudioOnly())
}

func TestAudioCodecIsLossy(t *testing.T) {
	assert.True(t, AudioAAC.IsLossy())
	assert.True(t, AudioOpus.IsLossy())
	assert.False(t, AudioFLAC.IsLossy())
	assert.False(t, AudioALAC.IsLossy())
	assert.False(t, AudioPCM.IsLossy())
}
