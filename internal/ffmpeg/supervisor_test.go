package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressParser(t *testing.T) {
	t.Run("emits one sample per block", func(t *testing.T) {
		p := newProgressParser(10 * time.Second)
		lines := []string{
			"frame=100",
			"fps=25.0",
			"bitrate=1500.2kbits/s",
			"out_time_us=4000000",
			"speed=1.5x",
			"progress=continue",
		}
		var sample ProgressSample
		emitted := 0
		for _, line := range lines {
			if s, ok := p.feed(line); ok {
				sample = s
				emitted++
			}
		}
		require.Equal(t, 1, emitted)
		assert.Equal(t, int64(100), sample.Frame)
		assert.Equal(t, 25.0, sample.FPS)
		assert.Equal(t, 1500.2, sample.BitrateKbps)
		assert.Equal(t, 4*time.Second, sample.OutTime)
		assert.Equal(t, 1.5, sample.Speed)
		assert.InDelta(t, 0.4, sample.Fraction, 0.001)
	})

	t.Run("unknown duration reports fraction -1", func(t *testing.T) {
		p := newProgressParser(0)
		p.feed("out_time_us=1000000")
		sample, ok := p.feed("progress=continue")
		require.True(t, ok)
		assert.Equal(t, float64(-1), sample.Fraction)
	})

	t.Run("fraction caps at 1", func(t *testing.T) {
		p := newProgressParser(time.Second)
		p.feed("out_time_us=2000000")
		sample, ok := p.feed("progress=end")
		require.True(t, ok)
		assert.Equal(t, float64(1), sample.Fraction)
	})

	t.Run("drops backwards samples", func(t *testing.T) {
		p := newProgressParser(10 * time.Second)
		p.feed("out_time_us=5000000")
		_, ok := p.feed("progress=continue")
		require.True(t, ok)

		p.feed("out_time_us=3000000")
		_, ok = p.feed("progress=continue")
		assert.False(t, ok, "processed time going backwards must not be emitted")
	})

	t.Run("ignores malformed lines", func(t *testing.T) {
		p := newProgressParser(0)
		_, ok := p.feed("garbage without equals")
		assert.False(t, ok)
		p.feed("bitrate=N/A")
		sample, ok := p.feed("progress=continue")
		require.True(t, ok)
		assert.Zero(t, sample.BitrateKbps)
	})
}

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		name     string
		tail     []string
		expected string
	}{
		{"known pattern", []string{"noise", "/in.mkv: No such file or directory"}, "input not found"},
		{"unknown encoder", []string{"Unknown encoder 'libx999'"}, "unknown encoder"},
		{"unrecognized uses last line", []string{"something odd happened"}, "exit status 1: something odd happened"},
		{"empty tail", nil, "exit status 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, classifyFailure(1, tt.tail), tt.expected)
		})
	}
}

// writeStub writes an executable shell script for subprocess tests.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "stub")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestSupervisorRunSuccess(t *testing.T) {
	stub := writeStub(t, `
echo "frame=10"
echo "out_time_us=1000000"
echo "progress=continue"
echo "out_time_us=2000000"
echo "progress=end"
exit 0
`)

	var mu sync.Mutex
	var samples []ProgressSample
	supervisor := NewSupervisor(nil, time.Second)
	result, err := supervisor.Run(context.Background(), stub, nil, 4*time.Second, func(s ProgressSample) {
		mu.Lock()
		samples = append(samples, s)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeSucceeded, result.State)
	assert.Equal(t, 0, result.ExitCode)
	assert.Empty(t, result.Reason)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, samples, 2)
	assert.Equal(t, time.Second, samples[0].OutTime)
	assert.Equal(t, 2*time.Second, samples[1].OutTime)
	assert.LessOrEqual(t, samples[0].OutTime, samples[1].OutTime)
}

func TestSupervisorRunFailure(t *testing.T) {
	stub := writeStub(t, `
echo "Unknown encoder 'libx999'" >&2
exit 1
`)

	supervisor := NewSupervisor(nil, time.Second)
	result, err := supervisor.Run(context.Background(), stub, nil, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, result.State)
	assert.Equal(t, 1, result.ExitCode)
	assert.Contains(t, result.Reason, "unknown encoder")
	assert.NotEmpty(t, result.StderrTail)
}

func TestSupervisorRunCancelled(t *testing.T) {
	stub := writeStub(t, `exec sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	supervisor := NewSupervisor(nil, 2*time.Second)
	start := time.Now()
	result, err := supervisor.Run(ctx, stub, nil, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCancelled, result.State)
	assert.Less(t, time.Since(start), 10*time.Second, "termination must not wait for the process to finish naturally")
}

func TestSupervisorLaunchError(t *testing.T) {
	supervisor := NewSupervisor(nil, time.Second)
	_, err := supervisor.Run(context.Background(), "/nonexistent/binary", nil, 0, nil)
	assert.Error(t, err)
}
