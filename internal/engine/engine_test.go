package engine

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/chunmedia/chunconv/internal/command"
	"github.com/chunmedia/chunconv/internal/config"
	"github.com/chunmedia/chunconv/internal/ffmpeg"
	"github.com/chunmedia/chunconv/internal/media"
	"github.com/chunmedia/chunconv/internal/models"
	"github.com/chunmedia/chunconv/internal/queue"
	"github.com/chunmedia/chunconv/internal/repository"
)

type fakeSupervisor struct {
	run func(ctx context.Context, binary string, args []string, total time.Duration, onProgress func(ffmpeg.ProgressSample)) (*ffmpeg.Result, error)
}

func (f *fakeSupervisor) Run(ctx context.Context, binary string, args []string, total time.Duration, onProgress func(ffmpeg.ProgressSample)) (*ffmpeg.Result, error) {
	return f.run(ctx, binary, args, total, onProgress)
}

// succeedingSupervisor writes the staged output file and reports success.
func succeedingSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		run: func(ctx context.Context, binary string, args []string, total time.Duration, onProgress func(ffmpeg.ProgressSample)) (*ffmpeg.Result, error) {
			output := args[len(args)-1]
			if err := os.WriteFile(output, []byte("encoded"), 0o644); err != nil {
				return nil, err
			}
			if onProgress != nil {
				onProgress(ffmpeg.ProgressSample{Fraction: 1})
			}
			return &ffmpeg.Result{State: ffmpeg.OutcomeSucceeded}, nil
		},
	}
}

// stubToolchain writes a shell script that answers the capability queries.
func stubToolchain(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg-stub")
	script := `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 6.0 Copyright"
fi
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Engine: config.EngineConfig{
			MaxParallel: 1,
			StallWindow: config.Duration(2 * time.Minute),
			CancelGrace: config.Duration(time.Second),
		},
		FFmpeg: config.FFmpegConfig{
			HWAccelPriority: []string{"nvenc", "qsv", "vaapi", "videotoolbox"},
			ProbeTimeout:    config.Duration(5 * time.Second),
		},
		Storage: config.StorageConfig{
			BaseDir:   t.TempDir(),
			OutputDir: "output",
			TempDir:   t.TempDir(),
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithCapabilityProbe(ffmpeg.NewCapabilityProbe(stubToolchain(t), "", nil)),
		WithProber(ffmpeg.NewProber("")),
		WithSupervisor(succeedingSupervisor()),
	}
	return New(cfg, nil, append(base, opts...)...)
}

func intPtr(v int) *int { return &v }

func testSpec(t *testing.T, cfg *config.Config) *media.JobSpec {
	t.Helper()
	return &media.JobSpec{
		InputPath:  "/in.mkv",
		OutputPath: filepath.Join(cfg.Storage.OutputPath(), "out.mp4"),
		Container:  media.ContainerMP4,
		VideoCodec: media.VideoH264,
		AudioCodec: media.AudioAAC,
		Quality:    intPtr(23),
		Hardware:   media.HardwareOff,
	}
}

func waitForState(t *testing.T, job *queue.Job, want queue.State) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for job.State() != want {
		select {
		case <-deadline:
			t.Fatalf("job %s stuck in %s, want %s", job.ID, job.State(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngineSubmitAndRun(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))

	spec := testSpec(t, cfg)
	job, err := e.Submit(ctx, spec)
	require.NoError(t, err)

	waitForState(t, job, queue.StateSucceeded)
	e.Close()

	assert.FileExists(t, spec.OutputPath)
	assert.InDelta(t, 1.0, job.Progress().Fraction, 0.001)

	// The working directory is released after the run.
	entries, err := os.ReadDir(cfg.Storage.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngineRejectedNeverEnqueued(t *testing.T) {
	cfg := testConfig(t)
	invoked := false
	e := newTestEngine(t, cfg, WithSupervisor(&fakeSupervisor{
		run: func(context.Context, string, []string, time.Duration, func(ffmpeg.ProgressSample)) (*ffmpeg.Result, error) {
			invoked = true
			return &ffmpeg.Result{State: ffmpeg.OutcomeSucceeded}, nil
		},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Close()

	spec := testSpec(t, cfg)
	spec.Container = media.ContainerWebM // webm does not carry h264
	spec.OutputPath = filepath.Join(cfg.Storage.OutputPath(), "out.webm")

	_, err := e.Submit(ctx, spec)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Empty(t, e.Queue().List())
	assert.False(t, invoked)
}

func TestEngineForcedHardwareFailsAtSubmit(t *testing.T) {
	cfg := testConfig(t)
	invoked := false
	e := newTestEngine(t, cfg, WithSupervisor(&fakeSupervisor{
		run: func(context.Context, string, []string, time.Duration, func(ffmpeg.ProgressSample)) (*ffmpeg.Result, error) {
			invoked = true
			return &ffmpeg.Result{State: ffmpeg.OutcomeSucceeded}, nil
		},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Close()

	spec := testSpec(t, cfg)
	spec.Hardware = media.HardwareForced

	_, err := e.Submit(ctx, spec)
	assert.ErrorIs(t, err, command.ErrHardwareUnavailable)
	assert.Empty(t, e.Queue().List())
	assert.False(t, invoked, "no process may be spawned for an unbuildable spec")
}

func TestEngineTargetSizeNeedsDuration(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Close()

	spec := testSpec(t, cfg)
	spec.Quality = nil
	spec.TargetSizeBytes = 10 * 1024 * 1024

	// The source prober is unavailable in this test, so the duration is
	// unknown and target-size mode cannot be planned.
	_, err := e.Submit(ctx, spec)
	assert.ErrorIs(t, err, command.ErrDurationUnknown)
}

// stubToolchainWithEncoders answers the encoder query with a fixed list.
func stubToolchainWithEncoders(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg-stub")
	script := `#!/bin/sh
if [ "$1" = "-version" ]; then
  echo "ffmpeg version 6.0 Copyright"
fi
if [ "$1" = "-encoders" ]; then
  echo " ------"
  echo " V....D libx264              H.264 / AVC"
  echo " A....D aac                  AAC"
fi
exit 0
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestEngineRejectsCodecToolchainCannotEncode(t *testing.T) {
	cfg := testConfig(t)
	e := New(cfg, nil,
		WithCapabilityProbe(ffmpeg.NewCapabilityProbe(stubToolchainWithEncoders(t), "", nil)),
		WithProber(ffmpeg.NewProber("")),
		WithSupervisor(succeedingSupervisor()),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Close()

	spec := testSpec(t, cfg)
	spec.VideoCodec = media.VideoH265 // toolchain build carries libx264 only

	_, err := e.Submit(ctx, spec)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "no encoder for video codec")
	assert.Empty(t, e.Queue().List())
}

func TestEngineToolchainUnavailable(t *testing.T) {
	cfg := testConfig(t)
	e := New(cfg, nil,
		WithCapabilityProbe(ffmpeg.NewCapabilityProbe("/nonexistent/ffmpeg", "", nil)),
		WithSupervisor(succeedingSupervisor()),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Close()

	_, err := e.Submit(ctx, testSpec(t, cfg))
	assert.ErrorIs(t, err, ffmpeg.ErrToolchainUnavailable)
}

func TestEngineCancelRunningJob(t *testing.T) {
	cfg := testConfig(t)
	started := make(chan struct{})
	e := newTestEngine(t, cfg, WithSupervisor(&fakeSupervisor{
		run: func(ctx context.Context, binary string, args []string, total time.Duration, onProgress func(ffmpeg.ProgressSample)) (*ffmpeg.Result, error) {
			// Leave a partial output behind, as an interrupted encoder would.
			_ = os.WriteFile(args[len(args)-1], []byte("partial"), 0o644)
			close(started)
			<-ctx.Done()
			return &ffmpeg.Result{State: ffmpeg.OutcomeCancelled, Reason: "cancelled"}, nil
		},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))

	spec := testSpec(t, cfg)
	job, err := e.Submit(ctx, spec)
	require.NoError(t, err)
	<-started

	require.NoError(t, e.Cancel(ctx, job.ID))
	waitForState(t, job, queue.StateCancelled)
	e.Close()

	assert.NoFileExists(t, spec.OutputPath, "cancelled jobs must not publish output")
	entries, err := os.ReadDir(cfg.Storage.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the partial output is removed with the working directory")
}

func TestEngineHistoryRecords(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	repo := repository.NewConversionRepository(db)

	cfg := testConfig(t)
	e := newTestEngine(t, cfg, WithRepository(repo))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))

	spec := testSpec(t, cfg)
	spec.AudioCodec = media.AudioFLAC // forces a substitution to aac

	job, err := e.Submit(ctx, spec)
	require.NoError(t, err)
	waitForState(t, job, queue.StateSucceeded)
	e.Close()

	record, err := repo.GetByJobID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, models.ConversionStatusSucceeded, record.Status)
	assert.Equal(t, "accepted_with_substitution", record.Decision)
	assert.Contains(t, record.Substitutions, "audio_codec: flac -> aac")
	assert.Equal(t, "aac", record.AudioCodec)
	assert.NotNil(t, record.StartedAt)
	assert.NotNil(t, record.FinishedAt)
}

func TestEngineLowDiskSpace(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.MinFreeSpace = config.ByteSize(1 << 60) // more than any disk has

	e := newTestEngine(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, e.Start(ctx))
	defer e.Close()

	_, err := e.Submit(ctx, testSpec(t, cfg))
	assert.ErrorIs(t, err, ErrLowDiskSpace)
}
