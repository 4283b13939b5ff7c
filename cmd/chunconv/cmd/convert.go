package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chunmedia/chunconv/internal/config"
	"github.com/chunmedia/chunconv/internal/database"
	"github.com/chunmedia/chunconv/internal/engine"
	"github.com/chunmedia/chunconv/internal/media"
	"github.com/chunmedia/chunconv/internal/observability"
	"github.com/chunmedia/chunconv/internal/queue"
	"github.com/chunmedia/chunconv/internal/repository"
)

var convertFlags struct {
	output     string
	outputDir  string
	container  string
	videoCodec string
	audioCodec string
	pixFmt     string

	quality      int
	videoBitrate string
	targetSize   string

	audioBitrate    string
	audioSampleRate int
	audioChannels   int

	preset  string
	tune    string
	profile string
	level   string

	gopMode    string
	gopSeconds float64
	gopFrames  int

	width     int
	height    int
	framerate float64

	trimStart    time.Duration
	trimDuration time.Duration

	hardware    string
	hwVendor    string
	noFastStart bool
}

// convertCmd represents the convert command.
var convertCmd = &cobra.Command{
	Use:   "convert [flags] INPUT...",
	Short: "Convert one or more media files",
	Long: `Convert media files into the requested container and codecs.

Each input becomes one job in the conversion queue. Incompatible codec
requests are rewritten to a supported codec where possible and rejected
where not; rejected requests never start a conversion.

Exactly one rate control mode applies per job: --quality, --video-bitrate,
or --target-size.

Examples:
  chunconv convert --container mp4 --quality 23 input.mkv
  chunconv convert --container webm --video-codec vp9 --quality 31 *.mov
  chunconv convert --container mp4 --target-size 100MB --output out.mp4 input.mkv
  chunconv convert --container mp4 --quality 20 --hardware forced input.mkv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	f := convertCmd.Flags()
	f.StringVarP(&convertFlags.output, "output", "o", "", "output path (single input only; default derives from the input name)")
	f.StringVar(&convertFlags.outputDir, "output-dir", "", "output directory (default from configuration)")
	f.StringVar(&convertFlags.container, "container", "", "output container (mp4, mkv, webm, mp3, ...); default derives from --output extension")
	f.StringVar(&convertFlags.videoCodec, "video-codec", "", "target video codec (h264, h265, vp9, copy, ...)")
	f.StringVar(&convertFlags.audioCodec, "audio-codec", "", "target audio codec (aac, opus, flac, copy, ...)")
	f.StringVar(&convertFlags.pixFmt, "pixel-format", "", "target pixel format (yuv420p, yuv420p10le, ...)")

	f.IntVar(&convertFlags.quality, "quality", -1, "constant quality factor (CRF scale)")
	f.StringVar(&convertFlags.videoBitrate, "video-bitrate", "", "average video bitrate (e.g. 4MB, 4500000)")
	f.StringVar(&convertFlags.targetSize, "target-size", "", "target output size (e.g. 100MB)")

	f.StringVar(&convertFlags.audioBitrate, "audio-bitrate", "", "audio bitrate for lossy codecs (e.g. 192KB)")
	f.IntVar(&convertFlags.audioSampleRate, "audio-sample-rate", 0, "audio sample rate in Hz")
	f.IntVar(&convertFlags.audioChannels, "audio-channels", 0, "audio channel count")

	f.StringVar(&convertFlags.preset, "preset", "", "encoder preset (ultrafast..placebo)")
	f.StringVar(&convertFlags.tune, "tune", "", "encoder tune (ignored on hardware encoders)")
	f.StringVar(&convertFlags.profile, "profile", "", "encoder profile")
	f.StringVar(&convertFlags.level, "level", "", "encoder level")

	f.StringVar(&convertFlags.gopMode, "gop-mode", "", "keyframe interval mode (half_fps, same_fps, double_fps, seconds, frames)")
	f.Float64Var(&convertFlags.gopSeconds, "gop-seconds", 0, "keyframe interval in seconds (with --gop-mode seconds)")
	f.IntVar(&convertFlags.gopFrames, "gop-frames", 0, "keyframe interval in frames (with --gop-mode frames)")

	f.IntVar(&convertFlags.width, "width", 0, "output width (0 keeps source)")
	f.IntVar(&convertFlags.height, "height", 0, "output height (0 keeps source, -2 derives from width)")
	f.Float64Var(&convertFlags.framerate, "fps", 0, "output framerate (0 keeps source)")

	f.DurationVar(&convertFlags.trimStart, "trim-start", 0, "trim: start offset")
	f.DurationVar(&convertFlags.trimDuration, "trim-duration", 0, "trim: output duration")

	f.StringVar(&convertFlags.hardware, "hardware", "auto", "hardware encoding (auto, forced, off)")
	f.StringVar(&convertFlags.hwVendor, "hw-vendor", "", "pin a hardware vendor (nvenc, qsv, vaapi, videotoolbox)")
	f.BoolVar(&convertFlags.noFastStart, "no-faststart", false, "disable the mp4/mov faststart flag")
}

func runConvert(cmd *cobra.Command, args []string) error {
	if convertFlags.output != "" && len(args) > 1 {
		return fmt.Errorf("--output applies to a single input; use --output-dir for batches")
	}

	container, err := resolveContainer()
	if err != nil {
		return err
	}

	logger := observability.WithComponent(observability.NewLoggerWithWriter(cfg.Logging, os.Stderr), "cli")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("opening history database: %w", err)
	}
	defer db.Close()
	if err := repository.Migrate(db.DB); err != nil {
		return err
	}

	eng := engine.New(cfg, logger, engine.WithRepository(repository.NewConversionRepository(db.DB)))
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Close()

	var jobs []*queue.Job
	for _, input := range args {
		spec, err := buildSpec(input, container)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
		job, err := eng.Submit(ctx, spec)
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
		fmt.Fprintf(os.Stderr, "queued %s -> %s (%s)\n", input, spec.OutputPath, job.ID)
		jobs = append(jobs, job)
	}

	failed := watchJobs(ctx, eng, jobs)
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions did not succeed", failed, len(jobs))
	}
	return nil
}

// watchJobs blocks until every job is terminal, printing progress along the
// way. An interrupt cancels all remaining jobs. Returns the number of jobs
// that did not succeed.
func watchJobs(ctx context.Context, eng *engine.Engine, jobs []*queue.Job) int {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			fmt.Fprintln(os.Stderr, "interrupt received, cancelling remaining jobs")
			for _, job := range jobs {
				_ = eng.Cancel(context.Background(), job.ID)
			}
		case <-ticker.C:
		}

		allDone := true
		for _, job := range jobs {
			state := job.State()
			if !state.IsTerminal() {
				allDone = false
				if p := job.Progress(); state == queue.StateRunning && p.Fraction >= 0 {
					fmt.Fprintf(os.Stderr, "%s %s %.1f%%\n", job.ID, job.Spec.InputPath, p.Fraction*100)
				}
			}
		}
		if allDone {
			break
		}
	}

	failed := 0
	for _, job := range jobs {
		state := job.State()
		if state != queue.StateSucceeded {
			failed++
		}
		reason := job.Reason()
		if reason != "" {
			reason = " (" + reason + ")"
		}
		fmt.Fprintf(os.Stderr, "%s %s: %s%s\n", job.ID, job.Spec.InputPath, state, reason)
	}
	return failed
}

// resolveContainer derives the container from flags.
func resolveContainer() (media.Container, error) {
	if convertFlags.container != "" {
		return media.Container(strings.ToLower(convertFlags.container)), nil
	}
	if convertFlags.output != "" {
		ext := strings.TrimPrefix(filepath.Ext(convertFlags.output), ".")
		if ext != "" {
			return media.Container(strings.ToLower(ext)), nil
		}
	}
	return "", fmt.Errorf("--container is required (or provide --output with an extension)")
}

// buildSpec turns the CLI flags plus one input path into a job spec.
func buildSpec(input string, container media.Container) (*media.JobSpec, error) {
	outputPath := convertFlags.output
	if outputPath == "" {
		dir := convertFlags.outputDir
		if dir == "" {
			dir = cfg.Storage.OutputPath()
		}
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		outputPath = filepath.Join(dir, base+"."+container.String())
	}

	spec := &media.JobSpec{
		InputPath:       input,
		OutputPath:      outputPath,
		Container:       container,
		VideoCodec:      media.NormalizeVideoCodec(convertFlags.videoCodec),
		AudioCodec:      media.NormalizeAudioCodec(convertFlags.audioCodec),
		PixelFormat:     media.PixelFormat(convertFlags.pixFmt),
		AudioSampleRate: convertFlags.audioSampleRate,
		AudioChannels:   convertFlags.audioChannels,
		Preset:          convertFlags.preset,
		Tune:            convertFlags.tune,
		Profile:         convertFlags.profile,
		Level:           convertFlags.level,
		Gop: media.GopSpec{
			Mode:    media.GopMode(convertFlags.gopMode),
			Seconds: convertFlags.gopSeconds,
			Frames:  convertFlags.gopFrames,
		},
		Scale:     media.ScaleSpec{Width: convertFlags.width, Height: convertFlags.height},
		Framerate: convertFlags.framerate,
		Trim:      media.TrimSpec{Start: convertFlags.trimStart, Duration: convertFlags.trimDuration},
		Hardware:  media.HardwarePreference(convertFlags.hardware),
	}
	spec.HardwareVendor = convertFlags.hwVendor

	if convertFlags.quality >= 0 {
		q := convertFlags.quality
		spec.Quality = &q
	}
	if convertFlags.videoBitrate != "" {
		size, err := config.ParseByteSize(convertFlags.videoBitrate)
		if err != nil {
			return nil, fmt.Errorf("parsing --video-bitrate: %w", err)
		}
		spec.VideoBitrateBps = size.Bytes()
	}
	if convertFlags.targetSize != "" {
		size, err := config.ParseByteSize(convertFlags.targetSize)
		if err != nil {
			return nil, fmt.Errorf("parsing --target-size: %w", err)
		}
		spec.TargetSizeBytes = size.Bytes()
	}
	if convertFlags.audioBitrate != "" {
		size, err := config.ParseByteSize(convertFlags.audioBitrate)
		if err != nil {
			return nil, fmt.Errorf("parsing --audio-bitrate: %w", err)
		}
		spec.AudioBitrateBps = size.Bytes()
	}
	if convertFlags.noFastStart {
		off := false
		spec.FastStart = &off
	}

	return spec, nil
}
