// Package engine orchestrates conversions end to end: compatibility
// checking at admission, command synthesis, queued execution under the
// process supervisor, and history persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/chunmedia/chunconv/internal/command"
	"github.com/chunmedia/chunconv/internal/compat"
	"github.com/chunmedia/chunconv/internal/config"
	"github.com/chunmedia/chunconv/internal/ffmpeg"
	"github.com/chunmedia/chunconv/internal/media"
	"github.com/chunmedia/chunconv/internal/models"
	"github.com/chunmedia/chunconv/internal/observability"
	"github.com/chunmedia/chunconv/internal/queue"
	"github.com/chunmedia/chunconv/internal/repository"
	"github.com/chunmedia/chunconv/internal/tempfile"
)

// Engine errors.
var (
	// ErrRejected means the compatibility engine refused the requested
	// combination. Rejected specs are never enqueued.
	ErrRejected = errors.New("conversion rejected")
	// ErrLowDiskSpace means the output volume is below the configured free
	// space floor.
	ErrLowDiskSpace = errors.New("insufficient free disk space")
)

// processRunner abstracts the process supervisor so tests can substitute a
// fake. ffmpeg.Supervisor satisfies it.
type processRunner interface {
	Run(ctx context.Context, binary string, args []string, totalDuration time.Duration, onProgress func(ffmpeg.ProgressSample)) (*ffmpeg.Result, error)
}

// plan carries everything resolved at admission time for one job.
type plan struct {
	verdict compat.Verdict
	src     *media.SourceInfo
	caps    *ffmpeg.Capabilities
}

// Engine owns the conversion pipeline.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	capProbe   *ffmpeg.CapabilityProbe
	prober     *ffmpeg.Prober
	compat     *compat.Engine
	queue      *queue.Queue
	temp       *tempfile.Manager
	repo       repository.ConversionRepository
	supervisor processRunner
	builder    func(caps *ffmpeg.Capabilities) *command.Builder

	mu    sync.Mutex
	plans map[string]*plan
}

// Option customizes engine construction.
type Option func(*Engine)

// WithSupervisor replaces the process supervisor.
func WithSupervisor(s processRunner) Option {
	return func(e *Engine) { e.supervisor = s }
}

// WithRepository attaches a history store. Without one, history is not
// persisted.
func WithRepository(repo repository.ConversionRepository) Option {
	return func(e *Engine) { e.repo = repo }
}

// WithCapabilityProbe replaces the toolchain capability probe.
func WithCapabilityProbe(p *ffmpeg.CapabilityProbe) Option {
	return func(e *Engine) { e.capProbe = p }
}

// WithProber replaces the source prober.
func WithProber(p *ffmpeg.Prober) Option {
	return func(e *Engine) { e.prober = p }
}

// New assembles an engine from the configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "engine")

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		capProbe: ffmpeg.NewCapabilityProbe(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, logger),
		compat:   compat.NewEngine(nil),
		temp:     tempfile.NewManager(cfg.Storage.TempDir, logger),
		plans:    make(map[string]*plan),
	}
	e.supervisor = ffmpeg.NewSupervisor(logger, cfg.Engine.CancelGrace.Duration())
	e.builder = func(caps *ffmpeg.Capabilities) *command.Builder {
		return command.NewBuilder(caps, cfg.FFmpeg.HWAccelPriority, 0)
	}

	for _, opt := range opts {
		opt(e)
	}

	e.queue = queue.New(cfg.Engine.EffectiveMaxParallel(), queue.RunnerFunc(e.runJob), logger)
	return e
}

// Queue exposes the underlying queue for status listing.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Start launches the worker pool and reaps leftovers from a previous
// process.
func (e *Engine) Start(ctx context.Context) error {
	if removed, err := e.temp.CleanupStale(tempfile.DefaultStaleAge); err != nil {
		e.logger.Warn("stale temp cleanup failed", "error", err)
	} else if removed > 0 {
		e.logger.Info("removed stale working directories", "count", removed)
	}

	if e.repo != nil {
		if recovered, err := e.repo.RecoverInterrupted(ctx); err != nil {
			e.logger.Warn("history recovery failed", "error", err)
		} else if recovered > 0 {
			e.logger.Info("recovered interrupted conversions", "count", recovered)
		}
	}

	e.queue.Start(ctx)
	go e.watchStalls(ctx)
	e.logger.Info("engine started", "slots", e.queue.Slots())
	return nil
}

// watchStalls periodically reports running jobs that stopped making
// progress. Stalled jobs are only reported, never cancelled: a slow encode
// on starved hardware is indistinguishable from a hung one.
func (e *Engine) watchStalls(ctx context.Context) {
	window := e.cfg.Engine.StallWindow.Duration()
	if window <= 0 {
		return
	}
	ticker := time.NewTicker(window / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, snap := range e.queue.Stalled(window) {
				e.logger.Warn("job has not reported progress",
					"job_id", snap.ID,
					"since", snap.Progress.Updated,
				)
			}
		}
	}
}

// Close stops admission and waits for running jobs to finish.
func (e *Engine) Close() {
	e.queue.Close()
	e.queue.Wait()
}

// Submit validates a spec, checks compatibility, resolves the full encode
// command, and admits the job. Everything that can fail without running the
// toolchain on the input fails here, before a slot is ever consumed.
func (e *Engine) Submit(ctx context.Context, spec *media.JobSpec) (*queue.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	caps, err := e.capProbe.Probe(ctx)
	if err != nil {
		return nil, err
	}

	verdict := e.compat.Evaluate(spec, caps)
	if verdict.Decision == compat.Rejected {
		return nil, fmt.Errorf("%w: %s", ErrRejected, verdict.Reason)
	}
	for _, sub := range verdict.Substitutions {
		e.logger.Info("applying substitution",
			"field", sub.Field,
			"from", sub.From,
			"to", sub.To,
			"reason", sub.Reason,
		)
	}

	if err := e.checkFreeSpace(); err != nil {
		return nil, err
	}

	src := e.probeSource(ctx, caps, spec.InputPath)

	// Build once at admission so hardware and duration problems surface
	// before the job waits in the queue.
	if _, err := e.builder(caps).Build(spec, verdict, src); err != nil {
		return nil, err
	}

	job, err := e.queue.Enqueue(spec)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.plans[job.ID] = &plan{verdict: verdict, src: src, caps: caps}
	e.mu.Unlock()

	e.recordQueued(ctx, job, verdict)
	return job, nil
}

// Cancel requests cancellation of a job by ID.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	observed, err := e.queue.Cancel(jobID)
	if err != nil {
		return err
	}
	// A job cancelled while queued never runs, so its record is finalized
	// here rather than by the runner.
	if observed == queue.StateQueued {
		e.recordTerminal(ctx, jobID, models.ConversionStatusCancelled, "cancelled before start")
	}
	return nil
}

// probeSource interrogates the input file. Probe failures degrade to a nil
// source: target-size mode and source-diff suppression then require what
// they need at build time.
func (e *Engine) probeSource(ctx context.Context, caps *ffmpeg.Capabilities, inputPath string) *media.SourceInfo {
	prober := e.prober
	if prober == nil {
		prober = ffmpeg.NewProber(caps.FFprobePath)
	}
	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.FFmpeg.ProbeTimeout.Duration())
	defer cancel()

	src, err := prober.Probe(probeCtx, inputPath)
	if err != nil {
		e.logger.Warn("source probe failed", "input", inputPath, "error", err)
		return nil
	}
	return src
}

// checkFreeSpace enforces the configured free space floor on the output
// volume.
func (e *Engine) checkFreeSpace() error {
	floor := uint64(e.cfg.Storage.MinFreeSpace.Bytes())
	if floor == 0 {
		return nil
	}
	usage, err := disk.Usage(e.cfg.Storage.BaseDir)
	if err != nil {
		e.logger.Warn("free space check failed", "path", e.cfg.Storage.BaseDir, "error", err)
		return nil
	}
	if usage.Free < floor {
		return fmt.Errorf("%w: %d bytes free, %d required", ErrLowDiskSpace, usage.Free, floor)
	}
	return nil
}

// runJob executes one admitted job on a worker slot.
func (e *Engine) runJob(ctx context.Context, job *queue.Job) error {
	logger := observability.WithJobID(e.logger, job.ID)

	e.mu.Lock()
	jobPlan := e.plans[job.ID]
	delete(e.plans, job.ID)
	e.mu.Unlock()
	if jobPlan == nil {
		return fmt.Errorf("no admission plan for job %s", job.ID)
	}

	e.recordRunning(ctx, job.ID)

	workDir, err := e.temp.Acquire()
	if err != nil {
		err = fmt.Errorf("acquiring working directory: %w", err)
		e.recordTerminal(ctx, job.ID, models.ConversionStatusFailed, err.Error())
		return err
	}
	defer func() {
		if releaseErr := e.temp.Release(workDir); releaseErr != nil {
			logger.Warn("failed to release working directory", "error", releaseErr)
		}
	}()

	// Encode into the working directory; the output only reaches its final
	// path on success, so cancellation and failure never leave partials
	// behind.
	staged := *job.Spec
	staged.OutputPath = filepath.Join(workDir, "output."+staged.Container.String())

	cmd, err := e.builder(jobPlan.caps).Build(&staged, jobPlan.verdict, jobPlan.src)
	if err != nil {
		e.recordTerminal(ctx, job.ID, models.ConversionStatusFailed, err.Error())
		return err
	}
	logger.Debug("encode command resolved",
		"encoder", cmd.VideoEncoder,
		"audio_encoder", cmd.AudioEncoder,
		"accel", string(cmd.Accel),
	)

	var total time.Duration
	if jobPlan.src != nil && jobPlan.src.HasDuration {
		total = jobPlan.src.Duration
		if job.Spec.Trim.Duration > 0 && job.Spec.Trim.Duration < total {
			total = job.Spec.Trim.Duration
		}
	}

	result, err := e.supervisor.Run(ctx, cmd.Binary, cmd.Args, total, func(s ffmpeg.ProgressSample) {
		job.ReportProgress(s.Fraction)
	})
	if err != nil {
		err = fmt.Errorf("launching encoder: %w", err)
		e.recordTerminal(ctx, job.ID, models.ConversionStatusFailed, err.Error())
		return err
	}

	switch result.State {
	case ffmpeg.OutcomeSucceeded:
		if err := e.publishOutput(staged.OutputPath, job.Spec.OutputPath); err != nil {
			e.recordTerminal(ctx, job.ID, models.ConversionStatusFailed, err.Error())
			return err
		}
		e.recordTerminal(ctx, job.ID, models.ConversionStatusSucceeded, "")
		return nil
	case ffmpeg.OutcomeCancelled:
		e.recordTerminal(ctx, job.ID, models.ConversionStatusCancelled, "cancelled")
		return context.Canceled
	default:
		err := fmt.Errorf("%s", result.Reason)
		e.recordTerminal(ctx, job.ID, models.ConversionStatusFailed, result.Reason)
		return err
	}
}

// publishOutput moves the finished file from the working directory to its
// final path. Rename can cross filesystems, so a copy fallback handles
// EXDEV.
func (e *Engine) publishOutput(staged, final string) error {
	if dir := filepath.Dir(final); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}
	if err := os.Rename(staged, final); err == nil {
		return nil
	}
	data, err := os.ReadFile(staged)
	if err != nil {
		return fmt.Errorf("reading staged output: %w", err)
	}
	if err := os.WriteFile(final, data, 0o644); err != nil {
		return fmt.Errorf("publishing output: %w", err)
	}
	return nil
}

// recordQueued persists the admission record.
func (e *Engine) recordQueued(ctx context.Context, job *queue.Job, verdict compat.Verdict) {
	if e.repo == nil {
		return
	}
	var subs []string
	for _, sub := range verdict.Substitutions {
		subs = append(subs, fmt.Sprintf("%s: %s -> %s", sub.Field, sub.From, sub.To))
	}
	record := &models.Conversion{
		JobID:         job.ID,
		InputPath:     job.Spec.InputPath,
		OutputPath:    job.Spec.OutputPath,
		Container:     job.Spec.Container.String(),
		VideoCodec:    verdict.VideoCodec.String(),
		AudioCodec:    verdict.AudioCodec.String(),
		Decision:      verdict.Decision.String(),
		Substitutions: strings.Join(subs, "\n"),
		Status:        models.ConversionStatusQueued,
	}
	if err := e.repo.Create(ctx, record); err != nil {
		e.logger.Warn("failed to persist conversion record", "job_id", job.ID, "error", err)
	}
}

func (e *Engine) recordRunning(ctx context.Context, jobID string) {
	e.updateRecord(ctx, jobID, func(record *models.Conversion) {
		record.MarkRunning()
	})
}

func (e *Engine) recordTerminal(ctx context.Context, jobID string, status models.ConversionStatus, reason string) {
	e.updateRecord(ctx, jobID, func(record *models.Conversion) {
		record.MarkFinished(status, reason)
	})
}

func (e *Engine) updateRecord(ctx context.Context, jobID string, mutate func(*models.Conversion)) {
	if e.repo == nil {
		return
	}
	// Persistence must survive the job context being cancelled.
	ctx = context.WithoutCancel(ctx)
	record, err := e.repo.GetByJobID(ctx, jobID)
	if err != nil || record == nil {
		if err != nil {
			e.logger.Warn("failed to load conversion record", "job_id", jobID, "error", err)
		}
		return
	}
	mutate(record)
	if err := e.repo.Update(ctx, record); err != nil {
		e.logger.Warn("failed to update conversion record", "job_id", jobID, "error", err)
	}
}
