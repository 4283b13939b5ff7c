package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// OutcomeState classifies how a supervised conversion ended.
type OutcomeState int

const (
	// OutcomeSucceeded means the subprocess exited cleanly.
	OutcomeSucceeded OutcomeState = iota
	// OutcomeFailed means the subprocess exited with an error.
	OutcomeFailed
	// OutcomeCancelled means the subprocess was terminated on request.
	OutcomeCancelled
)

// String returns the outcome name.
func (s OutcomeState) String() string {
	switch s {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("outcome(%d)", int(s))
	}
}

// ProgressSample is one parsed progress report from a running conversion.
// Samples are emitted in order: processed time never decreases between
// consecutive samples of the same run.
type ProgressSample struct {
	Frame       int64
	FPS         float64
	BitrateKbps float64
	OutTime     time.Duration
	Speed       float64
	// Fraction is completion in [0,1], or -1 when the source duration is
	// unknown.
	Fraction  float64
	Timestamp time.Time
}

// Result describes a finished supervised run.
type Result struct {
	State      OutcomeState
	ExitCode   int
	Reason     string   // failure reason; empty on success
	StderrTail []string // last stderr lines, for diagnostics
}

// stderrTailSize bounds the retained stderr history.
const stderrTailSize = 60

// Supervisor launches and supervises conversion subprocesses. Cancellation
// sends the termination signal first and escalates to a kill only after the
// grace period, so the encoder can flush trailers.
type Supervisor struct {
	logger      *slog.Logger
	cancelGrace time.Duration
}

// NewSupervisor creates a supervisor. Grace <= 0 defaults to 5s.
func NewSupervisor(logger *slog.Logger, cancelGrace time.Duration) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cancelGrace <= 0 {
		cancelGrace = 5 * time.Second
	}
	return &Supervisor{
		logger:      logger.With(slog.String("component", "supervisor")),
		cancelGrace: cancelGrace,
	}
}

// Run launches the binary with args and supervises it to completion.
// totalDuration scales progress to a completion fraction; pass 0 when the
// source duration is unknown. onProgress may be nil.
//
// The returned error covers launch problems only; a process that started and
// then failed is reported through Result.
func (s *Supervisor) Run(ctx context.Context, binary string, args []string, totalDuration time.Duration, onProgress func(ProgressSample)) (*Result, error) {
	cmd := exec.Command(binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening progress pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", binary, err)
	}
	s.logger.Debug("subprocess started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("binary", binary),
	)

	var wg sync.WaitGroup

	tail := newTailBuffer(stderrTailSize)
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			tail.append(scanner.Text())
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		parser := newProgressParser(totalDuration)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if sample, ok := parser.feed(scanner.Text()); ok && onProgress != nil {
				onProgress(sample)
			}
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		waitCh <- cmd.Wait()
	}()

	cancelled := false
	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		cancelled = true
		waitErr = s.terminate(cmd, waitCh)
	}

	result := &Result{StderrTail: tail.lines()}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		result.ExitCode = -1
	}

	switch {
	case cancelled:
		result.State = OutcomeCancelled
		result.Reason = "cancelled"
	case waitErr == nil:
		result.State = OutcomeSucceeded
	default:
		result.State = OutcomeFailed
		result.Reason = classifyFailure(result.ExitCode, result.StderrTail)
	}

	s.logger.Debug("subprocess finished",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("state", result.State.String()),
		slog.Int("exit_code", result.ExitCode),
	)
	return result, nil
}

// terminate signals the process and escalates to a kill after the grace
// period. Returns the process's wait error.
func (s *Supervisor) terminate(cmd *exec.Cmd, waitCh <-chan error) error {
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone; collect the exit status.
		return <-waitCh
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(s.cancelGrace):
		s.logger.Warn("subprocess ignored termination signal, killing",
			slog.Int("pid", cmd.Process.Pid),
			slog.Duration("grace", s.cancelGrace),
		)
		_ = cmd.Process.Kill()
		return <-waitCh
	}
}

// failurePatterns maps stderr substrings to concise failure reasons, checked
// in order against the tail from the last line backwards.
var failurePatterns = []struct {
	substring string
	reason    string
}{
	{"No such file or directory", "input not found"},
	{"Permission denied", "permission denied"},
	{"No space left on device", "no space left on device"},
	{"Unknown encoder", "unknown encoder"},
	{"Invalid data found when processing input", "invalid input data"},
	{"Invalid argument", "invalid argument"},
	{"Cannot allocate memory", "out of memory"},
	{"Conversion failed", "conversion failed"},
}

// classifyFailure derives a human-readable reason from the exit code and
// stderr tail. Unrecognized failures carry the last stderr line so the
// reason is never empty.
func classifyFailure(exitCode int, tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		for _, p := range failurePatterns {
			if strings.Contains(tail[i], p.substring) {
				return fmt.Sprintf("%s: %s", p.reason, strings.TrimSpace(tail[i]))
			}
		}
	}
	if len(tail) > 0 {
		return fmt.Sprintf("exit status %d: %s", exitCode, strings.TrimSpace(tail[len(tail)-1]))
	}
	return fmt.Sprintf("exit status %d", exitCode)
}

// progressParser accumulates the key=value progress stream and produces one
// sample per progress block.
type progressParser struct {
	total   time.Duration
	current ProgressSample
	lastOut time.Duration
}

func newProgressParser(total time.Duration) *progressParser {
	return &progressParser{total: total}
}

// feed consumes one line. It returns a finalized sample when the line closes
// a progress block; samples that would move processed time backwards are
// dropped to keep the stream ordered.
func (p *progressParser) feed(line string) (ProgressSample, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return ProgressSample{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		p.current.Frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.current.FPS, _ = strconv.ParseFloat(value, 64)
	case "bitrate":
		p.current.BitrateKbps = parseBitrateKbps(value)
	case "out_time_us":
		if us, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.current.OutTime = time.Duration(us) * time.Microsecond
		}
	case "speed":
		p.current.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
	case "progress":
		sample := p.current
		if sample.OutTime < p.lastOut {
			return ProgressSample{}, false
		}
		p.lastOut = sample.OutTime
		sample.Timestamp = time.Now()
		sample.Fraction = -1
		if p.total > 0 {
			sample.Fraction = float64(sample.OutTime) / float64(p.total)
			if sample.Fraction > 1 {
				sample.Fraction = 1
			}
		}
		return sample, true
	}
	return ProgressSample{}, false
}

// parseBitrateKbps parses values like "1234.5kbits/s"; "N/A" yields 0.
func parseBitrateKbps(value string) float64 {
	value = strings.TrimSuffix(value, "kbits/s")
	kbps, _ := strconv.ParseFloat(strings.TrimSpace(value), 64)
	return kbps
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []string
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, line)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
}

func (b *tailBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.buf))
	copy(out, b.buf)
	return out
}
