package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/time/rate"

	converrors "github.com/mantonx/mediaconv/internal/modules/conversionmodule/errors"
)

// EncoderUnavailableMessage replaces ffmpeg's "Encoder not found" error,
// which almost always means the GPU lacks the selected hardware encoder.
const EncoderUnavailableMessage = "Your GPU does not support hardware acceleration for this encoder. " +
	"Please try to change the encoder or use CPU (Normal) encoding."

// RunnerConfig configures the ffmpeg runner
type RunnerConfig struct {
	FFmpegPath  string
	FFprobePath string

	// ProgressRate caps progress callbacks per second. Zero disables the cap.
	ProgressRate float64
}

// Runner executes one ffmpeg conversion and reports its progress
type Runner struct {
	config  RunnerConfig
	prober  *MediaProber
	builder *ArgsBuilder
	logger  hclog.Logger
}

// NewRunner creates a runner
func NewRunner(config RunnerConfig, logger hclog.Logger) *Runner {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	logger = logger.Named("ffmpeg")
	return &Runner{
		config:  config,
		prober:  NewMediaProber(config.FFprobePath, config.FFmpegPath, logger),
		builder: NewArgsBuilder(logger),
		logger:  logger,
	}
}

// Run converts input to output. Progress receives whole percentages. When ctx
// is cancelled the process is killed, the partial output removed and an error
// matching ErrCancelled returned.
func (r *Runner) Run(ctx context.Context, input, output, format string, opts BuildOptions, progress func(int)) error {
	total, err := r.prober.GetDuration(ctx, input)
	if err != nil {
		r.logger.Warn("Could not determine input duration, progress disabled", "input", input, "error", err)
	}

	args := r.builder.BuildArgs(input, output, format, opts)
	cmd := exec.CommandContext(ctx, r.config.FFmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return converrors.IoError("ffmpeg", fmt.Errorf("failed to get stdout pipe: %w", err))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return converrors.ExecutionError("ffmpeg", fmt.Sprintf("failed to start ffmpeg: %v", err))
	}
	r.logger.Info("Started ffmpeg", "pid", cmd.Process.Pid, "input", input, "output", output)

	// The reader ends once ffmpeg exits or is killed by the context
	last := r.readProgress(stdout, total, progress)

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		r.removeOutput(output)
		return converrors.New(converrors.ErrorTypeExecution, "ffmpeg", converrors.ErrCancelled)
	}
	if waitErr != nil {
		r.removeOutput(output)
		detail := failureDetail(stderr.String(), waitErr)
		r.logger.Error("ffmpeg failed", "input", input, "error", detail)
		return converrors.ExecutionError("ffmpeg", detail)
	}

	if progress != nil && last != 100 {
		progress(100)
	}
	r.logger.Info("ffmpeg finished", "output", output, "elapsed", time.Since(start))
	return nil
}

func (r *Runner) readProgress(stdout io.Reader, total time.Duration, progress func(int)) int {
	var limiter *rate.Limiter
	if r.config.ProgressRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.config.ProgressRate), 1)
	}

	last := -1
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		key, value, ok := ParseProgressLine(scanner.Text())
		if !ok || key != "out_time" || progress == nil || total <= 0 {
			continue
		}

		pct := Percent(ParseTimestamp(value), total)
		if pct == last {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			continue
		}
		last = pct
		progress(pct)
	}
	// keep the pipe drained so ffmpeg never blocks on a full buffer
	_, _ = io.Copy(io.Discard, stdout)
	return last
}

func (r *Runner) removeOutput(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("Failed to remove partial output", "path", path, "error", err)
	}
}

func failureDetail(stderr string, waitErr error) string {
	if strings.Contains(stderr, "Encoder not found") {
		return EncoderUnavailableMessage
	}
	if msg := strings.TrimSpace(stderr); msg != "" {
		return msg
	}
	return waitErr.Error()
}
