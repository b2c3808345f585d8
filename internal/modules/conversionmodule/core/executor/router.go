// Package executor routes conversion jobs to the ffmpeg runner or the image
// converter according to their category.
package executor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/ffmpeg"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/imageconv"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/pipeline"
	converrors "github.com/mantonx/mediaconv/internal/modules/conversionmodule/errors"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

// MediaRunner converts audio and video files
type MediaRunner interface {
	Run(ctx context.Context, input, output, format string, opts ffmpeg.BuildOptions, progress func(int)) error
}

// ImageConverter converts still images
type ImageConverter interface {
	Convert(ctx context.Context, input, output, format string) (imageconv.Info, error)
}

// Options are the settings read at the start of every job
type Options struct {
	Mode             ffmpeg.ConversionMode
	DefaultEncoder   string
	OpenWhenFinished bool
}

// SettingsSource supplies the current conversion settings
type SettingsSource interface {
	ConversionOptions() Options
}

// HardwareSelector picks the encoder profile for hwaccel mode
type HardwareSelector interface {
	SelectHardware(ctx context.Context) ffmpeg.HardwareProfile
}

// Router implements pipeline.Executor
type Router struct {
	media    MediaRunner
	images   ImageConverter
	settings SettingsSource
	hardware HardwareSelector
	logger   hclog.Logger
}

var _ pipeline.Executor = (*Router)(nil)

// NewRouter creates a router. hardware may be nil, in which case hwaccel
// mode falls back to the software encoder.
func NewRouter(media MediaRunner, images ImageConverter, settings SettingsSource, hardware HardwareSelector, logger hclog.Logger) *Router {
	return &Router{
		media:    media,
		images:   images,
		settings: settings,
		hardware: hardware,
		logger:   logger.Named("executor"),
	}
}

// Execute converts job.SourcePath into job.OutputPath()
func (r *Router) Execute(ctx context.Context, job types.Job, progress pipeline.ProgressFunc) (*types.Result, error) {
	if _, err := os.Stat(job.SourcePath); err != nil {
		return nil, converrors.IoError("execute", fmt.Errorf("source %s: %w", job.SourcePath, err)).WithJob(job.ID)
	}

	opts := r.settings.ConversionOptions()
	output := job.OutputPath()
	start := time.Now()
	metadata := make(map[string]string)

	switch job.Category {
	case types.CategoryVideo, types.CategoryAudio:
		build := ffmpeg.BuildOptions{Mode: opts.Mode, DefaultEncoder: opts.DefaultEncoder}
		if opts.Mode == ffmpeg.ModeHWAccel && r.hardware != nil {
			build.Hardware = r.hardware.SelectHardware(ctx)
		}

		if err := r.media.Run(ctx, job.SourcePath, output, job.TargetFormat, build, progress); err != nil {
			return nil, r.tagError(err, job.ID)
		}

		if job.Category == types.CategoryAudio {
			for k, v := range readAudioTags(job.SourcePath) {
				metadata[k] = v
			}
		}
		if build.Hardware.IsHardware() {
			metadata["encoder"] = build.Hardware.Encoder
		}

	case types.CategoryImage:
		info, err := r.images.Convert(ctx, job.SourcePath, output, job.TargetFormat)
		if err != nil {
			return nil, r.tagError(err, job.ID)
		}
		if progress != nil {
			progress(100)
		}
		metadata["width"] = strconv.Itoa(info.Width)
		metadata["height"] = strconv.Itoa(info.Height)

	default:
		return nil, converrors.ValidationError("execute",
			fmt.Errorf("%w: %s", converrors.ErrUnsupportedCategory, job.Category)).WithJob(job.ID)
	}

	if opts.OpenWhenFinished {
		metadata["open_when_finished"] = "true"
	}

	return &types.Result{
		OutputPath: output,
		Duration:   time.Since(start),
		Metadata:   metadata,
	}, nil
}

func (r *Router) tagError(err error, jobID string) error {
	if cErr, ok := err.(*converrors.ConversionError); ok {
		return cErr.WithJob(jobID)
	}
	return converrors.Wrap(err, converrors.ErrorTypeExecution, "execute")
}
