package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
)

// MediaProber uses FFprobe to extract media information
type MediaProber struct {
	ffprobePath string
	ffmpegPath  string
	logger      hclog.Logger
}

// ProbeResult contains media information from FFprobe
type ProbeResult struct {
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
		Size     string `json:"size"`
	} `json:"format"`
}

// NewMediaProber creates a new media prober
func NewMediaProber(ffprobePath, ffmpegPath string, logger hclog.Logger) *MediaProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &MediaProber{
		ffprobePath: ffprobePath,
		ffmpegPath:  ffmpegPath,
		logger:      logger.Named("prober"),
	}
}

// GetDuration returns the duration of a media file. ffprobe is tried first;
// if it is missing or fails, the Duration line of `ffmpeg -i` is parsed.
func (mp *MediaProber) GetDuration(ctx context.Context, inputPath string) (time.Duration, error) {
	duration, err := mp.probeDuration(ctx, inputPath)
	if err == nil {
		return duration, nil
	}
	mp.logger.Debug("ffprobe failed, falling back to ffmpeg banner", "path", inputPath, "error", err)

	// ffmpeg -i without an output exits non-zero; the banner on stderr is what we want
	output, _ := exec.CommandContext(ctx, mp.ffmpegPath, "-hide_banner", "-i", inputPath).CombinedOutput()
	if duration := ParseDurationLine(string(output)); duration > 0 {
		return duration, nil
	}

	return 0, fmt.Errorf("no duration found for %s: %w", inputPath, err)
}

func (mp *MediaProber) probeDuration(ctx context.Context, inputPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, mp.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		inputPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeDuration(output)
}

func parseProbeDuration(output []byte) (time.Duration, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	if result.Format.Duration == "" {
		return 0, fmt.Errorf("no duration found in media file")
	}

	seconds, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
