package ffmpeg

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationLine = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)

// ParseTimestamp parses HH:MM:SS[.frac] into a duration. Malformed values,
// including ffmpeg's "N/A", parse as zero.
func ParseTimestamp(s string) time.Duration {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0
	}

	hours, err := strconv.ParseFloat(parts[0], 64)
	if err != nil || hours < 0 {
		return 0
	}
	mins, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0
	}
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0
	}

	total := hours*3600 + mins*60 + secs
	return time.Duration(total * float64(time.Second))
}

// ParseDurationLine finds the "Duration: HH:MM:SS.xx" line ffmpeg prints for
// its input and returns the parsed value, or zero.
// Format: "  Duration: 00:01:23.45, start: 0.000000, bitrate: 1234 kb/s"
func ParseDurationLine(output string) time.Duration {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Duration:") {
			continue
		}
		if match := durationLine.FindStringSubmatch(line); len(match) > 0 {
			return ParseTimestamp(match[1] + ":" + match[2] + ":" + match[3])
		}
	}
	return 0
}

// ParseProgressLine splits one "-progress" key=value line
func ParseProgressLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(strings.TrimSpace(line), "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// Percent converts a position into a whole percentage clamped to 0-100
func Percent(current, total time.Duration) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	pct := int(float64(current) / float64(total) * 100)
	if pct > 100 {
		return 100
	}
	return pct
}
