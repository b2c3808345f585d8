// Package ffmpeg builds and runs FFmpeg command lines for file-to-file
// conversion.
//
// Each target format maps to a codec profile: which video and audio encoders
// to use, whether the output is audio-only, and whether hardware encoders may
// replace the software video encoder. The argument builder combines the
// profile with the conversion mode:
//
//   - normal:   software encoder, -crf 23 -preset medium
//   - lossless: software encoder, -crf 18 (30 for webm)
//   - hwaccel:  vendor encoder and params when the format allows it
//
// Every command starts with -y -progress pipe:1 -nostats -loglevel error so
// progress arrives on stdout as key=value lines and stderr only carries errors.
//
// Example usage:
//
//	builder := ffmpeg.NewArgsBuilder(logger)
//	args := builder.BuildArgs("/in/clip.mov", "/in/clip.webm", "webm", ffmpeg.BuildOptions{Mode: ffmpeg.ModeNormal})
//	cmd := exec.Command("ffmpeg", args...)
package ffmpeg

import (
	"strings"

	"github.com/hashicorp/go-hclog"
)

// ConversionMode selects quality and encoder policy
type ConversionMode string

const (
	ModeNormal   ConversionMode = "normal"
	ModeLossless ConversionMode = "lossless"
	ModeHWAccel  ConversionMode = "hwaccel"
)

// DefaultVideoEncoder is used for containers that accept any video codec
const DefaultVideoEncoder = "libx264"

// CodecProfile describes how one target format is encoded
type CodecProfile struct {
	Video            string
	Audio            string
	DisableVideo     bool
	HWAccelSupported bool
	Arguments        []string
}

// ProfileFor returns the codec profile of a target format. Unknown formats
// get the mp4 profile and let ffmpeg pick the muxer from the extension.
func ProfileFor(format, defaultEncoder string) CodecProfile {
	if defaultEncoder == "" {
		defaultEncoder = DefaultVideoEncoder
	}

	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "mp4", "mov":
		return CodecProfile{Video: defaultEncoder, Audio: "aac", HWAccelSupported: true}
	case "mkv":
		return CodecProfile{Video: defaultEncoder, Audio: "libopus", HWAccelSupported: true}
	case "webm":
		return CodecProfile{Video: "libvpx-vp9", Audio: "libopus"}
	case "avi":
		return CodecProfile{Video: "mpeg4", Audio: "mp3", Arguments: []string{"-quality", "quality"}}
	case "flv":
		return CodecProfile{Video: "flv", Audio: "mp3"}
	case "wmv":
		return CodecProfile{Video: "msmpeg4", Audio: "wmav2"}

	case "mp3":
		return audioOnly("libmp3lame")
	case "aac":
		return audioOnly("aac")
	case "flac":
		return audioOnly("flac")
	case "wav":
		return audioOnly("pcm_s16le")
	case "ogg":
		return audioOnly("libopus")

	default:
		return CodecProfile{Video: defaultEncoder, Audio: "aac", HWAccelSupported: true}
	}
}

func audioOnly(codec string) CodecProfile {
	return CodecProfile{Video: "none", Audio: codec, DisableVideo: true}
}

// HardwareProfile is a vendor encoder selection. The zero value means CPU.
type HardwareProfile struct {
	Vendor  string   `json:"vendor"`
	Encoder string   `json:"encoder"`
	Params  []string `json:"params"`
	Method  string   `json:"method"`
}

// IsHardware reports whether the profile names a hardware encoder
func (h HardwareProfile) IsHardware() bool {
	return h.Encoder != ""
}

// BuiltinHardwareProfile maps a GPU vendor name to its H.264 encoder
func BuiltinHardwareProfile(vendor string) HardwareProfile {
	switch strings.ToLower(vendor) {
	case "amd":
		return HardwareProfile{Vendor: "amd", Encoder: "h264_amf", Params: []string{"-quality", "quality"}, Method: "d3d11va"}
	case "nvidia":
		return HardwareProfile{Vendor: "nvidia", Encoder: "h264_nvenc", Params: []string{"-preset", "llhq"}, Method: "cuda"}
	case "intel":
		return HardwareProfile{Vendor: "intel", Encoder: "h264_qsv", Params: []string{"-global_quality", "51"}, Method: "qsv"}
	default:
		return HardwareProfile{}
	}
}

// BuildOptions carries the settings that shape one command line
type BuildOptions struct {
	Mode           ConversionMode
	DefaultEncoder string
	Hardware       HardwareProfile
}

// ArgsBuilder handles building FFmpeg command arguments
type ArgsBuilder struct {
	logger hclog.Logger
}

// NewArgsBuilder creates a new FFmpeg args builder
func NewArgsBuilder(logger hclog.Logger) *ArgsBuilder {
	return &ArgsBuilder{logger: logger.Named("ffmpeg-args")}
}

// BuildArgs builds the argument list for converting input to output
func (b *ArgsBuilder) BuildArgs(input, output, format string, opts BuildOptions) []string {
	profile := ProfileFor(format, opts.DefaultEncoder)
	lossless := opts.Mode == ModeLossless

	useHW := opts.Mode == ModeHWAccel &&
		!profile.DisableVideo &&
		profile.HWAccelSupported &&
		opts.Hardware.IsHardware()

	args := []string{"-y", "-progress", "pipe:1", "-nostats", "-loglevel", "error"}

	if useHW && opts.Hardware.Method != "" && opts.Hardware.Method != "none" {
		args = append(args, "-hwaccel", opts.Hardware.Method)
		// cuda and qsv decode into device memory the encoder can read directly
		if opts.Hardware.Method == "cuda" || opts.Hardware.Method == "qsv" {
			args = append(args, "-hwaccel_output_format", opts.Hardware.Method)
		}
	}

	args = append(args, "-i", input)

	if profile.DisableVideo {
		args = append(args, "-vn")
	} else {
		encoder := profile.Video
		if useHW {
			encoder = opts.Hardware.Encoder
		}
		args = append(args, "-c:v", encoder)

		switch {
		case useHW:
			args = append(args, opts.Hardware.Params...)
		case lossless:
			crf := "18"
			if strings.EqualFold(format, "webm") {
				crf = "30"
			}
			args = append(args, "-crf", crf)
		default:
			args = append(args, "-crf", "23", "-preset", "medium")
		}
	}

	args = append(args, profile.Arguments...)
	args = append(args, "-c:a", profile.Audio, output)

	b.logger.Debug("Built ffmpeg arguments", "format", format, "mode", opts.Mode, "hwaccel", useHW, "args", strings.Join(args, " "))
	return args
}
