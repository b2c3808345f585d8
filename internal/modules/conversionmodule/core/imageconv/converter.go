// Package imageconv converts still images between formats.
package imageconv

import (
	"context"
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"

	converrors "github.com/mantonx/mediaconv/internal/modules/conversionmodule/errors"
)

// MaxIconSize is the largest edge an ICO entry can describe
const MaxIconSize = 256

var supportedFormats = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"gif":  true,
	"bmp":  true,
	"tif":  true,
	"tiff": true,
	"webp": true,
	"ico":  true,
}

// SupportedFormat reports whether images can be written in format
func SupportedFormat(format string) bool {
	return supportedFormats[strings.ToLower(format)]
}

// Info describes a converted image
type Info struct {
	Width  int
	Height int
}

// Converter handles image decoding and re-encoding
type Converter struct {
	logger hclog.Logger
}

// NewConverter creates a new image converter
func NewConverter(logger hclog.Logger) *Converter {
	return &Converter{logger: logger.Named("image")}
}

// Convert decodes input and writes it to output in format. The context is
// checked before decoding and before encoding; a cancelled or failed encode
// leaves no file behind.
func (c *Converter) Convert(ctx context.Context, input, output, format string) (Info, error) {
	format = strings.ToLower(format)
	if !SupportedFormat(format) {
		return Info{}, converrors.ValidationError("image", fmt.Errorf("%w: %s", converrors.ErrUnsupportedFormat, format))
	}

	if err := ctx.Err(); err != nil {
		return Info{}, converrors.New(converrors.ErrorTypeExecution, "image", converrors.ErrCancelled)
	}

	img, err := imaging.Open(input, imaging.AutoOrientation(true))
	if err != nil {
		return Info{}, converrors.ExecutionError("image", fmt.Sprintf("failed to decode image: %v", err))
	}

	if format == "ico" {
		// Fit never upscales, so small sources keep their size
		img = imaging.Fit(img, MaxIconSize, MaxIconSize, imaging.Lanczos)
	}

	if err := ctx.Err(); err != nil {
		return Info{}, converrors.New(converrors.ErrorTypeExecution, "image", converrors.ErrCancelled)
	}

	if err := c.encode(img, output, format); err != nil {
		if rmErr := os.Remove(output); rmErr != nil && !os.IsNotExist(rmErr) {
			c.logger.Warn("Failed to remove partial output", "path", output, "error", rmErr)
		}
		return Info{}, converrors.ExecutionError("image", fmt.Sprintf("failed to encode image: %v", err))
	}

	bounds := img.Bounds()
	c.logger.Debug("Converted image", "input", input, "output", output, "width", bounds.Dx(), "height", bounds.Dy())
	return Info{Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func (c *Converter) encode(img image.Image, output, format string) error {
	switch format {
	case "webp":
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		if err := webp.Encode(f, img, &webp.Options{Lossless: true}); err != nil {
			f.Close()
			return err
		}
		return f.Close()

	case "ico":
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		if err := EncodeICO(f, img); err != nil {
			f.Close()
			return err
		}
		return f.Close()

	default:
		return imaging.Save(img, output)
	}
}
