package executor

import (
	"context"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/ffmpeg"
)

// ProfileSource serves encoder profiles for a vendor, typically from plugins
type ProfileSource interface {
	Profile(vendor string) (ffmpeg.HardwareProfile, error)
}

// VendorDetector reports the GPU vendor of the host
type VendorDetector interface {
	GPUVendor() string
}

// HardwareResolver implements HardwareSelector. The configured vendor is
// read on every call; "auto" is resolved once through the detector.
type HardwareResolver struct {
	vendor   func() string
	detector VendorDetector
	source   ProfileSource
	logger   hclog.Logger

	detectOnce sync.Once
	detected   string
}

var _ HardwareSelector = (*HardwareResolver)(nil)

// NewHardwareResolver creates a resolver. detector and source may be nil.
func NewHardwareResolver(vendor func() string, detector VendorDetector, source ProfileSource, logger hclog.Logger) *HardwareResolver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &HardwareResolver{
		vendor:   vendor,
		detector: detector,
		source:   source,
		logger:   logger.Named("hwaccel"),
	}
}

// SelectHardware returns the profile for the effective vendor, or the CPU
// profile when there is none
func (h *HardwareResolver) SelectHardware(_ context.Context) ffmpeg.HardwareProfile {
	vendor := strings.ToLower(strings.TrimSpace(h.vendor()))
	switch vendor {
	case "none":
		return ffmpeg.HardwareProfile{}
	case "", "auto":
		vendor = h.detect()
	}
	if vendor == "" {
		return ffmpeg.HardwareProfile{}
	}

	if h.source != nil {
		profile, err := h.source.Profile(vendor)
		if err != nil {
			h.logger.Warn("Profile source failed, using built-in table", "vendor", vendor, "error", err)
		} else if profile.IsHardware() {
			return profile
		}
	}
	return ffmpeg.BuiltinHardwareProfile(vendor)
}

func (h *HardwareResolver) detect() string {
	h.detectOnce.Do(func() {
		if h.detector == nil {
			return
		}
		h.detected = h.detector.GPUVendor()
		h.logger.Info("Detected GPU vendor", "vendor", h.detected)
	})
	return h.detected
}
