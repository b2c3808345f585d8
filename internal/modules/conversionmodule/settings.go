package conversionmodule

import (
	"strings"

	"github.com/mantonx/mediaconv/internal/config"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/executor"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/ffmpeg"
	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/types"
)

// configSettings reads conversion options from the live configuration, so
// every job sees the settings current at its start.
type configSettings struct {
	cm *config.ConfigManager
}

var _ executor.SettingsSource = configSettings{}

func (s configSettings) ConversionOptions() executor.Options {
	conv := s.cm.GetConfig().Conversion
	return executor.Options{
		Mode:             ffmpeg.ConversionMode(conv.ConversionMode),
		DefaultEncoder:   conv.DefaultEncoder,
		OpenWhenFinished: conv.OpenWhenFinished,
	}
}

func (s configSettings) hwaccelVendor() string {
	return strings.ToLower(s.cm.GetConfig().HWAccel.Vendor)
}

// applyUpdate copies the fields set in update onto cfg
func applyUpdate(cfg *config.Config, update types.SettingsUpdate) {
	if update.MaxConcurrency != nil {
		cfg.Conversion.MaxConcurrency = *update.MaxConcurrency
	}
	if update.ConversionMode != nil {
		cfg.Conversion.ConversionMode = *update.ConversionMode
	}
	if update.DefaultEncoder != nil {
		cfg.Conversion.DefaultEncoder = *update.DefaultEncoder
	}
	if update.OpenWhenFinished != nil {
		cfg.Conversion.OpenWhenFinished = *update.OpenWhenFinished
	}
	if update.HWAccelVendor != nil {
		cfg.HWAccel.Vendor = *update.HWAccelVendor
	}
}
