package types

// Settings is the API view of the conversion settings
type Settings struct {
	// MaxConcurrency as configured; 0 means derived from the host
	MaxConcurrency int `json:"maxConcurrency"`
	// EffectiveLimit is the limit the dispatcher is running with
	EffectiveLimit   int    `json:"effectiveLimit"`
	ConversionMode   string `json:"conversionMode"`
	DefaultEncoder   string `json:"defaultEncoder"`
	OpenWhenFinished bool   `json:"openWhenFinished"`
	HWAccelVendor    string `json:"hwaccelVendor"`
}

// SettingsUpdate is a partial settings change. Nil fields are left alone.
type SettingsUpdate struct {
	MaxConcurrency   *int    `json:"maxConcurrency" binding:"omitempty,min=0"`
	ConversionMode   *string `json:"conversionMode" binding:"omitempty,oneof=normal lossless hwaccel"`
	DefaultEncoder   *string `json:"defaultEncoder"`
	OpenWhenFinished *bool   `json:"openWhenFinished"`
	HWAccelVendor    *string `json:"hwaccelVendor" binding:"omitempty,oneof=auto amd nvidia intel none"`
}

// Empty reports whether the update changes nothing
func (u SettingsUpdate) Empty() bool {
	return u.MaxConcurrency == nil && u.ConversionMode == nil && u.DefaultEncoder == nil &&
		u.OpenWhenFinished == nil && u.HWAccelVendor == nil
}
