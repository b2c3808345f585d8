package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/ffmpeg"
)

// profileOverride is one vendor entry in profiles.yaml
type profileOverride struct {
	Encoder string   `yaml:"encoder"`
	Params  []string `yaml:"params"`
	Method  string   `yaml:"method"`
}

// tableProfiler serves the built-in vendor table with optional overrides
type tableProfiler struct {
	overrides map[string]profileOverride
}

// loadProfiler reads overrides from path. A missing file is not an error.
func loadProfiler(path string) (*tableProfiler, error) {
	p := &tableProfiler{overrides: make(map[string]profileOverride)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, err
	}

	var raw map[string]profileOverride
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for vendor, override := range raw {
		if override.Encoder == "" {
			return nil, fmt.Errorf("override for %s has no encoder", vendor)
		}
		p.overrides[strings.ToLower(vendor)] = override
	}
	return p, nil
}

func (p *tableProfiler) Profile(vendor string) (ffmpeg.HardwareProfile, error) {
	vendor = strings.ToLower(vendor)
	if override, ok := p.overrides[vendor]; ok {
		return ffmpeg.HardwareProfile{
			Vendor:  vendor,
			Encoder: override.Encoder,
			Params:  override.Params,
			Method:  override.Method,
		}, nil
	}
	return ffmpeg.BuiltinHardwareProfile(vendor), nil
}
