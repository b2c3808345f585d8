// Package system reports host resources used to size the conversion pipeline
// and to pick a hardware encoder.
package system

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// MinAutoConcurrency and MaxAutoConcurrency bound the derived default limit
	MinAutoConcurrency = 1
	MaxAutoConcurrency = 8

	defaultDRMRoot = "/sys/class/drm"
)

// PCI vendor ids of GPUs with ffmpeg hardware encoders
var pciVendors = map[string]string{
	"0x1002": "amd",
	"0x10de": "nvidia",
	"0x8086": "intel",
}

// Info is a point-in-time view of the host
type Info struct {
	PhysicalCores     int     `json:"physicalCores"`
	LogicalCores      int     `json:"logicalCores"`
	CPUPercent        float64 `json:"cpuPercent"`
	MemoryTotal       uint64  `json:"memoryTotal"`
	MemoryAvailable   uint64  `json:"memoryAvailable"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent"`
	GPUVendor         string  `json:"gpuVendor"`
}

// Inspector reads host metrics through gopsutil
type Inspector struct {
	logger  hclog.Logger
	drmRoot string
}

// NewInspector creates a new system inspector
func NewInspector(logger hclog.Logger) *Inspector {
	return &Inspector{
		logger:  logger.Named("system"),
		drmRoot: defaultDRMRoot,
	}
}

// Info collects CPU, memory and GPU information. Individual probes that fail
// leave their fields zero.
func (i *Inspector) Info(ctx context.Context) (*Info, error) {
	info := &Info{GPUVendor: i.GPUVendor()}

	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.PhysicalCores = n
	} else {
		i.logger.Debug("Failed to count physical cores", "error", err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.LogicalCores = n
	}

	if percents, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false); err == nil && len(percents) > 0 {
		info.CPUPercent = percents[0]
	}

	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		i.logger.Warn("Failed to read memory stats", "error", err)
		return info, nil
	}
	info.MemoryTotal = memStats.Total
	info.MemoryAvailable = memStats.Available
	info.MemoryUsedPercent = memStats.UsedPercent

	return info, nil
}

// DefaultConcurrency derives a limit from the physical core count, clamped to
// [MinAutoConcurrency, MaxAutoConcurrency].
func (i *Inspector) DefaultConcurrency(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, false)
	if err != nil || n <= 0 {
		n, err = cpu.CountsWithContext(ctx, true)
	}
	if err != nil || n <= 0 {
		i.logger.Warn("Could not count CPUs, using minimum concurrency", "error", err)
		return MinAutoConcurrency
	}
	return ClampConcurrency(n)
}

// ClampConcurrency bounds n to the automatic concurrency range
func ClampConcurrency(n int) int {
	return max(MinAutoConcurrency, min(n, MaxAutoConcurrency))
}

// GPUVendor returns amd, nvidia or intel for the first display adapter the
// kernel exposes under /sys/class/drm, or "" if none is recognized.
// Discrete NVIDIA and AMD cards win over an integrated Intel GPU.
func (i *Inspector) GPUVendor() string {
	matches, err := filepath.Glob(filepath.Join(i.drmRoot, "card*", "device", "vendor"))
	if err != nil || len(matches) == 0 {
		return ""
	}

	found := ""
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		vendor := VendorFromPCIID(string(data))
		switch {
		case vendor == "":
			continue
		case vendor != "intel":
			return vendor
		default:
			found = vendor
		}
	}
	return found
}

// VendorFromPCIID maps a PCI vendor id such as "0x10de" to a vendor name
func VendorFromPCIID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return pciVendors[id]
}
