// Command hwaccel_profiler is a mediaconv plugin serving hardware encoder
// profiles over go-plugin net/rpc.
package main

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/mantonx/mediaconv/internal/plugins"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "hwaccel_profiler",
		Level:      hclog.Info,
		Output:     os.Stderr,
		JSONFormat: true,
	})

	dir, err := os.Getwd()
	if err != nil {
		logger.Error("Failed to resolve working directory", "error", err)
		os.Exit(1)
	}

	profiler, err := loadProfiler(filepath.Join(dir, "profiles.yaml"))
	if err != nil {
		logger.Error("Failed to load profiles", "error", err)
		os.Exit(1)
	}
	logger.Info("Serving hardware profiles", "overrides", len(profiler.overrides))

	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: plugins.Handshake,
		Plugins:         plugins.PluginMap(profiler),
		Logger:          logger,
	})
}
