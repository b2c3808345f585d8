package plugins

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/ffmpeg"
)

const startTimeout = 10 * time.Second

// Manager launches hwaccel plugins found in a plugin directory and routes
// profile lookups to them
type Manager struct {
	dir    string
	parser *ManifestParser
	logger hclog.Logger

	mu        sync.RWMutex
	clients   map[string]*goplugin.Client
	profilers map[string]HardwareProfiler
	plugins   []Plugin
}

// NewManager creates a manager for dir
func NewManager(dir string, logger hclog.Logger) *Manager {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Manager{
		dir:       dir,
		parser:    NewManifestParser(),
		logger:    logger.Named("plugins"),
		clients:   make(map[string]*goplugin.Client),
		profilers: make(map[string]HardwareProfiler),
	}
}

// Start discovers plugins and starts every hwaccel plugin whose binary exists.
// A plugin that fails to start is logged and skipped.
func (m *Manager) Start() {
	found, err := m.parser.Discover(m.dir)
	if err != nil {
		m.logger.Warn("Some plugin manifests could not be loaded", "error", err)
	}

	m.mu.Lock()
	m.plugins = found
	m.mu.Unlock()

	for _, plugin := range found {
		if plugin.Type != TypeHWAccel {
			m.logger.Debug("Skipping plugin of unknown type", "plugin", plugin.ID, "type", plugin.Type)
			continue
		}
		if err := m.launch(plugin); err != nil {
			m.logger.Error("Failed to start plugin", "plugin", plugin.ID, "error", err)
			continue
		}
		m.logger.Info("Plugin started", "plugin", plugin.ID, "version", plugin.Version)
	}
}

// Plugins returns the discovered plugins
func (m *Manager) Plugins() []Plugin {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Plugin(nil), m.plugins...)
}

// Profile asks the running plugins, in discovery order, for vendor's
// profile. It returns the zero profile when no plugin knows the vendor.
func (m *Manager) Profile(vendor string) (ffmpeg.HardwareProfile, error) {
	m.mu.RLock()
	plugins := m.plugins
	m.mu.RUnlock()

	var lastErr error
	for _, plugin := range plugins {
		if !plugin.Supports(vendor) {
			continue
		}
		m.mu.RLock()
		profiler, ok := m.profilers[plugin.ID]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		profile, err := profiler.Profile(vendor)
		if err != nil {
			m.logger.Warn("Plugin profile lookup failed", "plugin", plugin.ID, "vendor", vendor, "error", err)
			lastErr = err
			continue
		}
		if profile.IsHardware() {
			return profile, nil
		}
	}
	return ffmpeg.HardwareProfile{}, lastErr
}

// Stop kills every plugin process
func (m *Manager) Stop() {
	m.mu.Lock()
	clients := m.clients
	m.clients = make(map[string]*goplugin.Client)
	m.profilers = make(map[string]HardwareProfiler)
	m.mu.Unlock()

	for id, client := range clients {
		client.Kill()
		m.logger.Debug("Plugin stopped", "plugin", id)
	}
}

func (m *Manager) launch(plugin Plugin) error {
	binary := plugin.BinaryPath()
	if _, err := os.Stat(binary); err != nil {
		return fmt.Errorf("plugin binary not found: %s", binary)
	}

	cmd := exec.Command(binary)
	cmd.Dir = plugin.Dir
	cmd.Env = append(os.Environ(), "MEDIACONV_PLUGIN_ID="+plugin.ID)

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap(nil),
		Cmd:              cmd,
		Logger:           m.logger.Named(plugin.ID),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		StartTimeout:     startTimeout,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(HardwareProfilerName)
	if err != nil {
		client.Kill()
		return fmt.Errorf("failed to dispense plugin: %w", err)
	}

	profiler, ok := raw.(HardwareProfiler)
	if !ok {
		client.Kill()
		return fmt.Errorf("plugin %s does not implement the hardware profiler interface", plugin.ID)
	}

	m.mu.Lock()
	m.clients[plugin.ID] = client
	m.profilers[plugin.ID] = profiler
	m.mu.Unlock()
	return nil
}
