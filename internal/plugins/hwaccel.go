package plugins

import (
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"

	"github.com/mantonx/mediaconv/internal/modules/conversionmodule/core/ffmpeg"
)

// Handshake is shared by the host and every plugin binary
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "MEDIACONV_PLUGIN",
	MagicCookieValue: "mediaconv_plugin_magic_cookie_v1",
}

// HardwareProfilerName is the key plugins register their profiler under
const HardwareProfilerName = "hwaccel_profiler"

// HardwareProfiler serves encoder settings for a GPU vendor. An empty
// profile means the plugin has nothing for that vendor.
type HardwareProfiler interface {
	Profile(vendor string) (ffmpeg.HardwareProfile, error)
}

// HardwareProfilerPlugin implements goplugin.Plugin over net/rpc
type HardwareProfilerPlugin struct {
	Impl HardwareProfiler
}

var _ goplugin.Plugin = (*HardwareProfilerPlugin)(nil)

// Server returns the RPC server side, run inside the plugin process
func (p *HardwareProfilerPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &hardwareProfilerRPCServer{impl: p.Impl}, nil
}

// Client returns the RPC client side, used by the host
func (p *HardwareProfilerPlugin) Client(_ *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &hardwareProfilerRPCClient{client: c}, nil
}

// PluginMap is what plugin binaries pass to goplugin.Serve
func PluginMap(impl HardwareProfiler) map[string]goplugin.Plugin {
	return map[string]goplugin.Plugin{
		HardwareProfilerName: &HardwareProfilerPlugin{Impl: impl},
	}
}

type hardwareProfilerRPCClient struct {
	client *rpc.Client
}

func (c *hardwareProfilerRPCClient) Profile(vendor string) (ffmpeg.HardwareProfile, error) {
	var resp ffmpeg.HardwareProfile
	err := c.client.Call("Plugin.Profile", vendor, &resp)
	return resp, err
}

type hardwareProfilerRPCServer struct {
	impl HardwareProfiler
}

func (s *hardwareProfilerRPCServer) Profile(vendor string, resp *ffmpeg.HardwareProfile) error {
	profile, err := s.impl.Profile(vendor)
	if err != nil {
		return err
	}
	*resp = profile
	return nil
}
