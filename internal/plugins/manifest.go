// Package plugins discovers and launches out-of-process plugins. Each plugin
// lives in its own directory next to a plugin.cue manifest and speaks
// hashicorp/go-plugin net/rpc to the host.
package plugins

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// ManifestFile is the manifest name looked up in every plugin directory
const ManifestFile = "plugin.cue"

// TypeHWAccel marks plugins that serve hardware encoder profiles
const TypeHWAccel = "hwaccel"

// Manifest describes a plugin as declared in its #Plugin definition
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	EntryPoint  string   `json:"entry_point"`
	Vendors     []string `json:"vendors"`
}

// Plugin is a discovered plugin and the directory it was found in
type Plugin struct {
	Manifest
	Dir string
}

// BinaryPath returns the absolute path of the plugin executable
func (p Plugin) BinaryPath() string {
	return filepath.Join(p.Dir, p.EntryPoint)
}

// Supports reports whether the plugin declared vendor. A plugin without a
// vendor list supports every vendor.
func (p Plugin) Supports(vendor string) bool {
	return len(p.Vendors) == 0 || slices.Contains(p.Vendors, vendor)
}

// ManifestParser evaluates plugin.cue files
type ManifestParser struct {
	ctx *cue.Context
}

// NewManifestParser creates a new parser instance
func NewManifestParser() *ManifestParser {
	return &ManifestParser{ctx: cuecontext.New()}
}

// Parse reads and validates the manifest at path
func (p *ManifestParser) Parse(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	value := p.ctx.CompileBytes(data, cue.Filename(path))
	if value.Err() != nil {
		return nil, fmt.Errorf("error building CUE file %s: %w", path, value.Err())
	}

	pluginDef := value.LookupPath(cue.ParsePath("#Plugin"))
	if !pluginDef.Exists() {
		return nil, fmt.Errorf("#Plugin definition not found in %s", path)
	}

	var manifest Manifest
	if err := pluginDef.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("error decoding #Plugin in %s: %w", path, err)
	}

	if manifest.ID == "" {
		return nil, fmt.Errorf("plugin id missing in %s", path)
	}
	if manifest.EntryPoint == "" {
		manifest.EntryPoint = manifest.ID
	}
	if filepath.Base(manifest.EntryPoint) != manifest.EntryPoint {
		return nil, fmt.Errorf("entry point %q in %s must be a file name", manifest.EntryPoint, path)
	}
	return &manifest, nil
}

// Discover finds plugins in the immediate subdirectories of dir and one level
// below them, for plugins grouped by category. Directories with a broken
// manifest are skipped and reported in the returned error alongside the
// plugins that did load.
func (p *ManifestParser) Discover(dir string) ([]Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var (
		found []Plugin
		errs  []error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(dir, entry.Name())

		plugin, ok, err := p.load(pluginDir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			found = append(found, plugin)
			continue
		}

		nested, err := os.ReadDir(pluginDir)
		if err != nil {
			continue
		}
		for _, sub := range nested {
			if !sub.IsDir() {
				continue
			}
			plugin, ok, err := p.load(filepath.Join(pluginDir, sub.Name()))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				found = append(found, plugin)
			}
		}
	}
	return found, errors.Join(errs...)
}

func (p *ManifestParser) load(dir string) (Plugin, bool, error) {
	path := filepath.Join(dir, ManifestFile)
	if _, err := os.Stat(path); err != nil {
		return Plugin{}, false, nil
	}
	manifest, err := p.Parse(path)
	if err != nil {
		return Plugin{}, false, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Plugin{}, false, err
	}
	return Plugin{Manifest: *manifest, Dir: abs}, true, nil
}
