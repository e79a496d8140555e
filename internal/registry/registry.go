// Package registry tracks the installable units of an installation: base
// modules, plugins, and themes, plus the capabilities each unit registers.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// UnitType discriminates the three kinds of installable units.
type UnitType string

const (
	TypeModule UnitType = "module"
	TypePlugin UnitType = "plugin"
	TypeTheme  UnitType = "theme"
)

// ErrUnitNotFound indicates a referenced unit is absent from the registry.
var ErrUnitNotFound = errors.New("registry: unit not found")

// InstalledUnit is one installed module, plugin, or theme.
type InstalledUnit struct {
	Code      string
	Version   string
	Name      string
	Icon      string
	Frozen    bool
	Updatable bool
}

type unitYAML struct {
	Code      string `yaml:"code"`
	Version   string `yaml:"version"`
	Name      string `yaml:"name,omitempty"`
	Icon      string `yaml:"icon,omitempty"`
	Frozen    bool   `yaml:"frozen,omitempty"`
	Updatable *bool  `yaml:"updatable,omitempty"`
}

type manifestYAML struct {
	CoreBuild string     `yaml:"core_build"`
	Modules   []unitYAML `yaml:"modules"`
	Plugins   []unitYAML `yaml:"plugins"`
	Themes    []unitYAML `yaml:"themes"`
}

// Registry is the loaded unit manifest plus registered capabilities.
// Manifest order is registration order; uninstall reverses it.
type Registry struct {
	mu        sync.RWMutex
	path      string
	coreBuild string
	modules   []InstalledUnit
	plugins   []InstalledUnit
	themes    []InstalledUnit
	caps      map[string]any
}

// Load reads the unit manifest from path. A missing file yields an empty
// registry bound to that path.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, caps: make(map[string]any)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifestYAML
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	r.coreBuild = m.CoreBuild
	r.modules = fromYAML(m.Modules)
	r.plugins = fromYAML(m.Plugins)
	r.themes = fromYAML(m.Themes)
	return r, nil
}

func fromYAML(units []unitYAML) []InstalledUnit {
	out := make([]InstalledUnit, 0, len(units))
	for _, u := range units {
		updatable := true
		if u.Updatable != nil {
			updatable = *u.Updatable
		}
		out = append(out, InstalledUnit{
			Code:      u.Code,
			Version:   u.Version,
			Name:      u.Name,
			Icon:      u.Icon,
			Frozen:    u.Frozen,
			Updatable: updatable,
		})
	}
	return out
}

// CoreBuild returns the installed core build number from the manifest.
func (r *Registry) CoreBuild() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.coreBuild
}

// Modules returns the base modules in registration order.
func (r *Registry) Modules() []InstalledUnit { return r.copyOf(&r.modules) }

// Plugins returns the installed plugins in registration order.
func (r *Registry) Plugins() []InstalledUnit { return r.copyOf(&r.plugins) }

// Themes returns the installed themes.
func (r *Registry) Themes() []InstalledUnit { return r.copyOf(&r.themes) }

func (r *Registry) copyOf(src *[]InstalledUnit) []InstalledUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]InstalledUnit, len(*src))
	copy(out, *src)
	return out
}

// Plugin looks up an installed plugin by code.
func (r *Registry) Plugin(code string) (InstalledUnit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.plugins {
		if u.Code == code {
			return u, nil
		}
	}
	return InstalledUnit{}, fmt.Errorf("%w: plugin %s", ErrUnitNotFound, code)
}

// PluginVersions maps plugin code to installed version.
func (r *Registry) PluginVersions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.plugins))
	for _, u := range r.plugins {
		out[u.Code] = u.Version
	}
	return out
}

// ThemeVersions maps theme code to installed version.
func (r *Registry) ThemeVersions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.themes))
	for _, u := range r.themes {
		out[u.Code] = u.Version
	}
	return out
}

// ThemeInstalled reports whether a theme is locally marked installed.
func (r *Registry) ThemeInstalled(code string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.themes {
		if u.Code == code {
			return true
		}
	}
	return false
}

// SetVersion records a unit's new version. Only the migration engine calls
// this, after a successful apply.
func (r *Registry) SetVersion(code, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, group := range []*[]InstalledUnit{&r.modules, &r.plugins, &r.themes} {
		for i := range *group {
			if (*group)[i].Code == code {
				(*group)[i].Version = version
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", ErrUnitNotFound, code)
}

// Save writes the manifest back to its file.
func (r *Registry) Save() error {
	r.mu.RLock()
	m := manifestYAML{
		CoreBuild: r.coreBuild,
		Modules:   toYAML(r.modules),
		Plugins:   toYAML(r.plugins),
		Themes:    toYAML(r.themes),
	}
	r.mu.RUnlock()

	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}

func toYAML(units []InstalledUnit) []unitYAML {
	out := make([]unitYAML, 0, len(units))
	for _, u := range units {
		y := unitYAML{
			Code:    u.Code,
			Version: u.Version,
			Name:    u.Name,
			Icon:    u.Icon,
			Frozen:  u.Frozen,
		}
		if !u.Updatable {
			f := false
			y.Updatable = &f
		}
		out = append(out, y)
	}
	return out
}

// Bind registers a capability object for a unit. Units that migrate or
// seed register explicitly; absence of a capability is a normal skip.
func (r *Registry) Bind(code string, capability any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[code] = capability
}

// MigratableFor returns the unit's migration capability, if registered.
func (r *Registry) MigratableFor(code string) (Migratable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.caps[code].(Migratable)
	return m, ok
}

// SeedableFor returns the unit's seeding capability, if registered.
func (r *Registry) SeedableFor(code string) (Seedable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.caps[code].(Seedable)
	return s, ok
}
