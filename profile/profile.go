// Package profile holds the named plugin bundles requests can refer to.
package profile

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	gateway "github.com/featurebasedb/gateway"
	"github.com/featurebasedb/gateway/errors"
	"github.com/featurebasedb/gateway/logger"
	toml "github.com/pelletier/go-toml"
)

// DefaultProfilesName names the built-in profiles in error messages.
const DefaultProfilesName = "built-in profiles"

//go:embed profiles.toml
var defaultProfiles []byte

// Profile is a named bundle of plugins.
type Profile struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Protocol    string `toml:"protocol"`
	Handler     string `toml:"handler"`

	// Plugins maps plugin roles (fragmenter, accessor, resolver) to plugin
	// names.
	Plugins map[string]string `toml:"plugins"`

	// OptionMappings maps request options to configuration properties.
	OptionMappings map[string]string `toml:"option-mappings"`
}

type profilesFile struct {
	Profiles []Profile `toml:"profile"`
}

// Registry looks profiles up by lower-cased name.
type Registry struct {
	profiles map[string]*Profile
	source   string
}

// NewRegistry returns a registry holding the built-in profiles.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		profiles: make(map[string]*Profile),
		source:   DefaultProfilesName,
	}
	if err := r.load(defaultProfiles, DefaultProfilesName, logger.NopLogger); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadFile adds the profiles of a TOML file to r, replacing profiles with
// the same name.
func (r *Registry) LoadFile(path string, log logger.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return gateway.NewErrConfiguration("Profiles configuration %s could not be loaded: %v", path, err)
	}
	if err := r.load(data, path, log); err != nil {
		return err
	}
	r.source = path
	return nil
}

// Load adds the profiles in data to r. name identifies data in errors.
func (r *Registry) Load(data []byte, name string, log logger.Logger) error {
	return r.load(data, name, log)
}

func (r *Registry) load(data []byte, name string, log logger.Logger) error {
	var f profilesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return gateway.NewErrConfiguration("Profiles configuration %s could not be loaded: %v", name, err)
	}
	for i := range f.Profiles {
		p := f.Profiles[i]
		if p.Name == "" {
			return gateway.NewErrConfiguration("Profile #%d has no name in %s", i+1, name)
		}
		if len(p.Plugins) == 0 {
			return gateway.NewErrConfiguration("Profile %s does not define any plugins in %s", p.Name, name)
		}
		key := strings.ToLower(p.Name)
		if _, ok := r.profiles[key]; ok && log != nil {
			log.Infof("profile %s from %s replaces an existing definition", p.Name, name)
		}
		r.profiles[key] = &p
	}
	return nil
}

func (r *Registry) profile(name string) (*Profile, error) {
	p, ok := r.profiles[strings.ToLower(name)]
	if !ok {
		return nil, errors.New(gateway.ErrConfiguration, name+" is not defined in "+r.source)
	}
	return p, nil
}

// Profile returns the named profile.
func (r *Registry) Profile(name string) (Profile, error) {
	p, err := r.profile(name)
	if err != nil {
		return Profile{}, err
	}
	return *p, nil
}

// Names returns the profile names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.profiles))
	for _, p := range r.profiles {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// Plugins returns a copy of the plugins of a profile.
func (r *Registry) Plugins(name string) (map[string]string, error) {
	p, err := r.profile(name)
	if err != nil {
		return nil, err
	}
	return copyMap(p.Plugins), nil
}

func (r *Registry) Protocol(name string) (string, error) {
	p, err := r.profile(name)
	if err != nil {
		return "", err
	}
	return p.Protocol, nil
}

func (r *Registry) Handler(name string) (string, error) {
	p, err := r.profile(name)
	if err != nil {
		return "", err
	}
	return p.Handler, nil
}

func (r *Registry) OptionMappings(name string) (map[string]string, error) {
	p, err := r.profile(name)
	if err != nil {
		return nil, err
	}
	return copyMap(p.OptionMappings), nil
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
