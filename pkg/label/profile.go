package label

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"totelabel/pkg/artifact"
)

// DisplayProfile describes one e-paper panel: its pixel geometry, bit depth
// and the luminance threshold tuned for it.
type DisplayProfile struct {
	Name      string `yaml:"name" json:"name"`
	Width     int    `yaml:"width" json:"width"`
	Height    int    `yaml:"height" json:"height"`
	BitDepth  int    `yaml:"bit_depth" json:"bit_depth"`
	Threshold uint8  `yaml:"threshold" json:"threshold"`
}

func (p DisplayProfile) validate() error {
	switch {
	case p.Name == "":
		return fmt.Errorf("profile name is required")
	case p.Name == artifact.PreviewProfile:
		return fmt.Errorf("profile name %q is reserved", p.Name)
	case p.Name == "." || p.Name == "..":
		return fmt.Errorf("profile name %q is a relative path element", p.Name)
	case strings.ContainsAny(p.Name, "/@"):
		return fmt.Errorf("profile name %q contains a reserved character", p.Name)
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("profile %s: width and height must be positive", p.Name)
	case p.BitDepth != 1:
		return fmt.Errorf("profile %s: only 1-bit panels are supported, got %d", p.Name, p.BitDepth)
	case p.Threshold == 0:
		return fmt.Errorf("profile %s: threshold must be between 1 and 255", p.Name)
	}
	return nil
}

// Built-in panels.
var (
	Panel4in2 = DisplayProfile{Name: "epd-4in2", Width: 400, Height: 300, BitDepth: 1, Threshold: 180}
	Panel7in5 = DisplayProfile{Name: "epd-7in5", Width: 800, Height: 480, BitDepth: 1, Threshold: 160}
	Panel2in9 = DisplayProfile{Name: "epd-2in9", Width: 296, Height: 128, BitDepth: 1, Threshold: 170}
)

// Registry maps totes to the panels attached to them.
type Registry struct {
	def    DisplayProfile
	panels map[string]DisplayProfile
	totes  map[string][]DisplayProfile
}

// NewRegistry returns a registry holding only the built-in panels, with
// Panel4in2 as the default.
func NewRegistry() *Registry {
	return &Registry{
		def: Panel4in2,
		panels: map[string]DisplayProfile{
			Panel4in2.Name: Panel4in2,
			Panel7in5.Name: Panel7in5,
			Panel2in9.Name: Panel2in9,
		},
		totes: make(map[string][]DisplayProfile),
	}
}

// ProfilesFor returns the tote's panels in declaration order, or the default
// panel when the tote has no entry. The result is never empty.
func (r *Registry) ProfilesFor(toteID string) []DisplayProfile {
	if ps, ok := r.totes[toteID]; ok && len(ps) > 0 {
		out := make([]DisplayProfile, len(ps))
		copy(out, ps)
		return out
	}
	return []DisplayProfile{r.def}
}

// Lookup finds a named panel among the tote's profiles.
func (r *Registry) Lookup(toteID, name string) (DisplayProfile, bool) {
	for _, p := range r.ProfilesFor(toteID) {
		if p.Name == name {
			return p, true
		}
	}
	return DisplayProfile{}, false
}

// Default returns the fallback panel.
func (r *Registry) Default() DisplayProfile { return r.def }

// Panel returns a panel by name from the catalog.
func (r *Registry) Panel(name string) (DisplayProfile, bool) {
	p, ok := r.panels[name]
	return p, ok
}

// RegistryFile is the YAML layout of LABEL_PROFILES_FILE:
//
//	default: epd-4in2
//	panels:
//	  - {name: shelf-5in8, width: 648, height: 480, bit_depth: 1, threshold: 170}
//	totes:
//	  TOTE001: [epd-4in2, epd-7in5]
type RegistryFile struct {
	Default string              `yaml:"default"`
	Panels  []DisplayProfile    `yaml:"panels"`
	Totes   map[string][]string `yaml:"totes"`
}

// LoadRegistry reads a registry file and merges it over the built-in panels.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f RegistryFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.applyDefaults()
	return f.build()
}

func (f *RegistryFile) applyDefaults() {
	for i := range f.Panels {
		if f.Panels[i].BitDepth == 0 {
			f.Panels[i].BitDepth = 1
		}
	}
	if f.Default == "" {
		f.Default = Panel4in2.Name
	}
}

func (f *RegistryFile) build() (*Registry, error) {
	r := NewRegistry()
	for _, p := range f.Panels {
		if err := p.validate(); err != nil {
			return nil, err
		}
		r.panels[p.Name] = p
	}
	def, ok := r.panels[f.Default]
	if !ok {
		return nil, fmt.Errorf("default panel %q is not defined", f.Default)
	}
	r.def = def
	for tote, names := range f.Totes {
		if strings.TrimSpace(tote) == "" {
			return nil, fmt.Errorf("empty tote id in registry")
		}
		seen := make(map[string]struct{}, len(names))
		for _, n := range names {
			p, ok := r.panels[n]
			if !ok {
				return nil, fmt.Errorf("tote %s: unknown panel %q", tote, n)
			}
			if _, dup := seen[n]; dup {
				return nil, fmt.Errorf("tote %s: panel %q listed twice", tote, n)
			}
			seen[n] = struct{}{}
			r.totes[tote] = append(r.totes[tote], p)
		}
	}
	return r, nil
}
