package optimizer

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-yaml"
)

// Preset is a named bundle of size and quality limits.
type Preset struct {
	Name         string `yaml:"name" json:"name"`
	MaxBytes     int64  `yaml:"max_bytes" json:"max_bytes"`
	MaxDimension int    `yaml:"max_dimension" json:"max_dimension"`
	Quality      int    `yaml:"quality" json:"quality"`
}

// Validate checks that the preset limits are usable.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset name is required")
	}
	if p.MaxBytes <= 0 {
		return fmt.Errorf("preset %s: max_bytes must be positive", p.Name)
	}
	if p.MaxDimension < minDimension {
		return fmt.Errorf("preset %s: max_dimension must be at least %d", p.Name, minDimension)
	}
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("preset %s: quality must be between 1 and 100", p.Name)
	}
	return nil
}

// Built-in presets.
var (
	Social = Preset{Name: "social", MaxBytes: 5 << 20, MaxDimension: 2048, Quality: 85}
	Web    = Preset{Name: "web", MaxBytes: 1 << 20, MaxDimension: 1920, Quality: 80}
	Thumb  = Preset{Name: "thumbnail", MaxBytes: 200 << 10, MaxDimension: 400, Quality: 75}
)

// Presets is a registry of presets keyed by name.
type Presets map[string]Preset

// DefaultPresets returns a fresh registry holding the built-in presets.
func DefaultPresets() Presets {
	return Presets{
		Social.Name: Social,
		Web.Name:    Web,
		Thumb.Name:  Thumb,
	}
}

// Get looks up a preset by name.
func (ps Presets) Get(name string) (Preset, bool) {
	p, ok := ps[name]
	return p, ok
}

// List returns the presets ordered by name.
func (ps Presets) List() []Preset {
	out := make([]Preset, 0, len(ps))
	for _, p := range ps {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type presetsFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets reads a YAML file of presets and merges it over the built-ins.
// An entry with the name of a built-in replaces it. An empty path returns the
// built-ins.
//
//	presets:
//	  - name: web
//	    max_bytes: 524288
//	    max_dimension: 1600
//	    quality: 75
func LoadPresets(path string) (Presets, error) {
	ps := DefaultPresets()
	if path == "" {
		return ps, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets file: %w", err)
	}
	return ps, ps.merge(data)
}

func (ps Presets) merge(data []byte) error {
	var f presetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse presets: %w", err)
	}
	for _, p := range f.Presets {
		if err := p.Validate(); err != nil {
			return err
		}
		ps[p.Name] = p
	}
	return nil
}
