package waterfall

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// Presets is a named library of waterfall structures loaded from YAML.
//
// Expected file shape:
//
//	structures:
//	  standard_8_20:
//	    algorithm: american
//	    tiers:
//	      - type: return_of_capital
//	      - type: preferred_return
//	        preferred_rate_percent: 8
//	      ...
type Presets struct {
	Structures map[string]Structure `yaml:"structures"`
}

// LoadPresets reads and validates a presets file.
func LoadPresets(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read waterfall presets %s: %w", path, err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes YAML presets and validates every structure.
func ParsePresets(data []byte) (*Presets, error) {
	var p Presets
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse waterfall presets: %w", err)
	}
	if p.Structures == nil {
		p.Structures = map[string]Structure{}
	}
	for name, s := range p.Structures {
		if s.Name == "" {
			s.Name = name
			p.Structures[name] = s
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return &p, nil
}

// Get returns a copy of the named structure.
func (p *Presets) Get(name string) (Structure, bool) {
	if p == nil {
		return Structure{}, false
	}
	s, ok := p.Structures[name]
	if !ok {
		return Structure{}, false
	}
	s.Tiers = append([]TierSpec(nil), s.Tiers...)
	return s, true
}

// Names lists preset names in sorted order.
func (p *Presets) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Structures))
	for n := range p.Structures {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
