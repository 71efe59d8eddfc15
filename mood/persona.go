package mood

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// personaFile mirrors the persona YAML shape:
//
//	mediators:
//	  dopamine: {min: 1, base: 6, max: 11}
//	  serotonin: {base: 7}
//
// Omitted fields fall back to the stock defaults; mediators not listed keep
// the full default level.
type personaFile struct {
	Mediators map[string]personaLevel `yaml:"mediators"`
}

type personaLevel struct {
	Min  *float64 `yaml:"min"`
	Base *float64 `yaml:"base"`
	Max  *float64 `yaml:"max"`
}

// LoadPersona reads persona mediator defaults from a YAML file and returns
// the seeded profile. Unknown mediator names are rejected so that a typo in
// the persona file fails loudly at startup.
func LoadPersona(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona: %w", err)
	}
	return ParsePersona(data)
}

// ParsePersona parses persona YAML content into a profile.
func ParsePersona(data []byte) (Profile, error) {
	var pf personaFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse persona: %w", err)
	}

	profile := DefaultProfile()
	for name, pl := range pf.Mediators {
		lv, ok := profile[name]
		if !ok {
			return nil, fmt.Errorf("parse persona: unknown mediator %q", name)
		}
		if pl.Min != nil {
			lv.Min = *pl.Min
		}
		if pl.Base != nil {
			lv.Base = *pl.Base
		}
		if pl.Max != nil {
			lv.Max = *pl.Max
		}
		if lv.Min > lv.Max {
			return nil, fmt.Errorf("parse persona: mediator %q has min > max", name)
		}
		lv.Base = clamp(lv.Base, lv.Min, lv.Max)
		lv.Current = lv.Base
		profile[name] = lv
	}
	return profile, nil
}
