package fusion

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TuningBundle holds deployment-tunable overrides, loadable from a YAML
// file. Nil pointer fields mean "not set in YAML" — they do not override
// the VolumeConfig they are applied to.
type TuningBundle struct {
	PoolCapacity         *int  `yaml:"pool_capacity"`
	HashCapacity         *int  `yaml:"hash_capacity"`
	MaxTrianglesPerCycle *int  `yaml:"max_triangles_per_cycle"`
	SkipLowConfidence    *bool `yaml:"skip_low_confidence"`
}

// LoadTuningBundle reads and parses a YAML tuning file. Uses strict
// parsing: unrecognized keys (typos) are rejected.
func LoadTuningBundle(path string) (*TuningBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tuning bundle: %w", err)
	}
	var bundle TuningBundle
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("parsing tuning bundle: %w", err)
	}
	return &bundle, nil
}

// Apply overlays the set fields onto cfg and validates the result.
func (b *TuningBundle) Apply(cfg VolumeConfig) (VolumeConfig, error) {
	if b.PoolCapacity != nil {
		cfg.PoolCapacity = *b.PoolCapacity
	}
	if b.HashCapacity != nil {
		cfg.HashCapacity = *b.HashCapacity
	}
	if b.MaxTrianglesPerCycle != nil {
		cfg.MaxTrianglesPerCycle = *b.MaxTrianglesPerCycle
	}
	if b.SkipLowConfidence != nil {
		cfg.SkipLowConfidence = *b.SkipLowConfidence
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("applying tuning bundle: %w", err)
	}
	return cfg, nil
}
