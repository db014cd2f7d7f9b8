// Package dataset orchestrates batches of optimization instances and packs
// their trajectories into NumPy-format files for downstream consumption as
// a machine-learning dataset.
package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/notargets/beso2d/beso"
	"github.com/notargets/beso2d/mesh"
)

// Instance is one parameter record of a batch input file.
type Instance struct {
	ID               int     `yaml:"id"`
	Ny               int     `yaml:"ny"`
	SupportCenter    float64 `yaml:"support_center"`
	SupportHalfWidth float64 `yaml:"support_half_width"`
	LoadCenter       float64 `yaml:"load_center"`
	LoadHalfWidth    float64 `yaml:"load_half_width"`
}

// MeshParams converts the record to optimizer input.
func (in Instance) MeshParams() mesh.Params {
	return mesh.Params{
		Ny:               in.Ny,
		SupportCenter:    in.SupportCenter,
		SupportHalfWidth: in.SupportHalfWidth,
		LoadCenter:       in.LoadCenter,
		LoadHalfWidth:    in.LoadHalfWidth,
	}
}

// Properties optionally overrides the fixed optimization properties for a
// whole batch. Nil fields keep the defaults.
type Properties struct {
	VolumeVariation   *float64 `yaml:"volume_variation"`
	TopologyVariation *float64 `yaml:"topology_variation"`
	FilterRadius      *float64 `yaml:"filter_radius"`
	Patience          *int     `yaml:"patience"`
	Momentum          *float64 `yaml:"momentum"`
}

// Batch is a YAML input file listing the instances of one run.
type Batch struct {
	Properties Properties `yaml:"properties"`
	Instances  []Instance `yaml:"instances"`
}

// Config merges the batch's property overrides over the defaults.
func (b *Batch) Config() beso.Config {
	cfg := beso.DefaultConfig()
	if v := b.Properties.VolumeVariation; v != nil {
		cfg.VolumeVariation = *v
	}
	if v := b.Properties.TopologyVariation; v != nil {
		cfg.TopologyVariation = *v
	}
	if v := b.Properties.FilterRadius; v != nil {
		cfg.FilterRadius = *v
	}
	if v := b.Properties.Patience; v != nil {
		cfg.Patience = *v
	}
	if v := b.Properties.Momentum; v != nil {
		cfg.Momentum = *v
	}
	return cfg
}

// LoadBatch reads and validates a batch input file.
func LoadBatch(path string) (*Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read input: %w", err)
	}
	var b Batch
	if err := yaml.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("dataset: parse input: %w", err)
	}
	if len(b.Instances) == 0 {
		return nil, fmt.Errorf("dataset: input %q lists no instances", path)
	}
	if err := b.Config().Validate(); err != nil {
		return nil, fmt.Errorf("dataset: input %q: %w", path, err)
	}
	for i, in := range b.Instances {
		if in.Ny < 1 {
			return nil, fmt.Errorf("dataset: instance %d: ny must be positive, got %d", i, in.Ny)
		}
	}
	return &b, nil
}
