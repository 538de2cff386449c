package types

import (
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Static system configuration (YAML)
// -----------------------------------------------------------------------------

// BladeKind selects the behaviour of one blade.
type BladeKind string

const (
	// BladeInOut carries exactly one filter; it is either in or out.
	BladeInOut BladeKind = "inout"
	// BladeLadder carries several filters; exactly one (or none) is in.
	BladeLadder BladeKind = "ladder"
)

// BladeConfig describes one physical blade. Count and kind are fixed for
// the process lifetime; materials and thicknesses are runtime settings and
// the values here are only first-boot defaults.
type BladeConfig struct {
	Index   int            `yaml:"index"`
	Kind    BladeKind      `yaml:"kind"`
	Filters []MaterialSpec `yaml:"filters"`
}

// MotionConfig bounds the sequencer.
type MotionConfig struct {
	StepInterval time.Duration `yaml:"step_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SystemConfig is the static configuration loaded at startup.
type SystemConfig struct {
	Name string `yaml:"name"`

	// MaterialOrder enables the material-priority solver when non-empty:
	// first entry is inserted first. Only valid for all-inout systems.
	MaterialOrder []string `yaml:"material_order,omitempty"`

	Blades []BladeConfig `yaml:"blades"`

	// TablesDir holds one .nff scattering-factor file per material formula.
	TablesDir string `yaml:"tables_dir"`

	// AutosavePath is where operator settings are persisted.
	AutosavePath string `yaml:"autosave_path"`

	Motion MotionConfig `yaml:"motion"`

	// MetricsAddr enables the Prometheus listener when non-empty.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	BusQueueLen int `yaml:"bus_queue_len,omitempty"`
}

// ApplyDefaults fills unset values.
func (c *SystemConfig) ApplyDefaults() {
	if c.Motion.StepInterval <= 0 {
		c.Motion.StepInterval = 100 * time.Millisecond
	}
	if c.Motion.Timeout <= 0 {
		c.Motion.Timeout = 30 * time.Second
	}
	if c.BusQueueLen <= 0 {
		c.BusQueueLen = 16
	}
	for i := range c.Blades {
		if c.Blades[i].Kind == "" {
			c.Blades[i].Kind = BladeInOut
		}
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *SystemConfig) Validate() error {
	if len(c.Blades) == 0 {
		return fmt.Errorf("config: no blades defined")
	}
	for i, b := range c.Blades {
		if b.Index != i {
			return fmt.Errorf("config: blade %d has index %d; indices must be dense and ordered", i, b.Index)
		}
		switch b.Kind {
		case BladeInOut:
			if len(b.Filters) != 1 {
				return fmt.Errorf("config: inout blade %d must have exactly 1 filter, has %d", i, len(b.Filters))
			}
		case BladeLadder:
			if len(b.Filters) == 0 {
				return fmt.Errorf("config: ladder blade %d has no filters", i)
			}
		default:
			return fmt.Errorf("config: blade %d has unknown kind %q", i, b.Kind)
		}
		for k, f := range b.Filters {
			if f.Formula == "" {
				return fmt.Errorf("config: blade %d filter %d has no material", i, k)
			}
			if f.ThicknessUm <= 0 {
				return fmt.Errorf("config: blade %d filter %d has non-positive thickness", i, k)
			}
		}
	}
	if len(c.MaterialOrder) > 0 {
		for _, b := range c.Blades {
			if b.Kind != BladeInOut {
				return fmt.Errorf("config: material_order requires all blades to be inout; blade %d is %q", b.Index, b.Kind)
			}
		}
	}
	if c.TablesDir == "" {
		return fmt.Errorf("config: tables_dir is required")
	}
	return nil
}

// Ladder reports whether any blade is a ladder blade.
func (c *SystemConfig) Ladder() bool {
	for _, b := range c.Blades {
		if b.Kind == BladeLadder {
			return true
		}
	}
	return false
}
