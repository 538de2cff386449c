package types

import (
	"math"
	"strconv"
)

// -----------------------------------------------------------------------------
// Blade states
// -----------------------------------------------------------------------------

// BladeState is the discrete state of one blade. The encoding matches the
// raw motor state word: 0 = unknown/in motion, 1 = out, 2+k = filter
// position k inserted. Binary blades only ever use position 0.
type BladeState int

const (
	StateUnknown BladeState = 0
	StateOut     BladeState = 1
	stateInBase  BladeState = 2
)

// StateIn returns the state for filter position k (k >= 0).
func StateIn(position int) BladeState {
	if position < 0 {
		return StateOut
	}
	return stateInBase + BladeState(position)
}

// IsInserted reports whether any filter position is in the beam.
func (s BladeState) IsInserted() bool { return s >= stateInBase }

// IsMoving reports whether the blade is between positions.
func (s BladeState) IsMoving() bool { return s == StateUnknown }

// Position returns the inserted filter position, or ok=false when the blade
// is out or moving.
func (s BladeState) Position() (int, bool) {
	if !s.IsInserted() {
		return 0, false
	}
	return int(s - stateInBase), true
}

func (s BladeState) String() string {
	switch {
	case s == StateUnknown:
		return "moving"
	case s == StateOut:
		return "out"
	default:
		return "in[" + strconv.Itoa(int(s-stateInBase)) + "]"
	}
}

// -----------------------------------------------------------------------------
// Modes and sources
// -----------------------------------------------------------------------------

// CalcMode selects the floor or ceiling configuration.
type CalcMode string

const (
	ModeFloor   CalcMode = "Floor"
	ModeCeiling CalcMode = "Ceiling"
)

func (m CalcMode) Valid() bool { return m == ModeFloor || m == ModeCeiling }

// EnergySource selects where the photon energy comes from.
type EnergySource string

const (
	SourceActual EnergySource = "Actual"
	SourceCustom EnergySource = "Custom"
)

func (s EnergySource) Valid() bool { return s == SourceActual || s == SourceCustom }

// StuckState marks a blade that cannot be commanded.
type StuckState string

const (
	NotStuck StuckState = "ok"
	StuckOut StuckState = "stuck_out"
	StuckIn  StuckState = "stuck_in"
)

func (s StuckState) Valid() bool {
	return s == NotStuck || s == StuckOut || s == StuckIn
}

// -----------------------------------------------------------------------------
// Configurations
// -----------------------------------------------------------------------------

// Configuration is one full discrete assignment of blade states and its
// aggregate transmission. Produced fresh by the solver or from telemetry;
// never mutated in place.
type Configuration struct {
	States       []BladeState
	Transmission float64
}

func NewConfiguration(n int) Configuration {
	states := make([]BladeState, n)
	for i := range states {
		states[i] = StateUnknown
	}
	return Configuration{States: states, Transmission: math.NaN()}
}

func (c Configuration) Clone() Configuration {
	out := Configuration{
		States:       make([]BladeState, len(c.States)),
		Transmission: c.Transmission,
	}
	copy(out.States, c.States)
	return out
}

// Equal compares blade states only; transmissions are derived values.
func (c Configuration) Equal(o Configuration) bool {
	if len(c.States) != len(o.States) {
		return false
	}
	for i := range c.States {
		if c.States[i] != o.States[i] {
			return false
		}
	}
	return true
}

// Bitmask packs insertion flags into an integer, first blade as the most
// significant bit.
func (c Configuration) Bitmask() int {
	bits := make([]bool, len(c.States))
	for i, s := range c.States {
		bits[i] = s.IsInserted()
	}
	return Bitmask(bits)
}

// Bitmask packs a flag array into an integer, first element as the most
// significant bit.
func Bitmask(bits []bool) int {
	out := 0
	for _, b := range bits {
		out <<= 1
		if b {
			out |= 1
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Materials
// -----------------------------------------------------------------------------

// MaterialSpec identifies one absorbing element on a blade.
// Thickness is stored in micrometers, as on the operator screens.
type MaterialSpec struct {
	Formula     string  `yaml:"material" json:"material"`
	ThicknessUm float64 `yaml:"thickness_um" json:"thickness_um"`
}

// ThicknessM returns the thickness in meters.
func (m MaterialSpec) ThicknessM() float64 { return m.ThicknessUm * 1e-6 }

// -----------------------------------------------------------------------------
// Bus payloads
// -----------------------------------------------------------------------------

// Fault is the retained payload of a fault topic. A nil retained payload
// means no fault.
type Fault struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	TSms    int64  `json:"ts_ms"`
}

// LinkStatus is the retained payload of an input stream's status topic.
type LinkStatus struct {
	Up   bool  `json:"up"`
	TSms int64 `json:"ts_ms"`
}
