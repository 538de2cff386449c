package attensys

import (
	"math"

	"attenuator-go/errcode"
	"attenuator-go/types"
	"attenuator-go/x/mathx"
	"attenuator-go/x/timex"
)

// filterState is the last computed absorption data for one filter.
type filterState struct {
	spec          types.MaterialSpec
	transmission  float64 // at the last computed energy
	transmission3 float64 // at three times that energy
	closestEnergy float64
	closestIndex  int
}

func newFilterState(spec types.MaterialSpec) filterState {
	return filterState{
		spec:          spec,
		transmission:  math.NaN(),
		transmission3: math.NaN(),
		closestEnergy: math.NaN(),
		closestIndex:  -1,
	}
}

// bladeState is the runtime view of one blade.
type bladeState struct {
	kind    types.BladeKind
	active  bool
	stuck   types.StuckState
	filters []filterState
}

// systemState is owned by the service loop. Nothing outside the loop reads
// or writes it.
type systemState struct {
	desired      float64
	mode         types.CalcMode
	source       types.EnergySource
	energyActual float64
	energyCustom float64
	linkUp       bool

	blades []bladeState
	actual types.Configuration
	best   types.Configuration
}

func newSystemState(cfg *types.SystemConfig) systemState {
	blades := make([]bladeState, len(cfg.Blades))
	for i, b := range cfg.Blades {
		filters := make([]filterState, len(b.Filters))
		for k, f := range b.Filters {
			filters[k] = newFilterState(f)
		}
		blades[i] = bladeState{
			kind:    b.Kind,
			active:  true,
			stuck:   types.NotStuck,
			filters: filters,
		}
	}
	return systemState{
		desired:      0.5,
		mode:         types.ModeFloor,
		source:       types.SourceActual,
		energyActual: math.NaN(),
		energyCustom: math.NaN(),
		linkUp:       true,
		blades:       blades,
		actual:       types.NewConfiguration(len(cfg.Blades)),
		best:         types.NewConfiguration(len(cfg.Blades)),
	}
}

// energy returns the photon energy the solver should use, per source.
func (st *systemState) energy() float64 {
	if st.source == types.SourceCustom {
		return st.energyCustom
	}
	return st.energyActual
}

// -----------------------------------------------------------------------------
// Output publication
// -----------------------------------------------------------------------------

func (s *Service) publishFault(err error) {
	s.conn.PublishRetained(TopicFault, types.Fault{
		Code:    string(errcode.Of(err)),
		Message: err.Error(),
		TSms:    timex.NowMs(),
	})
}

func (s *Service) clearFault() {
	s.conn.PublishRetained(TopicFault, nil)
}

// publishActual republishes everything derived from motor telemetry.
func (s *Service) publishActual() {
	st := &s.state

	states := make([]types.BladeState, len(st.actual.States))
	copy(states, st.actual.States)
	s.conn.PublishRetained(TopicActiveConfig, states)
	s.conn.PublishRetained(TopicActiveConfigBitmask, st.actual.Bitmask())

	moving := make([]bool, len(st.actual.States))
	for i, bs := range st.actual.States {
		moving[i] = bs.IsMoving()
	}
	s.conn.PublishRetained(TopicFilterMoving, moving)
	s.conn.PublishRetained(TopicFilterMovingBitmask, types.Bitmask(moving))

	actual, actual3 := st.actualTransmission()
	s.conn.PublishRetained(TopicTransmissionActual, actual)
	s.conn.PublishRetained(TopicTransmissionActual3, actual3)
}

// actualTransmission aggregates the measured configuration: the product of
// the inserted filters' last computed transmissions. Filters without data
// yet are skipped, matching the solver's handling of unknown blades.
func (st *systemState) actualTransmission() (fundamental, thirdHarmonic float64) {
	var t, t3 []float64
	for i, bs := range st.actual.States {
		pos, ok := bs.Position()
		if !ok || pos >= len(st.blades[i].filters) {
			continue
		}
		f := st.blades[i].filters[pos]
		t = append(t, f.transmission)
		t3 = append(t3, f.transmission3)
	}
	return mathx.NaNProd(t), mathx.NaNProd(t3)
}

// publishBest republishes everything produced by a successful solve.
func (s *Service) publishBest(res solveResult) {
	st := &s.state

	states := make([]types.BladeState, len(st.best.States))
	copy(states, st.best.States)
	s.conn.PublishRetained(TopicBestConfig, states)
	s.conn.PublishRetained(TopicBestConfigBitmask, st.best.Bitmask())
	s.conn.PublishRetained(TopicBestConfigError, st.best.Transmission-res.desired)

	s.conn.PublishRetained(TopicCalculatedTransmission, st.best.Transmission)
	s.conn.PublishRetained(TopicCalculatedTransmission3, res.best3)

	s.conn.PublishRetained(TopicLastEnergy, res.energy)
	s.conn.PublishRetained(TopicLastMode, string(res.mode))
	s.conn.PublishRetained(TopicLastTransmission, res.desired)

	for i, filters := range res.filters {
		for k, f := range filters {
			s.conn.PublishRetained(FilterOutput(i, k, "transmission"), f.transmission)
			s.conn.PublishRetained(FilterOutput(i, k, "transmission_3omega"), f.transmission3)
			s.conn.PublishRetained(FilterOutput(i, k, "closest_energy"), f.closestEnergy)
			s.conn.PublishRetained(FilterOutput(i, k, "closest_index"), f.closestIndex)
		}
	}
}
