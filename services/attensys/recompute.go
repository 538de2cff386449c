package attensys

import (
	"math"
	"time"

	"attenuator-go/absorb"
	"attenuator-go/calc"
	"attenuator-go/types"
	"attenuator-go/x/mathx"
)

// solveInput is the immutable snapshot a solve runs over. Taken inside the
// loop; read only by the solve goroutine.
type solveInput struct {
	energy        float64
	desired       float64
	mode          types.CalcMode
	materialOrder []string
	ladder        bool
	blades        []bladeState
	actual        []types.BladeState
}

// solveResult carries everything a solve produced back into the loop.
type solveResult struct {
	err      error
	best     types.Configuration
	best3    float64
	filters  [][]filterState
	energy   float64
	desired  float64
	mode     types.CalcMode
	duration time.Duration
}

func (s *Service) snapshot() solveInput {
	st := &s.state
	in := solveInput{
		energy:        st.energy(),
		desired:       st.desired,
		mode:          st.mode,
		materialOrder: s.cfg.MaterialOrder,
		ladder:        s.cfg.Ladder(),
		blades:        make([]bladeState, len(st.blades)),
		actual:        make([]types.BladeState, len(st.actual.States)),
	}
	for i, b := range st.blades {
		filters := make([]filterState, len(b.filters))
		copy(filters, b.filters)
		in.blades[i] = bladeState{kind: b.kind, active: b.active, stuck: b.stuck, filters: filters}
	}
	copy(in.actual, st.actual.States)
	return in
}

// solve runs off-loop and reports on resultCh. The table source is safe for
// concurrent use; everything else is owned by the snapshot.
func (s *Service) solve(in solveInput) {
	start := time.Now()
	res := doSolve(s.tables, in)
	res.duration = time.Since(start)

	select {
	case s.resultCh <- res:
	case <-s.done:
	}
}

func doSolve(tables absorb.Source, in solveInput) solveResult {
	res := solveResult{energy: in.energy, desired: in.desired, mode: in.mode}

	filters, err := refreshFilters(tables, in)
	if err != nil {
		res.err = err
		return res
	}
	res.filters = filters

	// Blades out of play are excluded from the search. A blade stuck in the
	// beam still absorbs: its fixed transmission divides the target before
	// the search and multiplies back into the result.
	committed := 1.0
	fixed := make([]types.BladeState, len(in.blades))
	enumerate := make([]bool, len(in.blades))
	for i, b := range in.blades {
		switch {
		case b.stuck == types.StuckIn:
			pos := stuckPosition(in.actual[i], len(filters[i]))
			fixed[i] = types.StateIn(pos)
			if t := filters[i][pos].transmission; !math.IsNaN(t) {
				committed *= t
			}
		case b.stuck == types.StuckOut || !b.active:
			fixed[i] = types.StateOut
		default:
			enumerate[i] = true
		}
	}
	target := in.desired / committed

	var (
		states       []types.BladeState
		transmission float64
	)
	if in.ladder {
		states, transmission, err = solveLadder(in, filters, enumerate, target)
	} else {
		states, transmission, err = solveBinary(in, filters, enumerate, target)
	}
	if err != nil {
		res.err = err
		return res
	}

	best := types.NewConfiguration(len(in.blades))
	for i := range in.blades {
		if enumerate[i] {
			best.States[i] = states[i]
		} else {
			best.States[i] = fixed[i]
		}
	}
	best.Transmission = transmission * committed
	res.best = best

	var t3 []float64
	for i, bs := range best.States {
		if pos, ok := bs.Position(); ok {
			t3 = append(t3, filters[i][pos].transmission3)
		}
	}
	res.best3 = mathx.NaNProd(t3)
	return res
}

// refreshFilters recomputes every filter's transmission at the snapshot
// energy, plus the third harmonic and the closest tabulated row.
func refreshFilters(tables absorb.Source, in solveInput) ([][]filterState, error) {
	out := make([][]filterState, len(in.blades))
	for i, b := range in.blades {
		out[i] = make([]filterState, len(b.filters))
		for k, f := range b.filters {
			table, err := tables.Table(f.spec.Formula)
			if err != nil {
				return nil, err
			}
			ev, idx := table.ClosestEnergy(in.energy)
			out[i][k] = filterState{
				spec:          f.spec,
				transmission:  table.Transmission(in.energy, f.spec.ThicknessM()),
				transmission3: table.Transmission(3*in.energy, f.spec.ThicknessM()),
				closestEnergy: ev,
				closestIndex:  idx,
			}
		}
	}
	return out, nil
}

// stuckPosition picks the filter position a stuck-in blade holds: the
// telemetry position when known, otherwise the first filter.
func stuckPosition(actual types.BladeState, nFilters int) int {
	if pos, ok := actual.Position(); ok && pos < nFilters {
		return pos
	}
	return 0
}

// solveBinary handles all-inout systems: one basis entry per blade, NaN for
// blades excluded from the search.
func solveBinary(in solveInput, filters [][]filterState, enumerate []bool, target float64) ([]types.BladeState, float64, error) {
	basis := make([]float64, len(in.blades))
	materials := make([]string, len(in.blades))
	for i := range in.blades {
		materials[i] = filters[i][0].spec.Formula
		if enumerate[i] {
			basis[i] = filters[i][0].transmission
		} else {
			basis[i] = math.NaN()
		}
	}

	var (
		cfg calc.Config
		err error
	)
	if len(in.materialOrder) > 0 {
		cfg, err = calc.BestConfigWithMaterialPriority(materials, basis, in.materialOrder, target, in.mode)
	} else {
		cfg, err = calc.BestConfig(basis, target, in.mode)
	}
	if err != nil {
		return nil, 0, err
	}

	states := make([]types.BladeState, len(in.blades))
	for i := range states {
		if cfg.States[i] != 0 {
			states[i] = types.StateIn(0)
		} else {
			states[i] = types.StateOut
		}
	}
	return states, cfg.Transmission, nil
}

// solveLadder handles systems with at least one multi-position blade.
// Single-filter blades participate as one-position ladders. Only blades in
// the search are enumerated; the caller overlays excluded blades.
func solveLadder(in solveInput, filters [][]filterState, enumerate []bool, target float64) ([]types.BladeState, float64, error) {
	var (
		idx    []int
		option [][]float64
	)
	for i := range in.blades {
		if !enumerate[i] {
			continue
		}
		ts := make([]float64, len(filters[i]))
		for k, f := range filters[i] {
			ts[k] = f.transmission
		}
		idx = append(idx, i)
		option = append(option, ts)
	}
	if len(idx) == 0 {
		return make([]types.BladeState, len(in.blades)), 1.0, nil
	}

	cfg, err := calc.BestLadderConfig(option, target, in.mode)
	if err != nil {
		return nil, 0, err
	}

	states := make([]types.BladeState, len(in.blades))
	for k, i := range idx {
		if pos := cfg.Positions[k]; pos == calc.PositionOut {
			states[i] = types.StateOut
		} else {
			states[i] = types.StateIn(pos)
		}
	}
	return states, cfg.Transmission, nil
}
