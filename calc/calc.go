// Package calc finds discrete filter configurations bracketing a desired
// beam transmission. No bus or controller logic lives here.
package calc

import (
	"fmt"
	"math"
	"sort"

	"attenuator-go/errcode"
	"attenuator-go/types"
)

// MaxEnumBlades bounds the 2^n binary enumeration. Real systems carry at
// most ~20 blades; beyond this the table stops fitting in memory.
const MaxEnumBlades = 24

// Config is one in/out assignment over the solver's input basis and its
// aggregate transmission. States are 1 (inserted) or 0 (out), in basis
// order.
type Config struct {
	States       []int
	Transmission float64
}

// nanProd multiplies the basis entries selected by mask, skipping NaN
// entries. An empty or all-NaN selection yields 1.0.
func nanProd(basis []float64, mask uint) float64 {
	p := 1.0
	n := len(basis)
	for i := 0; i < n; i++ {
		if mask&(1<<uint(n-1-i)) == 0 {
			continue
		}
		if v := basis[i]; !math.IsNaN(v) {
			p *= v
		}
	}
	return p
}

// FindConfigs enumerates every in/out combination over the transmission
// basis and returns the configurations bracketing tDes: the closest at or
// below (floor) and the closest at or above (ceiling).
//
// Basis entries of NaN mark blades excluded from consideration (inactive,
// stuck, or already accounted for); they contribute nothing to the product
// in either state.
//
// The enumerated table is sorted by (transmission, enumeration index), so
// results are fully deterministic: among combinations with the same
// transmission the lower enumeration index wins. When no combination lies
// on one side of tDes, that side collapses to the nearest available
// extreme.
func FindConfigs(basis []float64, tDes float64) (low, high Config, err error) {
	n := len(basis)
	if n > MaxEnumBlades {
		return Config{}, Config{}, fmt.Errorf("calc: %d blades exceeds enumeration limit %d", n, MaxEnumBlades)
	}

	total := 1 << uint(n)
	type entry struct {
		mask uint
		t    float64
	}
	table := make([]entry, total)
	for mask := 0; mask < total; mask++ {
		table[mask] = entry{mask: uint(mask), t: nanProd(basis, uint(mask))}
	}

	sort.SliceStable(table, func(i, j int) bool {
		if table[i].t != table[j].t {
			return table[i].t < table[j].t
		}
		return table[i].mask < table[j].mask
	})

	// Duplicate transmissions are the norm with identical blades, so the
	// bracket cannot step by table index: the ceiling is the first entry at
	// or above tDes, the floor is the first entry of the run holding the
	// largest value at or below it. Within a run the lowest enumeration
	// index sorts first and wins.
	idxHigh := sort.Search(total, func(i int) bool { return table[i].t >= tDes })
	idxLow := -1
	switch {
	case idxHigh < total && table[idxHigh].t == tDes:
		idxLow = idxHigh
	case idxHigh > 0:
		idxLow = idxHigh - 1
		for idxLow > 0 && table[idxLow-1].t == table[idxLow].t {
			idxLow--
		}
	}
	if idxLow < 0 {
		idxLow = idxHigh
	}
	if idxHigh == total {
		idxHigh = idxLow
	}

	return toConfig(basis, table[idxLow].mask), toConfig(basis, table[idxHigh].mask), nil
}

func toConfig(basis []float64, mask uint) Config {
	n := len(basis)
	states := make([]int, n)
	for i := 0; i < n; i++ {
		if mask&(1<<uint(n-1-i)) != 0 {
			states[i] = 1
		}
	}
	return Config{States: states, Transmission: nanProd(basis, mask)}
}

// BestConfig returns the floor or ceiling configuration per mode.
func BestConfig(basis []float64, tDes float64, mode types.CalcMode) (Config, error) {
	if !mode.Valid() {
		return Config{}, &errcode.E{C: errcode.InvalidPayload, Op: "calc.BestConfig",
			Msg: fmt.Sprintf("unknown calc mode %q", mode)}
	}
	low, high, err := FindConfigs(basis, tDes)
	if err != nil {
		return Config{}, err
	}
	if mode == types.ModeFloor {
		return low, nil
	}
	return high, nil
}
