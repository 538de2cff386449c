package calc

import (
	"fmt"
	"math"
	"sort"

	"attenuator-go/types"
)

// MaxLadderOptions bounds the cartesian enumeration across ladder blades.
// With <= 9 positions per blade and realistic blade counts (4-8) the space
// stays far below this.
const MaxLadderOptions = 1 << 20

// PositionOut marks a blade with no filter inserted in a LadderConfig.
const PositionOut = -1

// LadderConfig is one choice of filter position per blade. Positions are
// indices into the per-blade transmission lists, or PositionOut.
type LadderConfig struct {
	Positions    []int
	Transmission float64
}

// LadderConfigs enumerates every combination of per-blade filter positions
// (each blade may also be out, at transmission 1.0) and returns the floor
// and ceiling configurations around tDes.
//
// bladeTransmissions must hold finite values; inactive filters are excluded
// by the caller before the call. Candidates are ranked by distance to tDes
// with ties going to the lower transmission, then the lower enumeration
// index. When no combination lies on one side of tDes, that side collapses
// to the closest configuration on the other side.
func LadderConfigs(bladeTransmissions [][]float64, tDes float64) (low, high LadderConfig, err error) {
	nBlades := len(bladeTransmissions)
	if nBlades == 0 {
		return LadderConfig{}, LadderConfig{}, fmt.Errorf("calc: no blades")
	}

	total := 1
	for _, ts := range bladeTransmissions {
		total *= len(ts) + 1 // +1 for "out"
		if total > MaxLadderOptions {
			return LadderConfig{}, LadderConfig{}, fmt.Errorf("calc: ladder enumeration exceeds %d options", MaxLadderOptions)
		}
	}

	transmissionAt := func(blade, pos int) float64 {
		if pos == PositionOut {
			return 1.0
		}
		return bladeTransmissions[blade][pos]
	}

	// Decode enumeration index i into per-blade positions, blade 0 varying
	// slowest. Digit 0 is "out", digit k is position k-1.
	decode := func(i int) []int {
		positions := make([]int, nBlades)
		rem := i
		for b := nBlades - 1; b >= 0; b-- {
			radix := len(bladeTransmissions[b]) + 1
			positions[b] = rem%radix - 1
			rem /= radix
		}
		return positions
	}

	ts := make([]float64, total)
	for i := 0; i < total; i++ {
		p := 1.0
		rem := i
		for b := nBlades - 1; b >= 0; b-- {
			radix := len(bladeTransmissions[b]) + 1
			p *= transmissionAt(b, rem%radix-1)
			rem /= radix
		}
		ts[i] = p
	}

	order := make([]int, total)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := math.Abs(ts[order[a]]-tDes), math.Abs(ts[order[b]]-tDes)
		if da != db {
			return da < db
		}
		if ts[order[a]] != ts[order[b]] {
			return ts[order[a]] < ts[order[b]]
		}
		return order[a] < order[b]
	})

	idxLow, idxHigh := -1, -1
	for _, i := range order {
		if idxLow < 0 && ts[i] <= tDes {
			idxLow = i
		}
		if idxHigh < 0 && ts[i] >= tDes {
			idxHigh = i
		}
		if idxLow >= 0 && idxHigh >= 0 {
			break
		}
	}
	// One-sided spaces collapse to the single available extreme.
	if idxLow < 0 {
		idxLow = idxHigh
	}
	if idxHigh < 0 {
		idxHigh = idxLow
	}

	low = LadderConfig{Positions: decode(idxLow), Transmission: ts[idxLow]}
	high = LadderConfig{Positions: decode(idxHigh), Transmission: ts[idxHigh]}
	return low, high, nil
}

// BestLadderConfig returns the floor or ceiling ladder configuration per
// mode.
func BestLadderConfig(bladeTransmissions [][]float64, tDes float64, mode types.CalcMode) (LadderConfig, error) {
	low, high, err := LadderConfigs(bladeTransmissions, tDes)
	if err != nil {
		return LadderConfig{}, err
	}
	if mode == types.ModeFloor {
		return low, nil
	}
	return high, nil
}
