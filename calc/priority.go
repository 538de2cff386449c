package calc

import (
	"fmt"
	"math"
	"strings"

	"attenuator-go/errcode"
	"attenuator-go/types"
)

// CheckMaterials verifies that the set of blade materials and the priority
// list describe the same materials. A mismatch means a blade was loaded
// with a material the protection ordering knows nothing about (or the
// ordering names a material no blade carries); solving in that situation
// could expose a fragile filter to full beam.
func CheckMaterials(materials, order []string) error {
	have := map[string]bool{}
	for _, m := range materials {
		have[m] = true
	}
	want := map[string]bool{}
	for _, m := range order {
		want[m] = true
	}

	var bad []string
	for m := range have {
		if !want[m] {
			bad = append(bad, m)
		}
	}
	for m := range want {
		if !have[m] {
			bad = append(bad, m)
		}
	}
	if len(bad) > 0 {
		return &errcode.E{
			C:   errcode.Misconfigured,
			Op:  "calc.CheckMaterials",
			Msg: "materials not matched with priority order: " + strings.Join(bad, ","),
		}
	}
	return nil
}

// BestConfigWithMaterialPriority solves the binary case per material group
// in priority order. Each group targets the remaining transmission
// (tDes divided by what higher-priority groups already absorb) and commits
// its result. Iteration stops after the first group whose searchable blades
// are not all inserted: lower-priority materials must never enter the beam
// until every higher-priority blade that can be commanded is in.
func BestConfigWithMaterialPriority(
	materials []string,
	basis []float64,
	order []string,
	tDes float64,
	mode types.CalcMode,
) (Config, error) {
	if len(materials) != len(basis) {
		return Config{}, fmt.Errorf("calc: %d materials for %d transmissions", len(materials), len(basis))
	}
	if err := CheckMaterials(materials, order); err != nil {
		return Config{}, err
	}

	final := Config{
		States:       make([]int, len(basis)),
		Transmission: 1.0,
	}

	for _, material := range order {
		var idx []int
		var sub []float64
		for i, m := range materials {
			if m == material {
				idx = append(idx, i)
				sub = append(sub, basis[i])
			}
		}
		if len(idx) == 0 {
			continue
		}

		partial, err := BestConfig(sub, tDes/final.Transmission, mode)
		if err != nil {
			return Config{}, err
		}

		final.Transmission *= partial.Transmission
		for k, i := range idx {
			final.States[i] = partial.States[k]
		}

		// NaN entries are blades the caller excluded from the search; they
		// cannot be commanded, so they never gate the walk down the
		// priority list. A blade stuck in the beam is already folded into
		// the target.
		fullyIn := true
		for k, t := range sub {
			if math.IsNaN(t) {
				continue
			}
			if partial.States[k] == 0 {
				fullyIn = false
				break
			}
		}
		if !fullyIn {
			// This group alone brackets the target; anything further down
			// the priority list stays out.
			break
		}
	}

	return final, nil
}
