package mathx

import "math"

// NaNProd multiplies the non-NaN elements of vs. An all-NaN (or empty)
// input yields 1.0, matching nan-aware products elsewhere in the system.
func NaNProd(vs []float64) float64 {
	p := 1.0
	for _, v := range vs {
		if !math.IsNaN(v) {
			p *= v
		}
	}
	return p
}
