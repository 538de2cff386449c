package absorb

import "fmt"

// properties carries the constants needed to turn scattering factors into
// absorption coefficients.
type properties struct {
	DensityGPerM3 float64
	AtomicWeight  float64 // g/mol
}

// materialData covers the filter materials fielded on solid attenuators.
// Carbon is listed at diamond density; the blades are CVD diamond, not
// graphite.
var materialData = map[string]properties{
	"C":  {DensityGPerM3: 3.51e6, AtomicWeight: 12.011},
	"Si": {DensityGPerM3: 2.3296e6, AtomicWeight: 28.085},
	"Al": {DensityGPerM3: 2.699e6, AtomicWeight: 26.982},
	"Ti": {DensityGPerM3: 4.506e6, AtomicWeight: 47.867},
	"Cu": {DensityGPerM3: 8.96e6, AtomicWeight: 63.546},
	"Zr": {DensityGPerM3: 6.52e6, AtomicWeight: 91.224},
	"W":  {DensityGPerM3: 19.3e6, AtomicWeight: 183.84},
}

// MaterialProperties returns density (g/m^3) and atomic weight (g/mol) for
// a supported formula.
func MaterialProperties(formula string) (density, atomicWeight float64, err error) {
	p, ok := materialData[formula]
	if !ok {
		return 0, 0, fmt.Errorf("absorb: no material data for %q", formula)
	}
	return p.DensityGPerM3, p.AtomicWeight, nil
}
