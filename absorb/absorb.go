// Package absorb turns tabulated atomic scattering factors into beam
// transmission values.
//
// Tables follow the CXRO .nff layout: one row per tabulated photon energy
// with scattering factors f1 and f2. The absorption coefficient is derived
// from f2 and the material's density and atomic weight.
//
// References: B.L. Henke, E.M. Gullikson, and J.C. Davis, Atomic Data and
// Nuclear Data Tables 54 no.2, 181-342 (July 1993).
package absorb

import (
	"fmt"
	"math"
	"sort"
)

// Physical constants.
const (
	avogadro        = 6.02214076e23    // 1/mol
	speedOfLight    = 299792458.0      // m/s
	planckEVs       = 4.135667696e-15  // eV*s
	electronRadiusM = 2.8179403262e-15 // m
)

// Row is one tabulated energy point.
type Row struct {
	EnergyEV float64
	F2       float64
	Mu       float64 // absorption coefficient, 1/m
}

// Table holds absorption data for one material, sorted by energy.
type Table struct {
	Formula string
	Rows    []Row
}

// BuildTable derives absorption coefficients from (energy, f2) pairs.
// density is in g/m^3, atomicWeight in g/mol. Rows are sorted by energy.
func BuildTable(formula string, energiesEV, f2 []float64, density, atomicWeight float64) (*Table, error) {
	if len(energiesEV) != len(f2) {
		return nil, fmt.Errorf("absorb: %d energies for %d scattering factors", len(energiesEV), len(f2))
	}
	if len(energiesEV) == 0 {
		return nil, fmt.Errorf("absorb: empty table for %s", formula)
	}
	if density <= 0 || atomicWeight <= 0 {
		return nil, fmt.Errorf("absorb: non-positive density or atomic weight for %s", formula)
	}

	rows := make([]Row, len(energiesEV))
	scale := 2 * electronRadiusM * planckEVs * speedOfLight * density * avogadro / atomicWeight
	for i := range rows {
		ev := energiesEV[i]
		if ev <= 0 {
			return nil, fmt.Errorf("absorb: non-positive energy %g in table for %s", ev, formula)
		}
		rows[i] = Row{
			EnergyEV: ev,
			F2:       f2[i],
			Mu:       scale * f2[i] / ev,
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].EnergyEV < rows[j].EnergyEV })
	return &Table{Formula: formula, Rows: rows}, nil
}

// ClosestEnergy returns the tabulated energy nearest to photonEnergyEV and
// its row index. Energies outside the tabulated range clamp to the first
// or last row.
func (t *Table) ClosestEnergy(photonEnergyEV float64) (float64, int) {
	rows := t.Rows
	i := sort.Search(len(rows), func(k int) bool {
		return rows[k].EnergyEV >= photonEnergyEV
	})
	if i == 0 {
		return rows[0].EnergyEV, 0
	}
	if i == len(rows) {
		last := len(rows) - 1
		return rows[last].EnergyEV, last
	}
	if photonEnergyEV-rows[i-1].EnergyEV <= rows[i].EnergyEV-photonEnergyEV {
		return rows[i-1].EnergyEV, i - 1
	}
	return rows[i].EnergyEV, i
}

// Transmission returns the normalized transmission of a filter of the given
// thickness (meters) at the nearest tabulated energy.
func (t *Table) Transmission(photonEnergyEV, thicknessM float64) float64 {
	_, idx := t.ClosestEnergy(photonEnergyEV)
	return math.Exp(-t.Rows[idx].Mu * thicknessM)
}

// Source resolves materials to absorption tables.
type Source interface {
	Table(formula string) (*Table, error)
}
