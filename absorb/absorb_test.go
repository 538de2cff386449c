package absorb

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	density, weight, err := MaterialProperties("Si")
	if err != nil {
		t.Fatal(err)
	}
	table, err := BuildTable("Si",
		[]float64{1000, 2000, 3000, 4000},
		[]float64{4.0, 2.0, 1.0, 0.5},
		density, weight)
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func TestClosestEnergy(t *testing.T) {
	table := testTable(t)

	cases := []struct {
		energy  float64
		wantEV  float64
		wantIdx int
	}{
		{1000, 1000, 0},
		{1400, 1000, 0},
		{1600, 2000, 1},
		{1500, 1000, 0}, // midpoint ties to the lower row
		{3999, 4000, 3},
		{100, 1000, 0},    // below range clamps to first
		{90000, 4000, 3},  // above range clamps to last
		{2500.1, 3000, 2}, // just past a midpoint
	}
	for _, c := range cases {
		ev, idx := table.ClosestEnergy(c.energy)
		if ev != c.wantEV || idx != c.wantIdx {
			t.Errorf("ClosestEnergy(%v) = (%v, %d), want (%v, %d)",
				c.energy, ev, idx, c.wantEV, c.wantIdx)
		}
	}
}

func TestTransmissionBounds(t *testing.T) {
	table := testTable(t)

	// Zero thickness passes everything; thicker absorbs more.
	if got := table.Transmission(2000, 0); got != 1.0 {
		t.Errorf("zero thickness: got %v, want 1.0", got)
	}
	thin := table.Transmission(2000, 10e-6)
	thick := table.Transmission(2000, 100e-6)
	if !(0 < thick && thick < thin && thin < 1) {
		t.Errorf("expected 0 < %v < %v < 1", thick, thin)
	}
}

func TestTransmissionRisesWithEnergy(t *testing.T) {
	table := testTable(t)

	// f2/E falls with energy in this table, so transmission must rise.
	prev := 0.0
	for _, ev := range []float64{1000, 2000, 3000, 4000} {
		tr := table.Transmission(ev, 50e-6)
		if tr <= prev {
			t.Errorf("transmission at %v eV = %v, not above %v", ev, tr, prev)
		}
		prev = tr
	}
}

func TestBuildTableRejectsBadInput(t *testing.T) {
	if _, err := BuildTable("Si", []float64{1}, []float64{}, 1, 1); err == nil {
		t.Error("mismatched lengths accepted")
	}
	if _, err := BuildTable("Si", nil, nil, 1, 1); err == nil {
		t.Error("empty table accepted")
	}
	if _, err := BuildTable("Si", []float64{-5}, []float64{1}, 1, 1); err == nil {
		t.Error("negative energy accepted")
	}
}

const siNFF = `E(eV)	f1	f2
1000.	0.9	4.0
2000.	1.1	2.0
3000.	1.2	1.0
`

func TestStoreLoadsAndCaches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "si.nff"), []byte(siNFF), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	table, err := store.Table("Si")
	if err != nil {
		t.Fatal(err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table.Rows))
	}

	again, err := store.Table("Si")
	if err != nil {
		t.Fatal(err)
	}
	if again != table {
		t.Error("expected cached table instance")
	}
}

func TestStoreUnknownMaterial(t *testing.T) {
	store, err := NewStore(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.Table("Unobtainium"); err == nil {
		t.Error("expected error for unknown material")
	}
}

func TestStoreReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "si.nff")
	if err := os.WriteFile(path, []byte(siNFF), 0o644); err != nil {
		t.Fatal(err)
	}

	store, err := NewStore(dir, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.Run(ctx)

	first, err := store.Table("Si")
	if err != nil {
		t.Fatal(err)
	}

	updated := siNFF + "4000.\t1.3\t0.5\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	// The watcher invalidates asynchronously; poll for the reload.
	deadline := time.Now().Add(2 * time.Second)
	for {
		table, err := store.Table("Si")
		if err != nil {
			t.Fatal(err)
		}
		if table != first && len(table.Rows) == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("table was not reloaded after file change")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestParseNFFSkipsHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.nff")
	if err := os.WriteFile(path, []byte("E(eV)\tf1\tf2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := parseNFF(path); err == nil {
		t.Error("header-only file accepted")
	}
}

func TestTransmissionNeverNaN(t *testing.T) {
	table := testTable(t)
	for _, ev := range []float64{0.1, 1000, 25000} {
		if v := table.Transmission(ev, 30e-6); math.IsNaN(v) {
			t.Errorf("NaN transmission at %v eV", ev)
		}
	}
}
