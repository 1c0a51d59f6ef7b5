package prob

import (
	"math"
	"testing"
)

func newTestTable(t *testing.T) *MemTable {
	t.Helper()
	rows := map[Key]Probs{}
	for ttc := 60; ttc <= 600; ttc += TTCStep {
		for buffer := 0; buffer <= 500; buffer += BufferStep {
			for mom := -20; mom <= 20; mom++ {
				// Synthetic but monotone: more buffer → higher prob.
				p := 50 + float64(buffer)/500*49
				rows[Key{ttc, buffer, mom}] = Probs{Positive: p, Negative: p - 1}
			}
		}
	}
	tbl, err := NewMemTable(rows)
	if err != nil {
		t.Fatalf("NewMemTable: %v", err)
	}
	return tbl
}

func TestLookupRoundsToGrid(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	// 123 s rounds to 125; buffer 47 rounds to 50.
	got, ok := tbl.Lookup(123, 47, 0)
	if !ok {
		t.Fatal("lookup miss")
	}
	want, _ := tbl.Lookup(125, 50, 0)
	if got != want {
		t.Errorf("rounded lookup = %+v, want %+v", got, want)
	}
}

func TestLookupClampsToDomain(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	// TTC beyond the table max clamps to 600; momentum beyond ±20 clamps.
	got, ok := tbl.Lookup(99999, 100, 500)
	if !ok {
		t.Fatal("clamped lookup miss")
	}
	want, _ := tbl.Lookup(600, 100, 20)
	if got != want {
		t.Errorf("clamped lookup = %+v, want %+v", got, want)
	}

	got, ok = tbl.Lookup(1, 100, -500)
	if !ok {
		t.Fatal("clamped lookup miss")
	}
	want, _ = tbl.Lookup(60, 100, -20)
	if got != want {
		t.Errorf("clamped lookup = %+v, want %+v", got, want)
	}
}

func TestLookupRampBelowQuarterStep(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	// At zero buffer the ramp starts at exactly 100%.
	got, ok := tbl.Lookup(600, 0, 0)
	if !ok {
		t.Fatal("ramp lookup miss")
	}
	if got.Positive != 100 || got.Negative != 100 {
		t.Errorf("zero-buffer probs = %+v, want 100/100", got)
	}

	// Inside the ramp region the value interpolates toward the first step.
	first, _ := tbl.Lookup(600, BufferStep, 0)
	got, _ = tbl.Lookup(600, 2, 0)
	frac := 2.0 / BufferStep
	wantPos := 100 + (first.Positive-100)*frac
	if math.Abs(got.Positive-wantPos) > 1e-9 {
		t.Errorf("ramp positive = %v, want %v", got.Positive, wantPos)
	}
	if got.Positive <= first.Positive {
		t.Error("ramp value should exceed the first-step value")
	}
}

func TestQuarterStepBoundaryUsesGrid(t *testing.T) {
	t.Parallel()
	tbl := newTestTable(t)

	// At and above the quarter step the grid value applies, not the ramp.
	got, ok := tbl.Lookup(600, quarterStep, 0)
	if !ok {
		t.Fatal("boundary lookup miss")
	}
	// quarterStep (2.5 pts) rounds down to the zero-buffer grid cell, whose
	// synthetic value is 50/49 — distinctly not the 100% ramp origin.
	if got.Positive != 50 || got.Negative != 49 {
		t.Errorf("boundary lookup = %+v, want grid cell {50 49}", got)
	}
}
