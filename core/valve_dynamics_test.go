package core

import "testing"

func TestUpdateValvePressuresBands(t *testing.T) {
	n := mustBuiltin(t, "six-valve")
	openPath(t, n)
	_ = n.SetValve(5, false)
	v2, _ := n.Valve(2)
	v5, _ := n.Valve(5)
	v2.InternalPressure = 0
	v5.InternalPressure = 80

	SolveFlow(n)
	UpdateValvePressures(n, true, NoNoise{})

	want := map[int]float64{
		1: 75, // on the path
		2: 75,
		3: 75, // gates a draining source
		4: 75,
		5: 0.5, // closed, clamped down from 80
		6: 75,
	}
	for id, w := range want {
		v, _ := n.Valve(id)
		if v.InternalPressure != w {
			t.Fatalf("valve %d pressure = %v, want %v", id, v.InternalPressure, w)
		}
	}
}

func TestUpdateValvePressuresStagnant(t *testing.T) {
	n := mustBuiltin(t, "two-valve-series")
	_ = n.SetValve(1, true)

	UpdateValvePressures(n, false, NoNoise{})
	v1, _ := n.Valve(1)
	v2, _ := n.Valve(2)
	if v1.InternalPressure != 15 {
		t.Fatalf("open stagnant valve = %v, want 15", v1.InternalPressure)
	}
	if v2.InternalPressure != 0 {
		t.Fatalf("closed valve = %v, want 0", v2.InternalPressure)
	}
}

func TestUpdateValvePressuresStaysInBand(t *testing.T) {
	n := mustBuiltin(t, "two-valve-series")
	openPath(t, n)
	band := n.Constants().FlowingBand
	rnd := NewRandom(3)

	for i := 0; i < 500; i++ {
		UpdateValvePressures(n, true, rnd)
		for _, v := range n.Valves {
			if v.InternalPressure < band.Min || v.InternalPressure > band.Max {
				t.Fatalf("step %d: valve %d at %v outside [%v, %v]", i, v.ID, v.InternalPressure, band.Min, band.Max)
			}
		}
	}
}
