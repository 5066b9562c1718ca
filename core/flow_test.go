package core

import "testing"

func TestSolveFlowGatedByPath(t *testing.T) {
	n := mustBuiltin(t, "two-valve-series")
	_ = n.SetValve(1, true)

	res := SolveFlow(n)
	if res.Active || res.Total != 0 {
		t.Fatalf("expected no flow with valve 2 closed, got %+v", res)
	}
	for _, tk := range n.Tanks {
		if tk.InflowRate != 0 || tk.OutflowRate != 0 {
			t.Fatalf("tank %s has rates %v/%v", tk.ID, tk.InflowRate, tk.OutflowRate)
		}
	}
}

func TestSolveFlowTwoValveSeries(t *testing.T) {
	n := mustBuiltin(t, "two-valve-series")
	openPath(t, n)

	res := SolveFlow(n)
	// 6 * 0.8 + 1 beats both 1000/2 and 795/2.
	if !res.Active || !approx(res.Total, 5.8) {
		t.Fatalf("flow = %+v, want total 5.8", res)
	}
	src, _ := n.Tank("source")
	dst, _ := n.Tank("destination")
	if !approx(src.OutflowRate, 5.8) || !approx(dst.InflowRate, 5.8) {
		t.Fatalf("rates out=%v in=%v", src.OutflowRate, dst.InflowRate)
	}
}

func TestSolveFlowResetsRates(t *testing.T) {
	n := mustBuiltin(t, "two-valve-series")
	openPath(t, n)
	SolveFlow(n)
	_ = n.SetValve(2, false)
	SolveFlow(n)
	for _, tk := range n.Tanks {
		if tk.InflowRate != 0 || tk.OutflowRate != 0 {
			t.Fatalf("stale rates on %s", tk.ID)
		}
	}
}

func TestSolveFlowReserve(t *testing.T) {
	cases := []struct {
		level  float64
		active bool
	}{
		{level: 4, active: false},
		{level: 5, active: false},
		{level: 5.5, active: true},
	}
	for _, tc := range cases {
		n := mustBuiltin(t, "two-valve-series")
		openPath(t, n)
		src, _ := n.Tank("source")
		src.Level = tc.level

		res := SolveFlow(n)
		if res.Active != tc.active {
			t.Fatalf("level %v: active=%v, want %v", tc.level, res.Active, tc.active)
		}
		if tc.active && !approx(res.Total, 0.25) {
			// liquid (0.5) / damping (2) is the binding bound
			t.Fatalf("level %v: total=%v, want 0.25", tc.level, res.Total)
		}
	}
}

func TestSolveFlowFullDestinations(t *testing.T) {
	n := mustBuiltin(t, DefaultTopologyName)
	openPath(t, n)
	for _, id := range []string{"der1", "der2"} {
		tk, _ := n.Tank(id)
		tk.Level = tk.Capacity
	}
	if res := SolveFlow(n); res.Active {
		t.Fatalf("expected no flow into full destinations, got %+v", res)
	}
}

func TestSolveFlowDistributesByShare(t *testing.T) {
	n := mustBuiltin(t, DefaultTopologyName)
	openPath(t, n)
	izq1, _ := n.Tank("izq1")
	izq2, _ := n.Tank("izq2")
	der1, _ := n.Tank("der1")
	der2, _ := n.Tank("der2")
	izq2.Level = 505
	der1.Level = 500

	res := SolveFlow(n)
	if !res.Active {
		t.Fatalf("expected flow")
	}
	// liquid 945 vs 500, space 500 vs 1000
	if !approx(izq1.OutflowRate/izq2.OutflowRate, 945.0/500.0) {
		t.Fatalf("source split %v / %v", izq1.OutflowRate, izq2.OutflowRate)
	}
	if !approx(der2.InflowRate, 2*der1.InflowRate) {
		t.Fatalf("destination split %v / %v", der1.InflowRate, der2.InflowRate)
	}
	if !approx(izq1.OutflowRate+izq2.OutflowRate, res.Total) || !approx(der1.InflowRate+der2.InflowRate, res.Total) {
		t.Fatalf("rates do not sum to total %v", res.Total)
	}
}

func TestSolveFlowRespectsGateValves(t *testing.T) {
	n := mustBuiltin(t, "six-valve")
	openPath(t, n)
	_ = n.SetValve(5, false)

	SolveFlow(n)
	der1, _ := n.Tank("der1")
	der2, _ := n.Tank("der2")
	if der1.InflowRate != 0 || der2.InflowRate <= 0 {
		t.Fatalf("entry gate ignored: der1=%v der2=%v", der1.InflowRate, der2.InflowRate)
	}

	_ = n.SetValve(3, false)
	_ = n.SetValve(4, false)
	if res := SolveFlow(n); res.Active {
		t.Fatalf("all exit gates closed but flow active")
	}
}

func TestShareFallsBackToEqualSplit(t *testing.T) {
	if got := share(0, 0, 4); got != 0.25 {
		t.Fatalf("share(0,0,4) = %v", got)
	}
	if got := share(0, 0, 0); got != 0 {
		t.Fatalf("share(0,0,0) = %v", got)
	}
	if got := share(1, 4, 2); got != 0.25 {
		t.Fatalf("share(1,4,2) = %v", got)
	}
}
