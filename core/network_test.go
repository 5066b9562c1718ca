package core

import (
	"errors"
	"testing"
)

func TestNetworkLookups(t *testing.T) {
	n := mustBuiltin(t, DefaultTopologyName)

	if _, err := n.Valve(99); !errors.Is(err, ErrValveNotFound) {
		t.Fatalf("Valve(99): expected ErrValveNotFound, got %v", err)
	}
	if _, err := n.Leak(9); !errors.Is(err, ErrLeakNotFound) {
		t.Fatalf("Leak(9): expected ErrLeakNotFound, got %v", err)
	}
	if _, err := n.Tank("izq3"); !errors.Is(err, ErrTankNotFound) {
		t.Fatalf("Tank(izq3): expected ErrTankNotFound, got %v", err)
	}
	if l, err := n.Leak(1); err != nil || l.Name != "toma1" {
		t.Fatalf("Leak(1) = %+v, %v", l, err)
	}
}

func TestLeakOnTopologyWithoutTaps(t *testing.T) {
	n := mustBuiltin(t, "two-valve-series")
	if err := n.SetLeak(1, true); !errors.Is(err, ErrNoLeakTaps) {
		t.Fatalf("expected ErrNoLeakTaps, got %v", err)
	}
}

func TestSetValveIdempotent(t *testing.T) {
	n := mustBuiltin(t, "two-valve-series")
	for i := 0; i < 3; i++ {
		if err := n.SetValve(1, true); err != nil {
			t.Fatalf("SetValve: %v", err)
		}
	}
	v, _ := n.Valve(1)
	if !v.Open {
		t.Fatalf("valve 1 should be open")
	}
	if n.PathOpen() {
		t.Fatalf("path should still be blocked by valve 2")
	}
}

func TestSetLeakCloseZeroesFlow(t *testing.T) {
	n := mustBuiltin(t, DefaultTopologyName)
	l, _ := n.Leak(2)
	l.Open = true
	l.Flow = 1.7
	if err := n.SetLeak(2, false); err != nil {
		t.Fatalf("SetLeak: %v", err)
	}
	if l.Flow != 0 || l.Active() {
		t.Fatalf("closed tap still drawing: %+v", l)
	}
}

func TestSetLeakIntensityClamps(t *testing.T) {
	n := mustBuiltin(t, DefaultTopologyName)
	cases := map[float64]float64{-3: 0, 0: 0, 2.5: 2.5, 10: 10, 42: MaxLeakIntensity}
	for in, want := range cases {
		if got := n.SetLeakIntensity(in); got != want || n.LeakIntensity != want {
			t.Fatalf("SetLeakIntensity(%v) = %v (stored %v), want %v", in, got, n.LeakIntensity, want)
		}
	}
}

func TestNewNetworkLeavesDescriptorUntouched(t *testing.T) {
	topo, err := BuiltinTopology("two-valve-series")
	if err != nil {
		t.Fatalf("BuiltinTopology: %v", err)
	}
	topo.Constants = Constants{}

	n, err := NewNetwork(topo)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	if topo.Constants != (Constants{}) {
		t.Fatalf("caller's descriptor was normalised: %+v", topo.Constants)
	}
	if n.Constants() != DefaultConstants() {
		t.Fatalf("network constants = %+v", n.Constants())
	}

	topo.Tanks[0].Level = 1
	if n.Topology().Tanks[0].Level != 800 {
		t.Fatalf("network shares tank specs with the caller")
	}
}

func TestNetworkReset(t *testing.T) {
	n := mustBuiltin(t, DefaultTopologyName)
	eng := NewSimulationEngine(n, NoNoise{})
	openPath(t, n)
	if err := n.SetLeak(1, true); err != nil {
		t.Fatalf("SetLeak: %v", err)
	}
	n.SetLeakIntensity(4)
	eng.Run(5)
	if mustTank(t, n, "der1") == 0 {
		t.Fatalf("expected der1 to fill before reset")
	}

	n.Reset()

	for _, name := range []string{"izq1", "izq2"} {
		if got := mustTank(t, n, name); got != 950 {
			t.Fatalf("%s level after reset = %v, want 950", name, got)
		}
	}
	for _, tk := range n.Tanks {
		if tk.InflowRate != 0 || tk.OutflowRate != 0 {
			t.Fatalf("%s keeps rates after reset: %+v", tk.ID, tk)
		}
	}
	if n.PathOpen() {
		t.Fatalf("path valves should be closed after reset")
	}
	for _, s := range n.Sensors {
		if s.Pressure != 0 {
			t.Fatalf("sensor %s reads %v after reset", s.ID, s.Pressure)
		}
	}
	for _, l := range n.Leaks {
		if l.Open || l.Flow != 0 {
			t.Fatalf("leak %d still active after reset: %+v", l.ID, l)
		}
	}
	if n.LeakIntensity != DefaultLeakIntensity || n.FlowTotal != 0 {
		t.Fatalf("intensity %v flow %v after reset", n.LeakIntensity, n.FlowTotal)
	}
	if n.Ticks != 5 {
		t.Fatalf("Ticks = %d, reset must not rewind the counter", n.Ticks)
	}
}

func TestNetworkResetRestoresGateValves(t *testing.T) {
	n := mustBuiltin(t, "six-valve")
	if err := n.SetValve(3, false); err != nil {
		t.Fatalf("SetValve: %v", err)
	}
	n.Reset()
	v, _ := n.Valve(3)
	if !v.Open {
		t.Fatalf("gate valve 3 should reopen on reset")
	}
}
