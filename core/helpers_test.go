package core

import (
	"math"
	"testing"
)

const eps = 1e-9

func approx(a, b float64) bool { return math.Abs(a-b) <= eps }

func mustBuiltin(t *testing.T, name string) *Network {
	t.Helper()
	topo, err := BuiltinTopology(name)
	if err != nil {
		t.Fatalf("BuiltinTopology(%q): %v", name, err)
	}
	n, err := NewNetwork(topo)
	if err != nil {
		t.Fatalf("NewNetwork(%q): %v", name, err)
	}
	return n
}

func openPath(t *testing.T, n *Network) {
	t.Helper()
	for _, id := range n.Topology().Path {
		if err := n.SetValve(id, true); err != nil {
			t.Fatalf("SetValve(%d): %v", id, err)
		}
	}
}

func mustTank(t *testing.T, n *Network, id string) float64 {
	t.Helper()
	tk, err := n.Tank(id)
	if err != nil {
		t.Fatalf("Tank(%q): %v", id, err)
	}
	return tk.Level
}

func mustSensor(t *testing.T, n *Network, id string) float64 {
	t.Helper()
	s, err := n.Sensor(id)
	if err != nil {
		t.Fatalf("Sensor(%q): %v", id, err)
	}
	return s.Pressure
}
