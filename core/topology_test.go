package core

import (
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/tanknet-simulator/model"
)

func TestBuiltinTopologiesBuild(t *testing.T) {
	for _, name := range BuiltinNames() {
		n := mustBuiltin(t, name)
		if n.Topology().Name != name {
			t.Fatalf("topology name = %q, want %q", n.Topology().Name, name)
		}
		for _, v := range n.Valves {
			if n.OnPath(v.ID) && v.Open {
				t.Fatalf("%s: path valve %d should start closed", name, v.ID)
			}
		}
	}
}

func TestBuiltinTopologyUnknown(t *testing.T) {
	if _, err := BuiltinTopology("nope"); !errors.Is(err, ErrInvalidTopology) {
		t.Fatalf("expected ErrInvalidTopology, got %v", err)
	}
}

func TestResolveTopologyDefault(t *testing.T) {
	topo, err := ResolveTopology("  ")
	if err != nil {
		t.Fatalf("ResolveTopology: %v", err)
	}
	if topo.Name != DefaultTopologyName {
		t.Fatalf("got %q, want %q", topo.Name, DefaultTopologyName)
	}
}

const yamlTopology = `
name: custom
tanks:
  - {id: a, role: source, capacity: 100, level: 80}
  - {id: b, role: destination, capacity: 100, level: 0}
valves:
  - {id: 7, name: main}
path: [7]
sensors:
  - {id: up, valve: 7, side: pre, decay: 1}
  - {id: down, valve: 7, side: post, decay: 0.9}
`

func TestLoadTopologyYAML(t *testing.T) {
	topo, err := LoadTopology(strings.NewReader(yamlTopology))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if topo.Constants != DefaultConstants() {
		t.Fatalf("missing constants should default, got %+v", topo.Constants)
	}
	n, err := NewNetwork(topo)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	v, err := n.Valve(7)
	if err != nil || v.Name != "main" {
		t.Fatalf("Valve(7) = %+v, %v", v, err)
	}
	if n.LeakEnabled() {
		t.Fatalf("topology without taps reported leak-enabled")
	}
}

func TestLoadTopologyPartialConstants(t *testing.T) {
	body := yamlTopology + "constants:\n  reserve: 10\n  flowing_band: {min: 70}\n"
	topo, err := LoadTopology(strings.NewReader(body))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	want := DefaultConstants()
	want.Reserve = 10
	want.FlowingBand.Min = 70
	if topo.Constants != want {
		t.Fatalf("constants = %+v, want %+v", topo.Constants, want)
	}

	n, err := NewNetwork(topo)
	if err != nil {
		t.Fatalf("NewNetwork: %v", err)
	}
	openPath(t, n)
	NewSimulationEngine(n, NoNoise{}).Run(5)
	if n.FlowTotal <= 0 || mustTank(t, n, "b") <= 0 {
		t.Fatalf("no flow with defaulted constants: flow=%v b=%v", n.FlowTotal, mustTank(t, n, "b"))
	}
	for _, s := range n.Sensors {
		if s.Pressure <= 0 {
			t.Fatalf("sensor %s reads %v with the path open", s.ID, s.Pressure)
		}
	}
}

func TestLoadTopologyRejectsUnknownKeys(t *testing.T) {
	bad := strings.Replace(yamlTopology, "path: [7]", "path: [7]\nflow_rate: 3", 1)
	if _, err := LoadTopology(strings.NewReader(bad)); err == nil {
		t.Fatalf("expected decode error for unknown key")
	}
}

func TestMarshalTopologyRoundTrip(t *testing.T) {
	orig, _ := BuiltinTopology(DefaultTopologyName)
	data, err := MarshalTopology(orig)
	if err != nil {
		t.Fatalf("MarshalTopology: %v", err)
	}
	back, err := LoadTopology(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("LoadTopology(marshalled): %v", err)
	}
	if len(back.Leaks) != 2 || back.Leaks[0].DropPerFlow != 3.5 {
		t.Fatalf("leak taps lost in round trip: %+v", back.Leaks)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Topology)
	}{
		{"damping below tick", func(tp *Topology) { tp.Constants.DampingDivisor = 1 }},
		{"path valve undeclared", func(tp *Topology) { tp.Path = []int{1, 9} }},
		{"duplicate valve", func(tp *Topology) { tp.Valves = append(tp.Valves, ValveSpec{ID: 1}) }},
		{"sensor off path", func(tp *Topology) { tp.Sensors[0].Valve = 3 }},
		{"decay rises downstream", func(tp *Topology) { tp.Sensors[3].Decay = 1 }},
		{"leak on unknown sensor", func(tp *Topology) { tp.Leaks[0].Sensor = "nowhere" }},
		{"level above capacity", func(tp *Topology) { tp.Tanks[0].Level = 2000 }},
		{"no destination", func(tp *Topology) {
			for i := range tp.Tanks {
				tp.Tanks[i].Role = model.RoleSource
			}
		}},
		{"reduction floor too low", func(tp *Topology) { tp.Constants.LeakReductionFloor = 0.2 }},
		{"inverted band", func(tp *Topology) { tp.Constants.FlowingBand = model.PressureBand{Min: 90, Max: 80, Step: 1} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			topo, _ := BuiltinTopology(DefaultTopologyName)
			tc.mutate(topo)
			if err := topo.Validate(); !errors.Is(err, ErrInvalidTopology) {
				t.Fatalf("expected ErrInvalidTopology, got %v", err)
			}
		})
	}
}

func TestValidateRejectsGateOnPath(t *testing.T) {
	topo, _ := BuiltinTopology("six-valve")
	topo.Tanks[0].ExitValve = 1
	if err := topo.Validate(); !errors.Is(err, ErrInvalidTopology) {
		t.Fatalf("expected ErrInvalidTopology, got %v", err)
	}
}
