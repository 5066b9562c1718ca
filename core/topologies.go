package core

import (
	"fmt"

	"github.com/signalsfoundry/tanknet-simulator/model"
)

// DefaultTopologyName is the reference layout: four tanks, two series
// valves, two sensor pairs and two leak taps.
const DefaultTopologyName = "four-tank-leak"

var builtins = map[string]func() *Topology{
	"two-valve-series":   twoValveSeries,
	"four-tank-leak":     fourTankLeak,
	"six-valve":          sixValve,
	"three-tank-cascade": threeTankCascade,
}

// BuiltinTopology returns a fresh copy of a named descriptor.
func BuiltinTopology(name string) (*Topology, error) {
	build, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown built-in %q", ErrInvalidTopology, name)
	}
	return build(), nil
}

func seriesValves() []ValveSpec {
	return []ValveSpec{
		{ID: 1, Name: "v1"},
		{ID: 2, Name: "v2"},
	}
}

func dualSensorPairs() []SensorSpec {
	return []SensorSpec{
		{ID: "pre_v1", Valve: 1, Side: model.SidePre, Decay: 1.0},
		{ID: "post_v1", Valve: 1, Side: model.SidePost, Decay: 0.98},
		{ID: "pre_v2", Valve: 2, Side: model.SidePre, Decay: 0.96},
		{ID: "post_v2", Valve: 2, Side: model.SidePost, Decay: 0.94},
	}
}

func twoValveSeries() *Topology {
	return &Topology{
		Name: "two-valve-series",
		Tanks: []TankSpec{
			{ID: "source", Role: model.RoleSource, Capacity: 1000, Level: 800},
			{ID: "destination", Role: model.RoleDestination, Capacity: 1000, Level: 0},
		},
		Valves:    seriesValves(),
		Path:      []int{1, 2},
		Sensors:   dualSensorPairs(),
		Constants: DefaultConstants(),
	}
}

func fourTankLeak() *Topology {
	return &Topology{
		Name: "four-tank-leak",
		Tanks: []TankSpec{
			{ID: "izq1", Role: model.RoleSource, Capacity: 1000, Level: 950},
			{ID: "izq2", Role: model.RoleSource, Capacity: 1000, Level: 950},
			{ID: "der1", Role: model.RoleDestination, Capacity: 1000, Level: 0},
			{ID: "der2", Role: model.RoleDestination, Capacity: 1000, Level: 0},
		},
		Valves:  seriesValves(),
		Path:    []int{1, 2},
		Sensors: dualSensorPairs(),
		Leaks: []LeakSpec{
			{ID: 1, Name: "toma1", MaxFlow: 3, Sensor: "post_v1", DropSensor: "pre_v2", DropPerFlow: 3.5},
			{ID: 2, Name: "toma2", MaxFlow: 2, Sensor: "pre_v2", DropSensor: "post_v2", DropPerFlow: 2.5},
		},
		Constants: DefaultConstants(),
	}
}

func sixValve() *Topology {
	valves := append(seriesValves(),
		ValveSpec{ID: 3, Name: "v3", Open: true},
		ValveSpec{ID: 4, Name: "v4", Open: true},
		ValveSpec{ID: 5, Name: "v5", Open: true},
		ValveSpec{ID: 6, Name: "v6", Open: true},
	)
	return &Topology{
		Name: "six-valve",
		Tanks: []TankSpec{
			{ID: "izq1", Role: model.RoleSource, Capacity: 1000, Level: 1000, ExitValve: 3},
			{ID: "izq2", Role: model.RoleSource, Capacity: 1000, Level: 1000, ExitValve: 4},
			{ID: "der1", Role: model.RoleDestination, Capacity: 1000, Level: 0, EntryValve: 5},
			{ID: "der2", Role: model.RoleDestination, Capacity: 1000, Level: 0, EntryValve: 6},
		},
		Valves:    valves,
		Path:      []int{1, 2},
		Sensors:   dualSensorPairs(),
		Constants: DefaultConstants(),
	}
}

func threeTankCascade() *Topology {
	c := DefaultConstants()
	c.BaseRate = 2.5
	c.Offset = 0.5
	c.BaselineSlope = 2.5
	c.BaselineOffset = 0
	return &Topology{
		Name: "three-tank-cascade",
		Tanks: []TankSpec{
			{ID: "principal", Role: model.RoleSource, Capacity: 200, Level: 180},
			{ID: "tanque1", Role: model.RoleDestination, Capacity: 100, Level: 10},
			{ID: "tanque2", Role: model.RoleDestination, Capacity: 100, Level: 15},
		},
		Valves: []ValveSpec{{ID: 1, Name: "v1"}},
		Path:   []int{1},
		Sensors: []SensorSpec{
			{ID: "pre_v1", Valve: 1, Side: model.SidePre, Decay: 1.0},
			{ID: "post_v1", Valve: 1, Side: model.SidePost, Decay: 0.95},
		},
		Constants: c,
	}
}
