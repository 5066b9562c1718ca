// core/network.go
package core

import (
	"fmt"
	"slices"

	"github.com/signalsfoundry/tanknet-simulator/model"
)

// DefaultLeakIntensity leaves the tiered leak curve unscaled.
const DefaultLeakIntensity = 1.0

// MaxLeakIntensity bounds the global leak intensity multiplier.
const MaxLeakIntensity = 10.0

// Network holds every entity of one hydraulic network plus its static
// topology. It is not safe for concurrent use; callers serialise access
// (see internal/sim/state).
type Network struct {
	topo *Topology

	Tanks   []*model.Tank
	Valves  []*model.Valve
	Sensors []*model.Sensor
	Leaks   []*model.LeakTap

	tanks   map[string]*model.Tank
	valves  map[int]*model.Valve
	sensors map[string]*model.Sensor
	leaks   map[int]*model.LeakTap

	// leakOrder holds the taps sorted by sensor position along the path.
	leakOrder []*model.LeakTap

	// pathIndex maps a required-path valve ID to its position in flow order.
	pathIndex map[int]int
	// gated maps a per-tank gate valve to the tank it controls.
	gated map[int]*model.Tank

	// LeakIntensity scales the proportional term of the leak curve.
	LeakIntensity float64

	// FlowTotal is the aggregate flow delivered on the last tick.
	FlowTotal float64
	// Ticks counts completed engine steps.
	Ticks uint64
}

// NewNetwork validates t and builds the entities at their initial values.
func NewNetwork(t *Topology) (*Network, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: topology is nil", ErrInvalidTopology)
	}
	t = t.clone()
	t.Constants = t.Constants.applyDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}

	n := &Network{
		topo:          t,
		tanks:         make(map[string]*model.Tank, len(t.Tanks)),
		valves:        make(map[int]*model.Valve, len(t.Valves)),
		sensors:       make(map[string]*model.Sensor, len(t.Sensors)),
		leaks:         make(map[int]*model.LeakTap, len(t.Leaks)),
		pathIndex:     make(map[int]int, len(t.Path)),
		gated:         make(map[int]*model.Tank),
		LeakIntensity: DefaultLeakIntensity,
	}

	for _, spec := range t.Tanks {
		tank := &model.Tank{
			ID:         spec.ID,
			Role:       spec.Role,
			Capacity:   spec.Capacity,
			ExitValve:  spec.ExitValve,
			EntryValve: spec.EntryValve,
		}
		n.Tanks = append(n.Tanks, tank)
		n.tanks[tank.ID] = tank
		if spec.ExitValve != 0 {
			n.gated[spec.ExitValve] = tank
		}
		if spec.EntryValve != 0 {
			n.gated[spec.EntryValve] = tank
		}
	}

	for _, spec := range t.Valves {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("v%d", spec.ID)
		}
		v := &model.Valve{ID: spec.ID, Name: name}
		n.Valves = append(n.Valves, v)
		n.valves[v.ID] = v
	}

	for i, id := range t.Path {
		n.pathIndex[id] = i
	}

	for _, spec := range t.Sensors {
		s := &model.Sensor{
			ID:    spec.ID,
			Valve: spec.Valve,
			Side:  spec.Side,
			Decay: spec.Decay,
		}
		n.Sensors = append(n.Sensors, s)
		n.sensors[s.ID] = s
	}

	for _, spec := range t.Leaks {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("leak%d", spec.ID)
		}
		l := &model.LeakTap{
			ID:          spec.ID,
			Name:        name,
			MaxFlow:     spec.MaxFlow,
			Sensor:      spec.Sensor,
			DropSensor:  spec.DropSensor,
			DropPerFlow: spec.DropPerFlow,
		}
		n.Leaks = append(n.Leaks, l)
		n.leaks[l.ID] = l
	}
	n.leakOrder = slices.Clone(n.Leaks)
	slices.SortStableFunc(n.leakOrder, func(a, b *model.LeakTap) int {
		return n.sensorPosition(n.sensors[a.Sensor]) - n.sensorPosition(n.sensors[b.Sensor])
	})

	n.Reset()
	return n, nil
}

// Reset puts every entity back to the values the topology declares: tank
// levels, valve states and pressures, zero sensor readings, closed leak
// taps and the default leak intensity. The tick counter keeps running.
func (n *Network) Reset() {
	for i, spec := range n.topo.Tanks {
		t := n.Tanks[i]
		t.Level = spec.Level
		t.InflowRate = 0
		t.OutflowRate = 0
		t.ClampLevel()
	}
	for i, spec := range n.topo.Valves {
		n.Valves[i].Open = spec.Open
		n.Valves[i].InternalPressure = spec.Pressure
	}
	for _, s := range n.Sensors {
		s.Pressure = 0
	}
	for _, l := range n.Leaks {
		l.Open = false
		l.Flow = 0
	}
	n.LeakIntensity = DefaultLeakIntensity
	n.FlowTotal = 0
}

// Topology returns the descriptor the network was built from. Callers
// must treat it as read-only.
func (n *Network) Topology() *Topology { return n.topo }

// Constants is shorthand for Topology().Constants.
func (n *Network) Constants() Constants { return n.topo.Constants }

// Tank looks up a tank by ID.
func (n *Network) Tank(id string) (*model.Tank, error) {
	if t, ok := n.tanks[id]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrTankNotFound, id)
}

// Valve looks up a valve by ID.
func (n *Network) Valve(id int) (*model.Valve, error) {
	if v, ok := n.valves[id]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrValveNotFound, id)
}

// Sensor looks up a sensor by ID.
func (n *Network) Sensor(id string) (*model.Sensor, error) {
	if s, ok := n.sensors[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrSensorNotFound, id)
}

// Leak looks up a leak tap by ID.
func (n *Network) Leak(id int) (*model.LeakTap, error) {
	if len(n.leaks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoLeakTaps, n.topo.Name)
	}
	if l, ok := n.leaks[id]; ok {
		return l, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrLeakNotFound, id)
}

// LeakEnabled reports whether the topology declares any leak taps.
func (n *Network) LeakEnabled() bool { return len(n.Leaks) > 0 }

// SetValve opens or closes a valve. Setting the current state again is a
// no-op.
func (n *Network) SetValve(id int, open bool) error {
	v, err := n.Valve(id)
	if err != nil {
		return err
	}
	v.Open = open
	return nil
}

// SetLeak opens or closes a leak tap. A closed tap stops drawing at once.
func (n *Network) SetLeak(id int, open bool) error {
	l, err := n.Leak(id)
	if err != nil {
		return err
	}
	l.Open = open
	if !open {
		l.Flow = 0
	}
	return nil
}

// SetLeakIntensity clamps value into [0, MaxLeakIntensity] and stores it.
func (n *Network) SetLeakIntensity(value float64) float64 {
	if value < 0 {
		value = 0
	}
	if value > MaxLeakIntensity {
		value = MaxLeakIntensity
	}
	n.LeakIntensity = value
	return value
}

// OnPath reports whether valve id is one of the required series valves.
func (n *Network) OnPath(id int) bool {
	_, ok := n.pathIndex[id]
	return ok
}

// PathOpen reports whether every required-path valve is open.
func (n *Network) PathOpen() bool {
	_, closed := n.firstClosedOnPath()
	return !closed
}

// firstClosedOnPath returns the path index of the first closed valve in
// flow order.
func (n *Network) firstClosedOnPath() (int, bool) {
	for i, id := range n.topo.Path {
		if v := n.valves[id]; v == nil || !v.Open {
			return i, true
		}
	}
	return -1, false
}

// sensorPosition returns s's ordinal along the path.
func (n *Network) sensorPosition(s *model.Sensor) int {
	return sensorPosition(n.pathIndex[s.Valve], s.Side)
}

// gateOpen reports whether a tank's own gate valve (if any) is open.
func (n *Network) gateOpen(valveID int) bool {
	if valveID == 0 {
		return true
	}
	v := n.valves[valveID]
	return v != nil && v.Open
}

// ExitEligible reports whether a source tank can currently feed the path.
func (n *Network) ExitEligible(t *model.Tank) bool {
	return t.Role == model.RoleSource &&
		n.gateOpen(t.ExitValve) &&
		t.Level > n.topo.Constants.Reserve
}

// EntryEligible reports whether a destination tank can currently accept flow.
func (n *Network) EntryEligible(t *model.Tank) bool {
	return t.Role == model.RoleDestination &&
		n.gateOpen(t.EntryValve) &&
		t.Level < t.Capacity
}

// LevelSums returns the total level held by source and destination tanks.
func (n *Network) LevelSums() (sources, destinations float64) {
	for _, t := range n.Tanks {
		if t.Role == model.RoleSource {
			sources += t.Level
		} else {
			destinations += t.Level
		}
	}
	return sources, destinations
}
