// core/topology.go
package core

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/tanknet-simulator/model"
)

var (
	ErrInvalidTopology = errors.New("invalid topology")
	ErrValveNotFound   = errors.New("valve not found")
	ErrLeakNotFound    = errors.New("leak tap not found")
	ErrTankNotFound    = errors.New("tank not found")
	ErrSensorNotFound  = errors.New("sensor not found")
	ErrNoLeakTaps      = errors.New("topology has no leak taps")
)

var validate = validator.New()

// Topology is the immutable descriptor a Network is built from. One
// engine serves every variant; only the descriptor differs.
type Topology struct {
	Name string `yaml:"name" json:"name" validate:"required"`

	Tanks  []TankSpec  `yaml:"tanks" json:"tanks" validate:"required,min=2,dive"`
	Valves []ValveSpec `yaml:"valves" json:"valves" validate:"required,min=1,dive"`

	// Path lists, in flow order, the valves that must all be open for
	// any flow at all (series gating).
	Path []int `yaml:"path" json:"path" validate:"required,min=1,dive,gt=0"`

	Sensors []SensorSpec `yaml:"sensors" json:"sensors" validate:"dive"`
	Leaks   []LeakSpec   `yaml:"leaks,omitempty" json:"leaks,omitempty" validate:"dive"`

	Constants Constants `yaml:"constants" json:"constants"`
}

// TankSpec describes one tank and its initial level.
type TankSpec struct {
	ID         string         `yaml:"id" json:"id" validate:"required"`
	Role       model.TankRole `yaml:"role" json:"role" validate:"oneof=source destination"`
	Capacity   float64        `yaml:"capacity" json:"capacity" validate:"gt=0"`
	Level      float64        `yaml:"level" json:"level" validate:"gte=0,ltefield=Capacity"`
	ExitValve  int            `yaml:"exit_valve,omitempty" json:"exit_valve,omitempty" validate:"gte=0"`
	EntryValve int            `yaml:"entry_valve,omitempty" json:"entry_valve,omitempty" validate:"gte=0"`
}

// ValveSpec describes one valve. Valves start closed unless Open is set;
// per-tank gate valves in the six-valve layout start open.
type ValveSpec struct {
	ID       int     `yaml:"id" json:"id" validate:"gt=0"`
	Name     string  `yaml:"name,omitempty" json:"name,omitempty"`
	Open     bool    `yaml:"open,omitempty" json:"open,omitempty"`
	Pressure float64 `yaml:"pressure" json:"pressure" validate:"gte=0"`
}

// SensorSpec places a pressure sensor before or after a path valve.
type SensorSpec struct {
	ID    string           `yaml:"id" json:"id" validate:"required"`
	Valve int              `yaml:"valve" json:"valve" validate:"gt=0"`
	Side  model.SensorSide `yaml:"side" json:"side" validate:"oneof=pre post"`
	Decay float64          `yaml:"decay" json:"decay" validate:"gt=0,lte=1"`
}

// LeakSpec describes an optional leak tap.
type LeakSpec struct {
	ID          int     `yaml:"id" json:"id" validate:"gt=0"`
	Name        string  `yaml:"name,omitempty" json:"name,omitempty"`
	MaxFlow     float64 `yaml:"max_flow" json:"max_flow" validate:"gt=0"`
	Sensor      string  `yaml:"sensor" json:"sensor" validate:"required"`
	DropSensor  string  `yaml:"drop_sensor,omitempty" json:"drop_sensor,omitempty"`
	DropPerFlow float64 `yaml:"drop_per_flow" json:"drop_per_flow" validate:"gte=0"`
}

// Constants holds the tuned numbers of a topology. They have no stated
// physical derivation and are kept verbatim.
type Constants struct {
	// Reserve is the level a source tank never drains below.
	Reserve float64 `yaml:"reserve" json:"reserve" validate:"gte=0"`

	// flow_total = BaseRate * normalized source level + Offset, bounded by
	// available space and liquid each divided by DampingDivisor.
	BaseRate       float64 `yaml:"base_rate" json:"base_rate" validate:"gte=0"`
	Offset         float64 `yaml:"offset" json:"offset" validate:"gte=0"`
	DampingDivisor float64 `yaml:"damping_divisor" json:"damping_divisor" validate:"gt=0"`

	// TickSeconds is dt for the level integrator.
	TickSeconds float64 `yaml:"tick_seconds" json:"tick_seconds" validate:"gt=0"`

	BaselineSlope    float64 `yaml:"baseline_slope" json:"baseline_slope" validate:"gte=0"`
	BaselineOffset   float64 `yaml:"baseline_offset" json:"baseline_offset" validate:"gte=0"`
	ResidualFraction float64 `yaml:"residual_fraction" json:"residual_fraction" validate:"gte=0,lte=1"`
	FlowNoise        float64 `yaml:"flow_noise" json:"flow_noise" validate:"gte=0,lte=2"`
	ResidualNoise    float64 `yaml:"residual_noise" json:"residual_noise" validate:"gte=0,ltefield=FlowNoise"`

	FlowingBand  model.PressureBand `yaml:"flowing_band" json:"flowing_band"`
	StagnantBand model.PressureBand `yaml:"stagnant_band" json:"stagnant_band"`
	ClosedBand   model.PressureBand `yaml:"closed_band" json:"closed_band"`

	// Leak damping: destination inflow is scaled by
	// max(LeakReductionFloor, 1 - sum(leak flows)/LeakReductionDivisor).
	LeakReductionDivisor float64 `yaml:"leak_reduction_divisor" json:"leak_reduction_divisor" validate:"gt=0"`
	LeakReductionFloor   float64 `yaml:"leak_reduction_floor" json:"leak_reduction_floor" validate:"gte=0.5,lte=1"`
}

// DefaultConstants returns the reference topology's numbers.
func DefaultConstants() Constants {
	return Constants{
		Reserve:              5,
		BaseRate:             6,
		Offset:               1,
		DampingDivisor:       2,
		TickSeconds:          2,
		BaselineSlope:        25,
		BaselineOffset:       5,
		ResidualFraction:     0.6,
		FlowNoise:            2,
		ResidualNoise:        0.5,
		FlowingBand:          model.PressureBand{Min: 75, Max: 85, Step: 1.0},
		StagnantBand:         model.PressureBand{Min: 15, Max: 25, Step: 0.5},
		ClosedBand:           model.PressureBand{Min: 0, Max: 0.5, Step: 0.3},
		LeakReductionDivisor: 10,
		LeakReductionFloor:   0.5,
	}
}

// clone returns a copy of t that shares no slices with it.
func (t *Topology) clone() *Topology {
	c := *t
	c.Tanks = slices.Clone(t.Tanks)
	c.Valves = slices.Clone(t.Valves)
	c.Path = slices.Clone(t.Path)
	c.Sensors = slices.Clone(t.Sensors)
	c.Leaks = slices.Clone(t.Leaks)
	return &c
}

// applyDefaults covers descriptors built in code: an all-zero block
// becomes DefaultConstants, and fields that must be positive are filled
// individually. Zero bands are replaced wholesale. Descriptors read by
// LoadTopology start from DefaultConstants instead, so keys absent from
// the file keep their defaults.
func (c Constants) applyDefaults() Constants {
	d := DefaultConstants()
	if c == (Constants{}) {
		return d
	}
	if c.DampingDivisor == 0 {
		c.DampingDivisor = d.DampingDivisor
	}
	if c.TickSeconds == 0 {
		c.TickSeconds = d.TickSeconds
	}
	if c.FlowingBand == (model.PressureBand{}) {
		c.FlowingBand = d.FlowingBand
	}
	if c.StagnantBand == (model.PressureBand{}) {
		c.StagnantBand = d.StagnantBand
	}
	if c.ClosedBand == (model.PressureBand{}) {
		c.ClosedBand = d.ClosedBand
	}
	if c.LeakReductionDivisor == 0 {
		c.LeakReductionDivisor = d.LeakReductionDivisor
	}
	if c.LeakReductionFloor == 0 {
		c.LeakReductionFloor = d.LeakReductionFloor
	}
	return c
}

// Validate checks struct tags and the cross references between tanks,
// valves, sensors and leak taps. All failures wrap ErrInvalidTopology.
func (t *Topology) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: topology is nil", ErrInvalidTopology)
	}
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}

	c := t.Constants
	if c.DampingDivisor < c.TickSeconds {
		return fmt.Errorf("%w: damping_divisor %.2f must be >= tick_seconds %.2f", ErrInvalidTopology, c.DampingDivisor, c.TickSeconds)
	}
	for name, b := range map[string]model.PressureBand{
		"flowing_band":  c.FlowingBand,
		"stagnant_band": c.StagnantBand,
		"closed_band":   c.ClosedBand,
	} {
		if b.Min < 0 || b.Max < b.Min || b.Step < 0 {
			return fmt.Errorf("%w: %s [%.2f, %.2f] step %.2f", ErrInvalidTopology, name, b.Min, b.Max, b.Step)
		}
	}

	valves := make(map[int]bool, len(t.Valves))
	for _, v := range t.Valves {
		if valves[v.ID] {
			return fmt.Errorf("%w: duplicate valve %d", ErrInvalidTopology, v.ID)
		}
		valves[v.ID] = true
	}

	onPath := make(map[int]int, len(t.Path))
	for i, id := range t.Path {
		if !valves[id] {
			return fmt.Errorf("%w: path valve %d is not declared", ErrInvalidTopology, id)
		}
		if _, dup := onPath[id]; dup {
			return fmt.Errorf("%w: valve %d appears twice on the path", ErrInvalidTopology, id)
		}
		onPath[id] = i
	}

	tanks := make(map[string]bool, len(t.Tanks))
	var sources, destinations int
	for _, tk := range t.Tanks {
		if tanks[tk.ID] {
			return fmt.Errorf("%w: duplicate tank %q", ErrInvalidTopology, tk.ID)
		}
		tanks[tk.ID] = true

		switch tk.Role {
		case model.RoleSource:
			sources++
			if tk.EntryValve != 0 {
				return fmt.Errorf("%w: source tank %q cannot have an entry valve", ErrInvalidTopology, tk.ID)
			}
		case model.RoleDestination:
			destinations++
			if tk.ExitValve != 0 {
				return fmt.Errorf("%w: destination tank %q cannot have an exit valve", ErrInvalidTopology, tk.ID)
			}
		}
		for _, gate := range []int{tk.ExitValve, tk.EntryValve} {
			if gate == 0 {
				continue
			}
			if !valves[gate] {
				return fmt.Errorf("%w: tank %q references unknown valve %d", ErrInvalidTopology, tk.ID, gate)
			}
			if _, ok := onPath[gate]; ok {
				return fmt.Errorf("%w: tank %q gate valve %d is on the required path", ErrInvalidTopology, tk.ID, gate)
			}
		}
	}
	if sources == 0 || destinations == 0 {
		return fmt.Errorf("%w: need at least one source and one destination tank", ErrInvalidTopology)
	}

	sensors := make(map[string]bool, len(t.Sensors))
	type placed struct {
		pos   int
		decay float64
		id    string
	}
	positions := make([]placed, 0, len(t.Sensors))
	for _, s := range t.Sensors {
		if sensors[s.ID] {
			return fmt.Errorf("%w: duplicate sensor %q", ErrInvalidTopology, s.ID)
		}
		sensors[s.ID] = true
		idx, ok := onPath[s.Valve]
		if !ok {
			return fmt.Errorf("%w: sensor %q sits on valve %d which is not on the path", ErrInvalidTopology, s.ID, s.Valve)
		}
		positions = append(positions, placed{pos: sensorPosition(idx, s.Side), decay: s.Decay, id: s.ID})
	}
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].pos < positions[j].pos })
	for i := 1; i < len(positions); i++ {
		if positions[i].decay > positions[i-1].decay {
			return fmt.Errorf("%w: sensor %q decay %.3f rises above upstream %q", ErrInvalidTopology,
				positions[i].id, positions[i].decay, positions[i-1].id)
		}
	}

	leaks := make(map[int]bool, len(t.Leaks))
	for _, l := range t.Leaks {
		if leaks[l.ID] {
			return fmt.Errorf("%w: duplicate leak tap %d", ErrInvalidTopology, l.ID)
		}
		leaks[l.ID] = true
		if !sensors[l.Sensor] {
			return fmt.Errorf("%w: leak tap %d references unknown sensor %q", ErrInvalidTopology, l.ID, l.Sensor)
		}
		if l.DropSensor != "" && !sensors[l.DropSensor] {
			return fmt.Errorf("%w: leak tap %d references unknown drop sensor %q", ErrInvalidTopology, l.ID, l.DropSensor)
		}
	}

	return nil
}

// sensorPosition orders sensors along the path: pre(v0) < post(v0) < pre(v1) ...
func sensorPosition(pathIndex int, side model.SensorSide) int {
	pos := pathIndex * 2
	if side == model.SidePost {
		pos++
	}
	return pos
}
