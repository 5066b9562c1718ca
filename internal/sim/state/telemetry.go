package state

import (
	"fmt"
	"math"
	"time"
)

// TankReading is one tank's level at snapshot time.
type TankReading struct {
	ID       string
	Level    float64
	Capacity float64
}

// ValveReading is one valve's state at snapshot time.
type ValveReading struct {
	ID       int
	Open     bool
	Pressure float64
}

// SensorReading is one sensor's pressure at snapshot time.
type SensorReading struct {
	ID       string
	Pressure float64
}

// LeakReading is one leak tap's state at snapshot time.
type LeakReading struct {
	ID   int
	Open bool
	Flow float64
}

// Telemetry is an immutable copy of the network built under the state
// lock. It shares nothing with the live network, so it can be encoded and
// published after the lock is released.
type Telemetry struct {
	Tick      uint64
	Timestamp time.Time
	Paused    bool
	RunID     string
	Topology  string

	FlowTotal     float64
	LeakIntensity float64

	Tanks   []TankReading
	Valves  []ValveReading
	Sensors []SensorReading

	// LeakEnabled is false for topologies without taps; the leak keys are
	// then omitted from the flat record.
	LeakEnabled   bool
	Leaks         []LeakReading
	LeaksDetected bool
}

func (s *NetworkState) telemetryLocked(now time.Time) Telemetry {
	n := s.net
	t := Telemetry{
		Tick:          n.Ticks,
		Timestamp:     now.UTC(),
		Paused:        s.paused,
		RunID:         s.runID,
		Topology:      n.Topology().Name,
		FlowTotal:     n.FlowTotal,
		LeakIntensity: n.LeakIntensity,
		Tanks:         make([]TankReading, 0, len(n.Tanks)),
		Valves:        make([]ValveReading, 0, len(n.Valves)),
		Sensors:       make([]SensorReading, 0, len(n.Sensors)),
		LeakEnabled:   n.LeakEnabled(),
	}
	for _, tk := range n.Tanks {
		t.Tanks = append(t.Tanks, TankReading{ID: tk.ID, Level: tk.Level, Capacity: tk.Capacity})
	}
	for _, v := range n.Valves {
		t.Valves = append(t.Valves, ValveReading{ID: v.ID, Open: v.Open, Pressure: v.InternalPressure})
	}
	for _, sn := range n.Sensors {
		t.Sensors = append(t.Sensors, SensorReading{ID: sn.ID, Pressure: sn.Pressure})
	}
	for _, l := range n.Leaks {
		t.Leaks = append(t.Leaks, LeakReading{ID: l.ID, Open: l.Open, Flow: l.Flow})
		if l.Active() {
			t.LeaksDetected = true
		}
	}
	return t
}

// Record flattens t into the wire record: levels, fill percentages,
// pressures and sensors rounded to one decimal, flows to two.
func (t Telemetry) Record() map[string]any {
	rec := make(map[string]any, 8+len(t.Tanks)+2*len(t.Valves)+len(t.Sensors)+2*len(t.Leaks))
	for _, tk := range t.Tanks {
		rec["tank_"+tk.ID] = Round(tk.Level, 1)
		if tk.Capacity > 0 {
			rec["tank_"+tk.ID+"_pct"] = Round(tk.Level/tk.Capacity*100, 1)
		}
	}
	for _, v := range t.Valves {
		rec[fmt.Sprintf("valve%d_open", v.ID)] = v.Open
		rec[fmt.Sprintf("valve%d_pressure", v.ID)] = Round(v.Pressure, 1)
	}
	for _, s := range t.Sensors {
		rec["sensor_"+s.ID] = Round(s.Pressure, 1)
	}
	rec["flow_total"] = Round(t.FlowTotal, 2)

	if t.LeakEnabled {
		for _, l := range t.Leaks {
			rec[fmt.Sprintf("leak%d_open", l.ID)] = l.Open
			rec[fmt.Sprintf("leak%d_flow", l.ID)] = Round(l.Flow, 2)
		}
		rec["leaks_detected"] = t.LeaksDetected
		rec["leak_intensity"] = Round(t.LeakIntensity, 2)
	}

	rec["tick"] = t.Tick
	rec["timestamp"] = t.Timestamp.Format(time.RFC3339)
	rec["paused"] = t.Paused
	rec["run_id"] = t.RunID
	rec["topology"] = t.Topology
	return rec
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
