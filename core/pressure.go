// core/pressure.go
package core

import (
	"math"

	"github.com/signalsfoundry/tanknet-simulator/model"
)

// PressurePlan is the noise-free pressure picture for one tick. The leak
// subsystem reads local pressure from it before perturbation is applied.
type PressurePlan struct {
	Baseline float64
	Active   bool

	// ClosedAt is the path index of the first closed valve, or -1.
	ClosedAt int

	// Expected holds the unperturbed reading per sensor ID.
	Expected map[string]float64
	// Zeroed marks sensors downstream of ClosedAt. They read exactly 0.
	Zeroed map[string]bool
}

// BaselinePressure is the hydrostatic pipe pressure with no external
// pump: a linear function of the mean normalized source level.
func BaselinePressure(n *Network) float64 {
	c := n.Constants()
	var sum float64
	var count int
	for _, t := range n.Tanks {
		if t.Role != model.RoleSource {
			continue
		}
		sum += t.Normalized()
		count++
	}
	avg := 0.0
	if count > 0 {
		avg = sum / float64(count)
	}
	return math.Max(0, c.BaselineSlope*avg+c.BaselineOffset)
}

// PlanPressure derives the expected sensor readings for the flow regime.
//
// With flow, each sensor reads baseline x decay. Without flow, sensors
// past the first closed path valve carry nothing, and sensors before it
// hold residual back-pressure at ResidualFraction of the flowing value.
func PlanPressure(n *Network, active bool) PressurePlan {
	c := n.Constants()
	plan := PressurePlan{
		Baseline: BaselinePressure(n),
		Active:   active,
		ClosedAt: -1,
		Expected: make(map[string]float64, len(n.Sensors)),
		Zeroed:   make(map[string]bool),
	}
	if idx, closed := n.firstClosedOnPath(); closed {
		plan.ClosedAt = idx
	}

	for _, s := range n.Sensors {
		if active {
			plan.Expected[s.ID] = plan.Baseline * s.Decay
			continue
		}
		// pre(k) sits at 2k, so anything after it is downstream of valve k.
		if plan.ClosedAt >= 0 && n.sensorPosition(s) > 2*plan.ClosedAt {
			plan.Zeroed[s.ID] = true
			plan.Expected[s.ID] = 0
			continue
		}
		plan.Expected[s.ID] = plan.Baseline * c.ResidualFraction * s.Decay
	}
	return plan
}

// ApplyPressure writes sensor readings from plan, subtracting per-sensor
// leak drops and adding an independent symmetric perturbation per sensor.
// Zeroed sensors are written as exactly 0 and never perturbed.
func ApplyPressure(n *Network, plan PressurePlan, drops map[string]float64, rnd Random) {
	c := n.Constants()
	amp := c.ResidualNoise
	if plan.Active {
		amp = c.FlowNoise
	}
	for _, s := range n.Sensors {
		if plan.Zeroed[s.ID] {
			s.Pressure = 0
			continue
		}
		p := plan.Expected[s.ID] - drops[s.ID]
		if amp > 0 {
			p += rnd.Uniform(-amp, amp)
		}
		s.Pressure = math.Max(0, p)
	}
}
