// core/leak.go
package core

import "math"

// Tier boundaries of the leak response curve.
const (
	leakLowPressure  = 5.0
	leakHighPressure = 15.0
	leakLowCap       = 0.5
	leakMidCapRatio  = 0.6
	leakLowRate      = 0.1
	leakMidRate      = 0.15
	leakHighRate     = 0.2
)

// LeakResult summarises the leak subsystem's effect on one tick.
type LeakResult struct {
	// Flow is the sum of all tap flows.
	Flow float64
	// Reduction is the factor applied to flow delivered to destinations.
	// It never drops below the topology's floor (0.5 by default).
	Reduction float64
	// Drops maps a sensor ID to the pressure removed from it.
	Drops map[string]float64
}

// TieredLeakFlow maps local pressure to tap flow. intensity scales the
// proportional term only, so intensity 1 is the plain tiered curve.
func TieredLeakFlow(pressure, maxFlow, intensity float64) float64 {
	if intensity < 0 {
		intensity = 0
	}
	switch {
	case pressure <= 0:
		return 0
	case pressure < leakLowPressure:
		return math.Min(leakLowCap, pressure*leakLowRate*intensity)
	case pressure < leakHighPressure:
		return math.Min(maxFlow*leakMidCapRatio, pressure*leakMidRate*intensity)
	default:
		return math.Min(maxFlow, pressure*leakHighRate*intensity)
	}
}

// LeakReduction is max(floor, 1 - total/divisor).
func LeakReduction(total float64, c Constants) float64 {
	return math.Max(c.LeakReductionFloor, 1-total/c.LeakReductionDivisor)
}

// ApplyLeaks recomputes every tap's flow and scales destination inflow by
// the aggregate reduction. Taps are visited in path order; a tap's local
// pressure is the planned reading at its sensor less the drops already
// put there by taps upstream of it. Source outflow is left alone: what
// the taps take never reaches a destination.
func ApplyLeaks(n *Network, plan PressurePlan) LeakResult {
	res := LeakResult{Reduction: 1, Drops: make(map[string]float64)}
	if !n.LeakEnabled() {
		return res
	}

	for _, l := range n.leakOrder {
		if !l.Open {
			l.Flow = 0
			continue
		}
		local := math.Max(0, plan.Expected[l.Sensor]-res.Drops[l.Sensor])
		l.Flow = TieredLeakFlow(local, l.MaxFlow, n.LeakIntensity)
		res.Flow += l.Flow
		if l.DropSensor != "" && l.Flow > 0 {
			res.Drops[l.DropSensor] += l.Flow * l.DropPerFlow
		}
	}

	res.Reduction = LeakReduction(res.Flow, n.Constants())
	if res.Reduction < 1 {
		for _, t := range n.Tanks {
			t.InflowRate *= res.Reduction
		}
	}
	return res
}
