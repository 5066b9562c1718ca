// core/flow.go
package core

import "math"

// FlowResult is the outcome of one flow-solver pass.
type FlowResult struct {
	// Active is true when the gating predicate passed.
	Active bool
	// Total is the flow drawn from source tanks this tick, in units/s,
	// before any leak reduction.
	Total float64

	AvailableSpace  float64
	AvailableLiquid float64
}

// SolveFlow computes this tick's per-tank rates. Rates on every tank are
// reset first; when gating fails they stay at zero.
//
// Gating is all-or-nothing: every required-path valve open, at least one
// exit-eligible source above the reserve and at least one entry-eligible
// destination with room.
func SolveFlow(n *Network) FlowResult {
	for _, t := range n.Tanks {
		t.ResetRates()
	}

	if !n.PathOpen() {
		return FlowResult{}
	}

	c := n.Constants()
	var (
		space, liquid, normSum float64
		sources, destinations  int
	)
	for _, t := range n.Tanks {
		switch {
		case n.ExitEligible(t):
			sources++
			liquid += math.Max(0, t.Level-c.Reserve)
			normSum += t.Normalized()
		case n.EntryEligible(t):
			destinations++
			space += t.Space()
		}
	}
	if sources == 0 || destinations == 0 {
		return FlowResult{}
	}

	normalized := normSum / float64(sources)
	total := math.Min(c.BaseRate*normalized+c.Offset,
		math.Min(space/c.DampingDivisor, liquid/c.DampingDivisor))
	if total <= 0 {
		return FlowResult{Active: true, AvailableSpace: space, AvailableLiquid: liquid}
	}

	for _, t := range n.Tanks {
		switch {
		case n.ExitEligible(t):
			t.OutflowRate = total * share(math.Max(0, t.Level-c.Reserve), liquid, sources)
		case n.EntryEligible(t):
			t.InflowRate = total * share(t.Space(), space, destinations)
		}
	}

	return FlowResult{
		Active:          true,
		Total:           total,
		AvailableSpace:  space,
		AvailableLiquid: liquid,
	}
}

// share is part/whole, falling back to an equal split when whole is zero.
func share(part, whole float64, count int) float64 {
	if whole > 0 {
		return part / whole
	}
	if count > 0 {
		return 1 / float64(count)
	}
	return 0
}
