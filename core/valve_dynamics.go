package core

import "github.com/signalsfoundry/tanknet-simulator/model"

// UpdateValvePressures advances every valve's internal pressure one step
// of a bounded random walk. The band depends on whether the valve is
// open and whether real flow passes through it; leaving a band is handled
// by clamping into the new one.
func UpdateValvePressures(n *Network, realFlow bool, rnd Random) {
	c := n.Constants()
	for _, v := range n.Valves {
		band := c.ClosedBand
		if v.Open {
			band = c.StagnantBand
			if realFlow && n.carriesFlow(v) {
				band = c.FlowingBand
			}
		}
		p := v.InternalPressure
		if band.Step > 0 {
			p += rnd.Uniform(-band.Step, band.Step)
		}
		v.InternalPressure = band.Clamp(p)
	}
}

// carriesFlow reports whether flow physically passes v: path valves carry
// all of it, gate valves only their own tank's share.
func (n *Network) carriesFlow(v *model.Valve) bool {
	if n.OnPath(v.ID) {
		return true
	}
	if t, ok := n.gated[v.ID]; ok {
		return t.InflowRate > 0 || t.OutflowRate > 0
	}
	return false
}
