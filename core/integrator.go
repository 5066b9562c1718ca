package core

import "github.com/signalsfoundry/tanknet-simulator/model"

// IntegrateLevels commits the tick's rates into tank levels.
func IntegrateLevels(n *Network, dt float64) {
	for _, t := range n.Tanks {
		IntegrateTank(t, dt)
	}
}

// IntegrateTank advances a single tank by dt seconds. Inflow is capped to
// what still fits this tick, and the result is clamped to [0, capacity].
// It knows nothing about other tanks.
func IntegrateTank(t *model.Tank, dt float64) {
	if t == nil || dt <= 0 {
		return
	}
	inflow := t.InflowRate
	if room := t.Space() / dt; inflow > room {
		inflow = room
	}
	t.Level += (inflow - t.OutflowRate) * dt
	t.ClampLevel()
}
