package model

// TankRole places a tank on one side of the required valve path.
type TankRole string

const (
	RoleSource      TankRole = "source"
	RoleDestination TankRole = "destination"
)

// Tank is a bounded liquid reservoir.
//
// Level is kept in [0, Capacity] after every mutation. InflowRate and
// OutflowRate are per-tick values in units per second: the flow solver
// zeroes them at the start of each tick and writes the tick's result.
type Tank struct {
	ID       string
	Role     TankRole
	Capacity float64
	Level    float64

	InflowRate  float64
	OutflowRate float64

	// ExitValve and EntryValve optionally gate this tank's own branch.
	// Zero means the branch is ungated.
	ExitValve  int
	EntryValve int
}

// Normalized returns Level/Capacity, or 0 for a degenerate tank.
func (t *Tank) Normalized() float64 {
	if t == nil || t.Capacity <= 0 {
		return 0
	}
	return t.Level / t.Capacity
}

// Space is the remaining capacity of the tank.
func (t *Tank) Space() float64 {
	if t == nil {
		return 0
	}
	s := t.Capacity - t.Level
	if s < 0 {
		return 0
	}
	return s
}

// ClampLevel forces Level back into [0, Capacity].
func (t *Tank) ClampLevel() {
	if t.Level < 0 {
		t.Level = 0
	}
	if t.Level > t.Capacity {
		t.Level = t.Capacity
	}
}

// ResetRates zeroes both per-tick flow rates.
func (t *Tank) ResetRates() {
	t.InflowRate = 0
	t.OutflowRate = 0
}
