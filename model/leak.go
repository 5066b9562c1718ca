package model

// LeakTap is an optional siphon that removes flow and pressure while open.
type LeakTap struct {
	ID      int
	Name    string
	Open    bool
	Flow    float64
	MaxFlow float64

	// Sensor names the position whose pressure drives the tap.
	Sensor string
	// DropSensor is the next sensor downstream; it loses DropPerFlow
	// pressure units per unit of leaked flow.
	DropSensor  string
	DropPerFlow float64
}

// Active reports whether the tap is open and currently drawing.
func (l *LeakTap) Active() bool {
	return l != nil && l.Open && l.Flow > 0
}
