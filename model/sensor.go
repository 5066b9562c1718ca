package model

// SensorSide says whether a sensor sits before or after its valve.
type SensorSide string

const (
	SidePre  SensorSide = "pre"
	SidePost SensorSide = "post"
)

// Sensor is a read-only pressure observation point at a fixed location
// on the required valve path.
type Sensor struct {
	ID    string
	Valve int
	Side  SensorSide

	// Decay scales the baseline pipe pressure at this position while
	// flow is active. It is non-increasing along the path.
	Decay float64

	Pressure float64
}
