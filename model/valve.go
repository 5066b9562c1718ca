package model

// Valve is a binary gate with an observable internal pressure reading.
type Valve struct {
	ID   int
	Name string

	// Open is only changed by command processing.
	Open bool

	// InternalPressure is only changed by valve pressure dynamics.
	InternalPressure float64
}

// PressureBand is a closed interval a valve's internal pressure walks in,
// together with the maximum per-tick step.
type PressureBand struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// Clamp reflects v into the band by clamping.
func (b PressureBand) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}
