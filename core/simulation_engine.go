package core

// TickResult describes what one engine step did.
type TickResult struct {
	Tick   uint64
	Active bool

	// FlowDrawn is the flow leaving source tanks, before leak reduction.
	FlowDrawn float64
	// FlowTotal is the flow reaching destination tanks.
	FlowTotal float64
	Reduction float64
	LeakFlow  float64

	SourceDelta      float64
	DestinationDelta float64
}

// SimulationEngine advances a Network one fixed tick at a time.
type SimulationEngine struct {
	Network *Network

	rnd           Random
	tickListeners []func(TickResult)
}

// NewSimulationEngine wraps n. A nil rnd disables all perturbation.
func NewSimulationEngine(n *Network, rnd Random) *SimulationEngine {
	if rnd == nil {
		rnd = NoNoise{}
	}
	return &SimulationEngine{
		Network:       n,
		rnd:           rnd,
		tickListeners: []func(TickResult){},
	}
}

func (se *SimulationEngine) RegisterTickListener(fn func(TickResult)) {
	se.tickListeners = append(se.tickListeners, fn)
}

// Step runs one tick: flow, noise-free pressure plan, leaks, sensor
// readings, valve walks, then level integration. FlowTotal and the tick
// counter are committed last.
func (se *SimulationEngine) Step() TickResult {
	n := se.Network
	c := n.Constants()
	srcBefore, dstBefore := n.LevelSums()

	flow := SolveFlow(n)
	plan := PlanPressure(n, flow.Active && flow.Total > 0)
	leaks := ApplyLeaks(n, plan)
	ApplyPressure(n, plan, leaks.Drops, se.rnd)

	delivered := 0.0
	for _, t := range n.Tanks {
		delivered += t.InflowRate
	}
	UpdateValvePressures(n, delivered > 0 && n.PathOpen(), se.rnd)
	IntegrateLevels(n, c.TickSeconds)

	n.FlowTotal = delivered
	n.Ticks++

	srcAfter, dstAfter := n.LevelSums()
	res := TickResult{
		Tick:             n.Ticks,
		Active:           flow.Active,
		FlowDrawn:        flow.Total,
		FlowTotal:        delivered,
		Reduction:        leaks.Reduction,
		LeakFlow:         leaks.Flow,
		SourceDelta:      srcAfter - srcBefore,
		DestinationDelta: dstAfter - dstBefore,
	}
	for _, fn := range se.tickListeners {
		fn(res)
	}
	return res
}

// Run executes ticks steps back to back and returns the last result.
func (se *SimulationEngine) Run(ticks int) TickResult {
	var last TickResult
	for tick := 0; tick < ticks; tick++ {
		last = se.Step()
	}
	return last
}
