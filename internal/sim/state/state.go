// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	network "github.com/signalsfoundry/tanknet-simulator/core"
	"github.com/signalsfoundry/tanknet-simulator/internal/logging"
	"github.com/signalsfoundry/tanknet-simulator/internal/observability"
)

// Re-export core sentinel errors so callers can depend on state.*
// instead of core.* directly if they want to.
var (
	// ErrUnknownValve indicates a command referenced a valve the topology lacks.
	ErrUnknownValve = network.ErrValveNotFound
	// ErrUnknownLeak indicates a command referenced a missing leak tap.
	ErrUnknownLeak = network.ErrLeakNotFound
	// ErrNoLeakTaps indicates a leak command on a topology without taps.
	ErrNoLeakTaps = network.ErrNoLeakTaps
	// ErrStateNotInitialised is returned by methods on a nil NetworkState.
	ErrStateNotInitialised = errors.New("network state not initialised")
)

// NetworkState is the single exclusive-access unit around a Network. The
// tick loop runs whole ticks under mu; command handlers take the same
// lock, so a command is never observed half-applied and takes effect on
// the next tick.
type NetworkState struct {
	mu sync.RWMutex

	net    *network.Network
	engine *network.SimulationEngine

	paused bool
	runID  string

	rnd     network.Random
	log     logging.Logger
	metrics MetricsRecorder
}

// MetricsRecorder receives per-tick network values.
type MetricsRecorder interface {
	ObserveTick(elapsed time.Duration, flowTotal float64)
	SetTankLevel(id string, level float64)
	SetSensorPressure(id string, pressure float64)
	SetValveOpen(id int, open bool)
	SetLeakFlow(id int, flow float64)
	SetPaused(paused bool)
}

// NetworkStateOption customises NetworkState construction.
type NetworkStateOption func(*NetworkState)

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) NetworkStateOption {
	return func(s *NetworkState) {
		s.metrics = m
	}
}

// WithRandom replaces the perturbation source. Tests pass core.NoNoise{}.
func WithRandom(r network.Random) NetworkStateOption {
	return func(s *NetworkState) {
		s.rnd = r
	}
}

// WithSeed seeds the default perturbation source.
func WithSeed(seed uint64) NetworkStateOption {
	return func(s *NetworkState) {
		s.rnd = network.NewRandom(seed)
	}
}

// WithRunID sets the identifier stamped on every telemetry record.
func WithRunID(id string) NetworkStateOption {
	return func(s *NetworkState) {
		if id != "" {
			s.runID = id
		}
	}
}

// NewNetworkState builds the network described by topo and wraps it.
func NewNetworkState(topo *network.Topology, log logging.Logger, opts ...NetworkStateOption) (*NetworkState, error) {
	if log == nil {
		log = logging.Noop()
	}
	n, err := network.NewNetwork(topo)
	if err != nil {
		return nil, err
	}
	s := &NetworkState{
		net:   n,
		runID: uuid.NewString(),
		log:   log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.rnd == nil {
		s.rnd = network.NewRandom(uint64(time.Now().UnixNano()))
	}
	s.engine = network.NewSimulationEngine(n, s.rnd)
	s.recordLocked()
	if s.metrics != nil {
		s.metrics.SetPaused(false)
	}
	return s, nil
}

// RunID identifies this simulation run.
func (s *NetworkState) RunID() string { return s.runID }

// TopologyName returns the name of the descriptor the network was built from.
func (s *NetworkState) TopologyName() string { return s.net.Topology().Name }

// WithReadLock executes fn while holding the read lock. fn must treat the
// network as read-only and must not call other NetworkState methods.
func (s *NetworkState) WithReadLock(fn func(n *network.Network) error) error {
	if s == nil {
		return ErrStateNotInitialised
	}
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.net)
}

// RunTick advances the network by one tick (unless paused) and returns the
// telemetry snapshot built under the same lock. A paused tick still
// yields telemetry, flagged as paused, with unchanged values.
func (s *NetworkState) RunTick(ctx context.Context, now time.Time) (Telemetry, error) {
	if s == nil {
		return Telemetry{}, ErrStateNotInitialised
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.paused {
		_, span := observability.StartTickSpan(ctx, s.net.Ticks+1, s.net.Topology().Name)
		start := time.Now()
		res := s.engine.Step()
		elapsed := time.Since(start)
		span.End()

		if s.metrics != nil {
			s.metrics.ObserveTick(elapsed, res.FlowTotal)
		}
		s.recordLocked()
		s.log.Debug(ctx, "tick",
			logging.Uint64("tick", res.Tick),
			logging.Float64("flow_total", res.FlowTotal),
			logging.Float64("leak_flow", res.LeakFlow),
		)
	}
	return s.telemetryLocked(now), nil
}

// Telemetry returns the current snapshot without advancing the network.
func (s *NetworkState) Telemetry(now time.Time) Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.telemetryLocked(now)
}

// Paused reports whether ticks are currently suspended.
func (s *NetworkState) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// SetPaused suspends or resumes ticking. It reports whether the flag
// changed.
func (s *NetworkState) SetPaused(ctx context.Context, paused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == paused {
		return false
	}
	s.paused = paused
	if s.metrics != nil {
		s.metrics.SetPaused(paused)
	}
	s.log.Info(ctx, "simulation pause changed", logging.Bool("paused", paused))
	return true
}

// Reset restores the network to the values its topology declares and
// pauses the simulation, so the operator resumes explicitly.
func (s *NetworkState) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.net.Reset()
	s.paused = true
	if s.metrics != nil {
		s.metrics.SetPaused(true)
	}
	s.recordLocked()
	s.log.Info(ctx, "network reset", logging.Uint64("tick", s.net.Ticks))
}

// SetValve opens or closes a valve. Unknown IDs leave the state untouched
// and return an error wrapping ErrUnknownValve.
func (s *NetworkState) SetValve(ctx context.Context, id int, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.net.SetValve(id, open); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SetValveOpen(id, open)
	}
	s.log.Debug(ctx, "valve set", logging.Int("valve", id), logging.Bool("open", open))
	return nil
}

// SetLeak opens or closes a leak tap.
func (s *NetworkState) SetLeak(ctx context.Context, id int, open bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.net.SetLeak(id, open); err != nil {
		return err
	}
	if !open && s.metrics != nil {
		s.metrics.SetLeakFlow(id, 0)
	}
	s.log.Debug(ctx, "leak set", logging.Int("leak", id), logging.Bool("open", open))
	return nil
}

// SetLeakIntensity stores the global leak multiplier, clamped into
// [0, core.MaxLeakIntensity], and returns the stored value.
func (s *NetworkState) SetLeakIntensity(ctx context.Context, value float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.net.LeakEnabled() {
		return 0, fmt.Errorf("%w: %s", ErrNoLeakTaps, s.net.Topology().Name)
	}
	stored := s.net.SetLeakIntensity(value)
	s.log.Debug(ctx, "leak intensity set", logging.Float64("requested", value), logging.Float64("stored", stored))
	return stored, nil
}

// recordLocked pushes the current entity values to the metrics recorder.
func (s *NetworkState) recordLocked() {
	if s.metrics == nil {
		return
	}
	for _, t := range s.net.Tanks {
		s.metrics.SetTankLevel(t.ID, t.Level)
	}
	for _, sn := range s.net.Sensors {
		s.metrics.SetSensorPressure(sn.ID, sn.Pressure)
	}
	for _, v := range s.net.Valves {
		s.metrics.SetValveOpen(v.ID, v.Open)
	}
	for _, l := range s.net.Leaks {
		s.metrics.SetLeakFlow(l.ID, l.Flow)
	}
}
