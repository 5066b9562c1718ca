package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	network "github.com/signalsfoundry/tanknet-simulator/core"
	"github.com/signalsfoundry/tanknet-simulator/internal/logging"
	"github.com/signalsfoundry/tanknet-simulator/internal/sim/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

type countingRecorder struct {
	counts map[string]int
}

func (r *countingRecorder) RecordCommand(kind, result string) {
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[kind+"/"+result]++
}

func newState(t *testing.T, topology string) *state.NetworkState {
	t.Helper()
	topo, err := network.BuiltinTopology(topology)
	require.NoError(t, err)
	s, err := state.NewNetworkState(topo, logging.Noop(), state.WithRandom(network.NoNoise{}))
	require.NoError(t, err)
	return s
}

func TestProcessorAppliesValve(t *testing.T) {
	s := newState(t, "two-valve-series")
	p := NewProcessor(s, logging.Noop())

	rep := p.Handle(context.Background(), []byte(`{"type":"valve","id":1,"state":true}`))
	require.True(t, rep.Accepted, rep.Error)
	assert.Equal(t, KindValve, rep.Kind)
	assert.Equal(t, "accepted", rep.Reason)
	assert.NotEmpty(t, rep.CommandID)

	tel := s.Telemetry(epoch)
	assert.True(t, tel.Valves[0].Open)
	assert.False(t, tel.Valves[1].Open)
}

// Unknown valve 99: the command is rejected and reported, nothing panics
// and the network is exactly as before.
func TestProcessorUnknownValveLeavesStateUnchanged(t *testing.T) {
	s := newState(t, network.DefaultTopologyName)
	rec := &countingRecorder{}
	var reports []Report
	p := NewProcessor(s, logging.Noop(),
		WithRecorder(rec),
		WithReportSink(func(_ context.Context, r Report) { reports = append(reports, r) }),
	)
	before := s.Telemetry(epoch).Record()

	var rep Report
	require.NotPanics(t, func() {
		rep = p.Handle(context.Background(), []byte(`{"type":"valve","id":99,"state":true}`))
	})

	assert.False(t, rep.Accepted)
	assert.Equal(t, "unknown_valve", rep.Reason)
	assert.Contains(t, rep.Error, "99")
	assert.Equal(t, before, s.Telemetry(epoch).Record())
	assert.Equal(t, 1, rec.counts["valve/unknown_valve"])
	require.Len(t, reports, 1)
	assert.Equal(t, rep.CommandID, reports[0].CommandID)
}

func TestProcessorIdempotentValve(t *testing.T) {
	once := newState(t, "two-valve-series")
	twice := newState(t, "two-valve-series")
	ctx := context.Background()
	cmd := []byte(`{"type":"valve","id":1,"state":true}`)

	NewProcessor(once, nil).Handle(ctx, cmd)
	p := NewProcessor(twice, nil)
	p.Handle(ctx, cmd)
	rep := p.Handle(ctx, cmd)

	assert.True(t, rep.Accepted)
	assert.Equal(t, once.Telemetry(epoch).Record()["valve1_open"], twice.Telemetry(epoch).Record()["valve1_open"])
	assert.Equal(t, once.Telemetry(epoch).Valves, twice.Telemetry(epoch).Valves)
}

func TestProcessorLeakCommands(t *testing.T) {
	s := newState(t, network.DefaultTopologyName)
	p := NewProcessor(s, logging.Noop())
	ctx := context.Background()

	rep := p.Handle(ctx, []byte(`{"type":"leak","id":2,"state":true}`))
	require.True(t, rep.Accepted, rep.Error)
	assert.True(t, s.Telemetry(epoch).Leaks[1].Open)

	rep = p.Handle(ctx, []byte(`{"type":"leak","id":7,"state":true}`))
	assert.Equal(t, "unknown_leak", rep.Reason)

	rep = p.Handle(ctx, []byte(`{"type":"leak_intensity","value":42}`))
	require.True(t, rep.Accepted)
	assert.Equal(t, map[string]any{"value": network.MaxLeakIntensity}, rep.Applied)
}

func TestProcessorLeakOnTopologyWithoutTaps(t *testing.T) {
	s := newState(t, "two-valve-series")
	p := NewProcessor(s, logging.Noop())

	rep := p.Handle(context.Background(), []byte(`{"type":"leak","id":1,"state":true}`))
	assert.False(t, rep.Accepted)
	assert.Equal(t, "unsupported", rep.Reason)

	rep = p.Handle(context.Background(), []byte(`{"type":"leak_intensity","value":1}`))
	assert.Equal(t, "unsupported", rep.Reason)
}

func TestProcessorPause(t *testing.T) {
	s := newState(t, "two-valve-series")
	p := NewProcessor(s, logging.Noop())
	ctx := context.Background()

	rep := p.Handle(ctx, []byte(`{"command":"pause","value":true}`))
	require.True(t, rep.Accepted)
	assert.True(t, s.Paused())
	assert.Equal(t, true, rep.Applied.(map[string]any)["changed"])

	rep = p.Handle(ctx, []byte(`{"command":"pause","value":true}`))
	assert.Equal(t, false, rep.Applied.(map[string]any)["changed"])

	p.Handle(ctx, []byte(`{"command":"pause","value":false}`))
	assert.False(t, s.Paused())
}

func TestProcessorReset(t *testing.T) {
	s := newState(t, network.DefaultTopologyName)
	rec := &countingRecorder{}
	p := NewProcessor(s, logging.Noop(), WithRecorder(rec))
	ctx := context.Background()
	initial := s.Telemetry(epoch).Record()

	for _, cmd := range []string{
		`{"type":"valve","id":1,"state":true}`,
		`{"type":"valve","id":2,"state":true}`,
		`{"type":"leak","id":1,"state":true}`,
		`{"type":"leak_intensity","value":3}`,
	} {
		require.True(t, p.Handle(ctx, []byte(cmd)).Accepted, cmd)
	}
	for i := 0; i < 3; i++ {
		_, err := s.RunTick(ctx, epoch)
		require.NoError(t, err)
	}

	rep := p.Handle(ctx, []byte(`{"command":"reset","command_id":"r-1"}`))
	require.True(t, rep.Accepted, rep.Error)
	assert.Equal(t, KindReset, rep.Kind)
	assert.Equal(t, "r-1", rep.CommandID)
	assert.True(t, s.Paused())
	assert.Equal(t, 1, rec.counts["reset/accepted"])

	got := s.Telemetry(epoch).Record()
	for key, want := range initial {
		switch key {
		case "tick", "paused":
			continue
		}
		assert.Equal(t, want, got[key], key)
	}
	assert.Equal(t, uint64(3), got["tick"])
	assert.Equal(t, true, got["paused"])
}

func TestProcessorMalformedAndUnsupported(t *testing.T) {
	s := newState(t, "two-valve-series")
	rec := &countingRecorder{}
	p := NewProcessor(s, logging.Noop(), WithRecorder(rec))
	before := s.Telemetry(epoch).Record()

	rep := p.Handle(context.Background(), []byte(`{not json`))
	assert.Equal(t, "malformed", rep.Reason)
	assert.Equal(t, KindUnknown, rep.Kind)

	rep = p.Handle(context.Background(), []byte(`{"type":"pump","id":1,"state":true}`))
	assert.Equal(t, "unsupported", rep.Reason)

	assert.Equal(t, before, s.Telemetry(epoch).Record())
	assert.Equal(t, 1, rec.counts["unknown/malformed"])
	assert.Equal(t, 1, rec.counts["unknown/unsupported"])
}

func TestProcessorRateLimit(t *testing.T) {
	s := newState(t, "two-valve-series")
	p := NewProcessor(s, logging.Noop(), WithRateLimit(0.001, 2))
	ctx := context.Background()
	cmd := []byte(`{"type":"valve","id":1,"state":true}`)

	assert.True(t, p.Handle(ctx, cmd).Accepted)
	assert.True(t, p.Handle(ctx, cmd).Accepted)
	rep := p.Handle(ctx, cmd)
	assert.False(t, rep.Accepted)
	assert.Equal(t, "rate_limited", rep.Reason)
}

func TestReportMarshal(t *testing.T) {
	s := newState(t, "two-valve-series")
	p := NewProcessor(s, logging.Noop())
	rep := p.Handle(context.Background(), []byte(`{"type":"valve","id":2,"state":true,"command_id":"c-42"}`))

	data, err := rep.Marshal()
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "c-42", decoded["command_id"])
	assert.Equal(t, "valve", decoded["kind"])
	assert.Equal(t, true, decoded["accepted"])
	assert.NotContains(t, decoded, "error")
}
