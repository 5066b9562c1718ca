package state

import (
	"testing"

	network "github.com/signalsfoundry/tanknet-simulator/core"
	"github.com/signalsfoundry/tanknet-simulator/internal/logging"
)

func newTestState(t *testing.T, topology string, opts ...NetworkStateOption) *NetworkState {
	t.Helper()
	topo, err := network.BuiltinTopology(topology)
	if err != nil {
		t.Fatalf("BuiltinTopology(%q): %v", topology, err)
	}
	opts = append([]NetworkStateOption{WithRandom(network.NoNoise{}), WithRunID("run-test")}, opts...)
	s, err := NewNetworkState(topo, logging.Noop(), opts...)
	if err != nil {
		t.Fatalf("NewNetworkState: %v", err)
	}
	return s
}
