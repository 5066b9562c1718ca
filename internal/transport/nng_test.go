package transport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var inprocSeq atomic.Int64

func inprocAddr(name string) string {
	return fmt.Sprintf("inproc://tanksim-%s-%d", name, inprocSeq.Add(1))
}

func TestNNGBusServerAndClient(t *testing.T) {
	telemetry := inprocAddr("datos")
	commands := inprocAddr("comandos")

	server, err := NewNNGBus(NNGConfig{PublishAddr: telemetry, SubscribeAddr: commands, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer server.Close()

	// The client's PUB feeds the server's SUB and vice versa.
	client, err := NewNNGBus(NNGConfig{PublishAddr: commands, SubscribeAddr: telemetry, Dial: true, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fromClient, fromServer collector
	go func() { _ = server.Subscribe(ctx, TopicCommands, fromClient.handle) }()
	go func() { _ = client.Subscribe(ctx, TopicTelemetry, fromServer.handle) }()

	// PUB/SUB drops frames until the pipes are up, so keep publishing.
	require.Eventually(t, func() bool {
		_ = client.Publish(ctx, TopicCommands, []byte(`{"type":"pause","pause":true}`))
		return fromClient.len() > 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, TopicCommands, fromClient.first().Topic)
	assert.JSONEq(t, `{"type":"pause","pause":true}`, string(fromClient.first().Payload))

	require.Eventually(t, func() bool {
		_ = server.Publish(ctx, TopicTelemetry, []byte(`{"tick":7}`))
		return fromServer.len() > 0
	}, 3*time.Second, 20*time.Millisecond)
	assert.JSONEq(t, `{"tick":7}`, string(fromServer.first().Payload))
}

func TestNNGBusIgnoresOtherTopics(t *testing.T) {
	addr := inprocAddr("filter")

	server, err := NewNNGBus(NNGConfig{PublishAddr: addr, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer server.Close()
	client, err := NewNNGBus(NNGConfig{SubscribeAddr: addr, Dial: true, PollInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events collector
	go func() { _ = client.Subscribe(ctx, TopicEvents, events.handle) }()

	require.Eventually(t, func() bool {
		_ = server.Publish(ctx, TopicTelemetry, []byte("ignored"))
		_ = server.Publish(ctx, TopicEvents, []byte("wanted"))
		return events.len() > 0
	}, 3*time.Second, 20*time.Millisecond)

	events.mu.Lock()
	defer events.mu.Unlock()
	for _, m := range events.msgs {
		assert.Equal(t, TopicEvents, m.Topic)
		assert.Equal(t, "wanted", string(m.Payload))
	}
}

func TestNNGBusSubscribeStopsOnClose(t *testing.T) {
	bus, err := NewNNGBus(NNGConfig{SubscribeAddr: inprocAddr("close"), PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(context.Background(), TopicCommands, func(context.Context, Message) {}) }()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, bus.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop after Close")
	}
	assert.ErrorIs(t, bus.Publish(context.Background(), TopicTelemetry, nil), ErrClosed)
}
