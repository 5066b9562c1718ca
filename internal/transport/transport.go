// Package transport moves telemetry, command and event frames between the
// simulator and its controllers.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
)

// Default topic names.
const (
	TopicTelemetry = "tanques/datos"
	TopicCommands  = "tanques/comandos"
	TopicEvents    = "tanques/eventos"
)

var (
	// ErrClosed is returned when publishing on a closed bus.
	ErrClosed = errors.New("transport closed")
	// ErrBadFrame is returned for a frame without a topic separator.
	ErrBadFrame = errors.New("malformed frame")
)

// Message is one payload received on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler consumes messages delivered to a subscription. It runs on the
// subscriber's goroutine.
type Handler func(ctx context.Context, msg Message)

// Publisher sends payloads on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Subscriber delivers payloads on a topic to h until ctx is cancelled or
// the bus is closed. It blocks for the life of the subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h Handler) error
}

// Bus is both ends plus Close.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// EncodeFrame prefixes payload with topic and a single space so that
// subscribers can filter on the topic prefix.
func EncodeFrame(topic string, payload []byte) []byte {
	frame := make([]byte, 0, len(topic)+1+len(payload))
	frame = append(frame, topic...)
	frame = append(frame, ' ')
	return append(frame, payload...)
}

// DecodeFrame splits a frame produced by EncodeFrame.
func DecodeFrame(frame []byte) (Message, error) {
	i := bytes.IndexByte(frame, ' ')
	if i <= 0 {
		return Message{}, fmt.Errorf("%w: no topic prefix", ErrBadFrame)
	}
	return Message{Topic: string(frame[:i]), Payload: frame[i+1:]}, nil
}

func validTopic(topic string) error {
	if topic == "" || strings.ContainsAny(topic, " \t\r\n") {
		return fmt.Errorf("invalid topic %q", topic)
	}
	return nil
}
