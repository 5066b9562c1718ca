package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register transports
	_ "go.nanomsg.org/mangos/v3/transport/inproc"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

// NNGConfig describes the two sockets of an NNGBus.
type NNGConfig struct {
	// PublishAddr is where the PUB socket listens (or dials).
	PublishAddr string
	// SubscribeAddr is where the SUB socket listens (or dials).
	SubscribeAddr string
	// Dial makes both sockets connect out instead of listening. The
	// simulator listens; controllers dial.
	Dial bool
	// PollInterval bounds how long a receive blocks before the
	// subscription re-checks its context.
	PollInterval time.Duration
}

// NNGBus is a Bus over mangos PUB/SUB sockets. mangos owns reconnects:
// a dialling bus keeps retrying until its peer appears.
type NNGBus struct {
	cfg NNGConfig

	pubMu sync.Mutex
	pub   mangos.Socket
	sub   mangos.Socket

	subMu  sync.Mutex
	topics map[string]Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// NewNNGBus opens both sockets and binds or connects them.
func NewNNGBus(cfg NNGConfig) (*NNGBus, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	pubSock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("nng pub socket: %w", err)
	}
	subSock, err := sub.NewSocket()
	if err != nil {
		_ = pubSock.Close()
		return nil, fmt.Errorf("nng sub socket: %w", err)
	}
	b := &NNGBus{
		cfg:    cfg,
		pub:    pubSock,
		sub:    subSock,
		topics: make(map[string]Handler),
		closed: make(chan struct{}),
	}
	if err := subSock.SetOption(mangos.OptionRecvDeadline, cfg.PollInterval); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("nng recv deadline: %w", err)
	}

	if cfg.PublishAddr != "" {
		if err := b.attach(pubSock, cfg.PublishAddr); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("nng pub %s: %w", cfg.PublishAddr, err)
		}
	}
	if cfg.SubscribeAddr != "" {
		if err := b.attach(subSock, cfg.SubscribeAddr); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("nng sub %s: %w", cfg.SubscribeAddr, err)
		}
	}
	return b, nil
}

func (b *NNGBus) attach(sock mangos.Socket, addr string) error {
	if b.cfg.Dial {
		return sock.DialOptions(addr, map[string]interface{}{mangos.OptionDialAsynch: true})
	}
	return sock.Listen(addr)
}

// Publish sends one frame. A PUB socket never blocks: frames with no
// connected subscriber are dropped by mangos.
func (b *NNGBus) Publish(_ context.Context, topic string, payload []byte) error {
	if err := validTopic(topic); err != nil {
		return err
	}
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pub.Send(EncodeFrame(topic, payload)); err != nil {
		if errors.Is(err, mangos.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("nng publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h for topic and runs a receive loop until ctx is
// done or the bus is closed. All subscriptions share the bus's SUB
// socket; whichever loop receives a frame hands it to the handler
// registered for the frame's topic.
func (b *NNGBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	if err := validTopic(topic); err != nil {
		return err
	}
	if err := b.sub.SetOption(mangos.OptionSubscribe, []byte(topic+" ")); err != nil {
		return fmt.Errorf("nng subscribe %s: %w", topic, err)
	}
	b.subMu.Lock()
	b.topics[topic] = h
	b.subMu.Unlock()

	defer func() {
		b.subMu.Lock()
		delete(b.topics, topic)
		b.subMu.Unlock()
		_ = b.sub.SetOption(mangos.OptionUnsubscribe, []byte(topic+" "))
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.closed:
			return nil
		default:
		}

		frame, err := b.sub.Recv()
		if err != nil {
			switch {
			case errors.Is(err, mangos.ErrRecvTimeout):
				continue
			case errors.Is(err, mangos.ErrClosed):
				return nil
			default:
				return fmt.Errorf("nng receive: %w", err)
			}
		}
		msg, err := DecodeFrame(frame)
		if err != nil {
			continue
		}
		b.subMu.Lock()
		handler := b.topics[msg.Topic]
		b.subMu.Unlock()
		if handler != nil {
			handler(ctx, msg)
		}
	}
}

// Close shuts both sockets.
func (b *NNGBus) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		close(b.closed)
		if err := b.sub.Close(); err != nil && !errors.Is(err, mangos.ErrClosed) {
			errs = append(errs, err)
		}
		b.pubMu.Lock()
		if err := b.pub.Close(); err != nil && !errors.Is(err, mangos.ErrClosed) {
			errs = append(errs, err)
		}
		b.pubMu.Unlock()
	})
	return errors.Join(errs...)
}
