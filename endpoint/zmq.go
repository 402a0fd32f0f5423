package endpoint

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	zmq "github.com/pebbe/zmq4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mhcomm/pypeman/channel"
	"github.com/mhcomm/pypeman/message"
	"github.com/mhcomm/pypeman/node"
)

// ZMQPull drains a ZeroMQ PULL socket into a channel. Frames are msgpack
// decoded into the message payload; undecodable frames are injected as raw
// bytes.
type ZMQPull struct {
	name   string
	addr   string
	bind   bool
	ch     *channel.Channel
	logger zerolog.Logger

	mu   sync.Mutex
	sock *zmq.Socket
	stop chan struct{}
	done chan struct{}
}

// NewZMQPull builds a PULL endpoint on addr (e.g. "tcp://*:5555"). With
// bind the socket binds, otherwise it connects.
func NewZMQPull(name, addr string, bind bool, ch *channel.Channel, logger zerolog.Logger) *ZMQPull {
	return &ZMQPull{
		name:   name,
		addr:   addr,
		bind:   bind,
		ch:     ch,
		logger: logger.With().Str("endpoint", name).Logger(),
	}
}

func (z *ZMQPull) Name() string { return z.name }

// Start opens the socket and launches the receive loop.
func (z *ZMQPull) Start(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if z.sock != nil {
		return fmt.Errorf("endpoint %s: already started", z.name)
	}
	sock, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		return fmt.Errorf("endpoint %s: socket: %w", z.name, err)
	}
	_ = sock.SetLinger(0)
	_ = sock.SetRcvtimeo(time.Second)
	if z.bind {
		err = sock.Bind(z.addr)
	} else {
		err = sock.Connect(z.addr)
	}
	if err != nil {
		sock.Close() //nolint:errcheck
		return fmt.Errorf("endpoint %s: attach %s: %w", z.name, z.addr, err)
	}
	z.sock = sock
	z.stop = make(chan struct{})
	z.done = make(chan struct{})
	go z.loop(sock, z.stop, z.done)
	z.logger.Info().Str("addr", z.addr).Bool("bind", z.bind).Msg("zmq endpoint started")
	return nil
}

func (z *ZMQPull) loop(sock *zmq.Socket, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		frame, err := sock.RecvBytes(0)
		if err != nil {
			// Receive timeout, used as the stop poll interval.
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			z.logger.Error().Err(err).Msg("zmq receive failed")
			continue
		}
		z.inject(frame)
	}
}

func (z *ZMQPull) inject(frame []byte) {
	var payload any
	if err := msgpack.Unmarshal(frame, &payload); err != nil {
		payload = frame
	}
	msg := message.New(payload)
	msg.Meta["transport"] = "zmq"
	if _, err := z.ch.Handle(context.Background(), msg); err != nil && !node.IsDropped(err) {
		z.logger.Error().Err(err).Msg("zmq message failed")
	}
}

// Stop terminates the receive loop, waits for it to exit and closes the
// socket.
func (z *ZMQPull) Stop(ctx context.Context) error {
	z.mu.Lock()
	sock, stop, done := z.sock, z.stop, z.done
	z.sock, z.stop, z.done = nil, nil, nil
	z.mu.Unlock()
	if sock == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return sock.Close()
}
