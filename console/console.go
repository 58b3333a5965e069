// Package console talks to the BlueST debug service of a connected node.
//
// The node prints on two notifying characteristics, one for regular output
// and one for errors, and reads commands written to the terminal
// characteristic. Output is kept in a bounded ring for Read and forwarded
// to listeners in arrival order.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/node"
	"github.com/srg/bluest/registry"
	"github.com/srg/bluest/transport"
)

// MaxChunk is the largest write the terminal characteristic accepts.
const MaxChunk = node.MaxPayload

// ErrClosed is returned by operations on a closed console.
var ErrClosed = errors.New("console closed")

// Stream tells regular output from error output.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Listener receives console output on the console's dispatch lane.
type Listener interface {
	OnOutput(c *Console, s Stream, text []byte)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(c *Console, s Stream, text []byte)

func (fn ListenerFunc) OnOutput(c *Console, s Stream, text []byte) { fn(c, s, text) }

type listenerReg struct {
	id uint64
	l  Listener
}

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(c *Console) { c.logger = l }
}

// WithScheduler runs listeners on s.
func WithScheduler(s feature.Scheduler) Option {
	return func(c *Console) { c.scheduler = s }
}

// WithBufferSize bounds the output ring in bytes.
func WithBufferSize(n int) Option {
	return func(c *Console) { c.bufSize = n }
}

// Console is an open debug session with one node.
type Console struct {
	node      *node.Node
	transport transport.Transport
	logger    *logrus.Logger
	scheduler feature.Scheduler
	bufSize   int

	out *ringbuffer.RingBuffer

	mu         sync.Mutex
	open       bool
	subscribed []string
	listeners  []listenerReg
	nextID     uint64
	writeMu    sync.Mutex
}

// New prepares a console for n. Call Open once n is connected.
func New(n *node.Node, t transport.Transport, opts ...Option) *Console {
	c := &Console{
		node:      n,
		transport: t,
		bufSize:   4096,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
	}
	if c.scheduler == nil {
		c.scheduler = inline{}
	}
	c.out = ringbuffer.New(c.bufSize)
	return c
}

type inline struct{}

func (inline) Schedule(_ string, task func()) error {
	task()
	return nil
}

// Key is the dispatch key of console output.
func (c *Console) Key() string { return "console/" + c.node.Address() }

// Node returns the node the console talks to.
func (c *Console) Node() *node.Node { return c.node }

// Open subscribes to the output characteristics. A node without the error
// stream is accepted.
func (c *Console) Open(ctx context.Context) error {
	if c.node.State() != node.StateConnected {
		return fmt.Errorf("console %s: %w", c.node.Address(), node.ErrNotConnected)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}

	streams := []struct {
		id     string
		stream Stream
	}{
		{registry.DebugTerminal, Stdout},
		{registry.DebugStderr, Stderr},
	}
	for _, s := range streams {
		stream := s.stream
		err := c.transport.Subscribe(ctx, c.node.Address(), s.id, func(data []byte) {
			c.received(stream, data)
		})
		switch {
		case err == nil:
			c.subscribed = append(c.subscribed, s.id)
		case stream == Stderr && errors.Is(err, transport.ErrNotFound):
			c.logger.WithField("node", c.node.Address()).Debug("Node has no stderr characteristic")
		default:
			c.unsubscribeLocked(ctx)
			return fmt.Errorf("console %s: subscribe %s: %w", c.node.Address(), stream, err)
		}
	}
	c.open = true
	c.logger.WithField("node", c.node.FriendlyName()).Info("Console opened")
	return nil
}

func (c *Console) unsubscribeLocked(ctx context.Context) error {
	var errs []error
	for _, id := range c.subscribed {
		if err := c.transport.Unsubscribe(ctx, c.node.Address(), id); err != nil {
			errs = append(errs, err)
		}
	}
	c.subscribed = nil
	return errors.Join(errs...)
}

// Close unsubscribes. Buffered output stays readable.
func (c *Console) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.open = false
	err := c.unsubscribeLocked(ctx)
	if errors.Is(err, transport.ErrNotConnected) {
		// the link is gone and took the subscriptions with it
		err = nil
	}
	return err
}

func (c *Console) received(s Stream, data []byte) {
	text := append([]byte(nil), data...)
	if n, _ := c.out.Write(text); n < len(text) {
		c.logger.WithFields(logrus.Fields{
			"node":    c.node.Address(),
			"dropped": len(text) - n,
		}).Debug("Console buffer full")
	}

	c.mu.Lock()
	listeners := make([]Listener, len(c.listeners))
	for i, r := range c.listeners {
		listeners[i] = r.l
	}
	c.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	err := c.scheduler.Schedule(c.Key(), func() {
		for _, l := range listeners {
			l.OnOutput(c, s, text)
		}
	})
	if err != nil {
		c.logger.WithField("error", err).Warn("Failed to schedule console output")
	}
}

// AddListener registers l and returns a function that removes it.
func (c *Console) AddListener(l Listener) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerReg{id: id, l: l})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, r := range c.listeners {
			if r.id == id {
				c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
				return
			}
		}
	}
}

// Read drains buffered output of both streams. It returns 0, nil when
// nothing is buffered.
func (c *Console) Read(p []byte) (int, error) {
	n, err := c.out.TryRead(p)
	if errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, nil
	}
	return n, err
}

// Write sends data to the terminal characteristic in chunks of at most
// MaxChunk bytes. On failure n counts the bytes of the chunks written.
func (c *Console) Write(ctx context.Context, data []byte) (int, error) {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()
	if !open {
		return 0, ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	written := 0
	for written < len(data) {
		end := min(written+MaxChunk, len(data))
		if err := c.transport.Write(ctx, c.node.Address(), registry.DebugTerminal, data[written:end]); err != nil {
			return written, fmt.Errorf("console %s: write: %w", c.node.Address(), err)
		}
		written = end
	}
	return written, nil
}

// Send writes a command line, appending a newline when missing.
func (c *Console) Send(ctx context.Context, command string) error {
	if len(command) == 0 || command[len(command)-1] != '\n' {
		command += "\n"
	}
	_, err := c.Write(ctx, []byte(command))
	return err
}
