package console

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/srg/bluest/internal/ptyio"
)

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// Link, when set, is a symlink created to the PTY slave, e.g. /tmp/node.
	Link   string
	Logger *logrus.Logger
	// PTY sizes the terminal rings.
	PTY ptyio.Options
}

// Bridge exposes an open console on a pseudo-terminal: what the node prints
// appears on the slave and what is typed there is sent to the node.
type Bridge struct {
	console *Console
	pty     *ptyio.PTY
	link    string
	logger  *logrus.Logger
	cancel  context.CancelFunc
	detach  func()
}

// NewBridge opens a PTY for c. c must be open.
func NewBridge(c *Console, opts BridgeOptions) (*Bridge, error) {
	logger := opts.Logger
	if logger == nil {
		logger = c.logger
	}
	if opts.PTY.Logger == nil {
		opts.PTY.Logger = logger
	}

	p, err := ptyio.Open(opts.PTY)
	if err != nil {
		return nil, err
	}
	b := &Bridge{console: c, pty: p, logger: logger}

	if opts.Link != "" {
		if err := os.Symlink(p.Name(), opts.Link); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.Link, p.Name(), err)
		}
		b.link = opts.Link
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.detach = c.AddListener(ListenerFunc(func(_ *Console, _ Stream, text []byte) {
		if _, err := p.Write(text); err != nil {
			logger.WithField("error", err).Debug("Dropped console output")
		}
	}))
	p.SetReadCallback(func(data []byte) {
		if _, err := c.Write(ctx, data); err != nil {
			logger.WithFields(logrus.Fields{
				"node":  c.node.Address(),
				"error": err,
			}).Warn("Failed to forward terminal input")
		}
	})

	logger.WithFields(logrus.Fields{
		"tty":  p.Name(),
		"link": b.link,
		"node": c.node.FriendlyName(),
	}).Info("Console bridge running")
	return b, nil
}

// TTYName returns the PTY slave path.
func (b *Bridge) TTYName() string { return b.pty.Name() }

// Link returns the symlink path, empty when none was requested.
func (b *Bridge) Link() string { return b.link }

// Stats returns the PTY counters.
func (b *Bridge) Stats() ptyio.Stats { return b.pty.Stats() }

// Close detaches from the console, removes the symlink and closes the PTY.
// The console itself stays open.
func (b *Bridge) Close() error {
	b.detach()
	b.pty.SetReadCallback(nil)
	b.cancel()
	if b.link != "" {
		if err := os.Remove(b.link); err != nil && !os.IsNotExist(err) {
			b.logger.WithFields(logrus.Fields{
				"link":  b.link,
				"error": err,
			}).Warn("Failed to remove tty symlink")
		}
	}
	return b.pty.Close()
}
