// Package ptyio owns a pseudo-terminal pair and moves bytes between its
// master side and two ring buffers, so writers never block on a slow
// terminal program and readers get input through a callback.
//
// Bytes queued with Write travel master → slave (what the terminal program
// reads). Bytes the terminal program writes to the slave are delivered to
// the read callback, or kept in the input ring until one is set.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/bluest/internal/groutine"
)

// Options sizes the rings and the poll period. Zero fields take their default.
type Options struct {
	// InputCap bounds bytes read from the slave and not yet delivered.
	InputCap int `default:"4096"`
	// OutputCap bounds bytes queued for the slave.
	OutputCap int `default:"4096"`
	// PollTimeout is the longest a loop sleeps before noticing Close.
	PollTimeout time.Duration `default:"50ms"`
	Logger      *logrus.Logger
	// OnError is called once per loop when the loop dies on an I/O error.
	OnError func(error)
}

// Stats counts traffic through the pair.
type Stats struct {
	InputQueued   int
	OutputQueued  int
	InputDropped  uint64
	OutputDropped uint64
	BytesIn       uint64
	BytesOut      uint64
}

// PTY is a running pseudo-terminal pair.
type PTY struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	name    string
	poll    int
	onError func(error)
	errOnce sync.Once

	in  *ringbuffer.RingBuffer
	out *ringbuffer.RingBuffer

	readCb   atomic.Pointer[func([]byte)]
	inReady  chan struct{}
	outReady chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	inDropped, outDropped atomic.Uint64
	bytesIn, bytesOut     atomic.Uint64
}

// Open creates a raw mode pair and starts its loops.
func Open(opts Options) (*PTY, error) {
	defaults.SetDefaults(&opts)
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &PTY{
		logger:   logger,
		master:   master,
		slave:    slave,
		name:     slave.Name(),
		poll:     int(opts.PollTimeout / time.Millisecond),
		onError:  opts.OnError,
		in:       ringbuffer.New(opts.InputCap),
		out:      ringbuffer.New(opts.OutputCap),
		inReady:  make(chan struct{}, 1),
		outReady: make(chan struct{}, 1),
		cancel:   cancel,
	}
	if p.poll <= 0 {
		p.poll = 1
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-input", func(ctx context.Context) {
		defer p.wg.Done()
		p.inputLoop(ctx)
	})
	groutine.Go(ctx, "pty-output", func(ctx context.Context) {
		defer p.wg.Done()
		p.outputLoop(ctx)
	})
	groutine.Go(ctx, "pty-deliver", func(ctx context.Context) {
		defer p.wg.Done()
		p.deliverLoop(ctx)
	})

	logger.WithField("tty", p.name).Debug("PTY opened")
	return p, nil
}

func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}
	fail := func(step string, err error) (*os.File, *os.File, error) {
		return nil, nil, errors.Join(
			fmt.Errorf("failed to set PTY %s %s: %w", slave.Name(), step, err),
			master.Close(),
			slave.Close(),
		)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("to raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("master nonblocking", err)
	}
	return master, slave, nil
}

// Name returns the slave device path, e.g. /dev/pts/5.
func (p *PTY) Name() string { return p.name }

// Write queues data for the slave. When the ring is full the excess is
// dropped and n reports how much was queued.
func (p *PTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	// a full ring writes what fits and reports an error; the shortfall is
	// what matters here
	n, _ := p.out.Write(data)
	if n > 0 {
		select {
		case p.outReady <- struct{}{}:
		default:
		}
	}
	if n < len(data) {
		p.outDropped.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{
			"tty":     p.name,
			"dropped": len(data) - n,
		}).Warn("PTY output ring full")
	}
	return n, nil
}

// Read takes buffered slave input without blocking. It returns EAGAIN when
// nothing is buffered.
func (p *PTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.in.TryRead(b)
	if n == 0 || errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// SetReadCallback delivers slave input to cb from a background goroutine.
// cb must not keep the slice. nil stops delivery; input then stays in the
// ring for Read.
func (p *PTY) SetReadCallback(cb func([]byte)) {
	if cb == nil {
		p.readCb.Store(nil)
		return
	}
	p.readCb.Store(&cb)
	p.signalInput()
}

func (p *PTY) signalInput() {
	select {
	case p.inReady <- struct{}{}:
	default:
	}
}

// Stats returns current counters.
func (p *PTY) Stats() Stats {
	return Stats{
		InputQueued:   p.in.Length(),
		OutputQueued:  p.out.Length(),
		InputDropped:  p.inDropped.Load(),
		OutputDropped: p.outDropped.Load(),
		BytesIn:       p.bytesIn.Load(),
		BytesOut:      p.bytesOut.Load(),
	}
}

// Close stops the loops and closes both ends. It is safe to call twice.
func (p *PTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	err := errors.Join(p.master.Close(), p.slave.Close())

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.WithField("tty", p.name).Error("PTY loops did not stop in time")
	}
	return err
}

func (p *PTY) fail(loop string, err error) {
	p.logger.WithFields(logrus.Fields{
		"tty":   p.name,
		"loop":  loop,
		"error": err,
	}).Warn("PTY loop stopped")
	if p.onError != nil {
		p.errOnce.Do(func() { p.onError(fmt.Errorf("pty %s: %w", loop, err)) })
	}
}

// transient reports errors a nonblocking descriptor returns while idle.
func transient(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// closing reports errors seen once Close has run.
func closing(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EBADF) || errors.Is(err, io.EOF)
}

func (p *PTY) inputLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		ready, err := unix.Poll(fds, p.poll)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithField("error", err).Debug("PTY input poll")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			p.bytesIn.Add(uint64(n))
			written, _ := p.in.Write(buf[:n])
			if written < n {
				p.inDropped.Add(uint64(n - written))
			}
			p.signalInput()
		}
		switch {
		case err == nil, transient(err):
		case closing(err):
			return
		default:
			p.fail("input", err)
			return
		}
	}
}

func (p *PTY) outputLoop(ctx context.Context) {
	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)
	for ctx.Err() == nil {
		n, _ := p.out.TryRead(buf)
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-p.outReady:
			}
			continue
		}
		for off := 0; off < n && ctx.Err() == nil; {
			w, err := p.master.Write(buf[off:n])
			off += w
			p.bytesOut.Add(uint64(w))
			switch {
			case err == nil:
			case transient(err):
				_, _ = unix.Poll(fds, p.poll)
			case closing(err):
				return
			default:
				p.fail("output", err)
				return
			}
		}
	}
}

func (p *PTY) deliverLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.inReady:
		}
		for ctx.Err() == nil {
			cb := p.readCb.Load()
			if cb == nil {
				break
			}
			n, _ := p.in.TryRead(buf)
			if n == 0 {
				break
			}
			p.deliver(*cb, buf[:n])
		}
	}
}

func (p *PTY) deliver(cb func([]byte), data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.readCb.Store(nil)
			p.fail("deliver", fmt.Errorf("read callback panic: %v", r))
		}
	}()
	cb(data)
}
