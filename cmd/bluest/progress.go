package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// Countdown prints "<prefix> (<n>s)" on one line until Stop is called.
//
// A Countdown is single-use: Start at most once, then Stop. Stop is safe to
// call more than once.
type Countdown struct {
	w        io.Writer
	prefix   string
	duration time.Duration

	started atomic.Bool
	once    sync.Once
	stop    chan struct{}
	done    chan struct{}
}

// NewCountdown returns a Countdown writing to w, or nil when w is not a
// terminal. Both methods are no-ops on a nil Countdown.
func NewCountdown(w io.Writer, prefix string, duration time.Duration) *Countdown {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return &Countdown{
		w:        w,
		prefix:   prefix,
		duration: duration,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (c *Countdown) Start() {
	if c == nil || !c.started.CompareAndSwap(false, true) {
		return
	}
	start := time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	faint := color.New(color.Faint)

	go func() {
		defer close(c.done)
		defer ticker.Stop()
		for {
			remaining := c.duration - time.Since(start)
			if remaining > 0 {
				// round to the nearest second: 3.7s shows as 4s
				faint.Fprintf(c.w, "\r%s (%ds)   ", c.prefix, int(remaining.Seconds()+0.5))
			} else {
				faint.Fprintf(c.w, "\r%s (finishing...)   ", c.prefix)
			}
			select {
			case <-c.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop terminates the display and clears the line.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		close(c.stop)
		if !c.started.Load() {
			return
		}
		<-c.done
		fmt.Fprint(c.w, clearLineSequence)
	})
}
