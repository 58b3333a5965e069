// Package feature defines the BlueST feature decode contract, the sample model
// and the built-in decoders.
//
// A Decoder is a stateless description of one feature type: its name, its
// Fields and how to turn bytes into a Sample. A *Feature wraps a Decoder for
// one node and carries the mutable part: last sample, listeners, loggers and
// the enabled/notifying flags.
package feature

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluest/internal/dispatch"
)

// Decoder turns characteristic bytes into a Sample.
//
// Extract reads from data starting at offset and returns the sample together
// with the number of bytes consumed. It must return an ErrInsufficientData
// error instead of reading past the end of data.
type Decoder interface {
	Name() string
	Fields() []Field
	Extract(ts uint16, data []byte, offset int) (Sample, int, error)
}

// Constructor builds a fresh Decoder.
type Constructor func() Decoder

// Scheduler runs listener callbacks away from the decode path. Tasks sharing
// a key run in submission order.
type Scheduler interface {
	Schedule(key string, task func()) error
}

// Listener receives decoded samples.
type Listener interface {
	OnUpdate(f *Feature, s Sample)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(f *Feature, s Sample)

func (fn ListenerFunc) OnUpdate(f *Feature, s Sample) { fn(f, s) }

// Logger receives the raw bytes alongside each decoded sample.
type Logger interface {
	LogUpdate(f *Feature, raw []byte, s Sample)
}

// NoBit marks a feature that was not built from a capability bit.
const NoBit = -1

type registration[T any] struct {
	id uint64
	v  T
}

// Feature is the per-node instance of a decoder.
type Feature struct {
	decoder   Decoder
	owner     string
	bit       int
	scheduler Scheduler
	logger    *logrus.Logger

	mu        sync.RWMutex
	last      *Sample
	listeners []registration[Listener]
	loggers   []registration[Logger]
	nextID    uint64

	enabled   atomic.Bool
	notifying atomic.Bool
}

// Option configures a Feature.
type Option func(*Feature)

// WithOwner sets the address of the node the feature belongs to.
func WithOwner(address string) Option {
	return func(f *Feature) { f.owner = address }
}

// WithBit records the capability bit the feature was resolved from.
func WithBit(bit int) Option {
	return func(f *Feature) { f.bit = bit }
}

// WithScheduler sets where listener callbacks run.
func WithScheduler(s Scheduler) Option {
	return func(f *Feature) { f.scheduler = s }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(f *Feature) { f.logger = l }
}

// New wraps a decoder. Without a scheduler every notification runs on its own
// goroutine, so ordering is only guaranteed when a Scheduler is supplied.
func New(d Decoder, opts ...Option) *Feature {
	f := &Feature{decoder: d, bit: NoBit}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = logrus.New()
	}
	if f.scheduler == nil {
		f.scheduler = dispatch.NewSerial(f.logger)
	}
	return f
}

func (f *Feature) Name() string      { return f.decoder.Name() }
func (f *Feature) Fields() []Field   { return f.decoder.Fields() }
func (f *Feature) Decoder() Decoder  { return f.decoder }
func (f *Feature) Bit() int          { return f.bit }
func (f *Feature) Owner() string     { return f.owner }
func (f *Feature) Enabled() bool     { return f.enabled.Load() }
func (f *Feature) Notifying() bool   { return f.notifying.Load() }
func (f *Feature) SetEnabled(v bool) { f.enabled.Store(v) }

// SetNotifying is maintained by the node when notifications are toggled.
func (f *Feature) SetNotifying(v bool) { f.notifying.Store(v) }

// Key identifies the feature's dispatch lane.
func (f *Feature) Key() string {
	return "feature/" + f.owner + "/" + f.decoder.Name()
}

// Sample returns the last decoded sample, or nil before the first update.
func (f *Feature) Sample() *Sample {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.last == nil {
		return nil
	}
	s := *f.last
	return &s
}

// Extract decodes without touching any state.
func (f *Feature) Extract(ts uint16, data []byte, offset int) (Sample, int, error) {
	s, n, err := f.decoder.Extract(ts, data, offset)
	if err != nil {
		return Sample{}, 0, err
	}
	if n <= 0 || offset+n > len(data) {
		return Sample{}, 0, fmt.Errorf("%s: decoder consumed %d bytes at offset %d of %d", f.Name(), n, offset, len(data))
	}
	return s, n, nil
}

// Update decodes data and commits the resulting sample.
func (f *Feature) Update(ts uint16, data []byte, offset int) (int, error) {
	s, n, err := f.Extract(ts, data, offset)
	if err != nil {
		return 0, err
	}
	return n, f.Commit(s, data[offset:offset+n])
}

// Commit stores s as the last sample and schedules listener delivery.
func (f *Feature) Commit(s Sample, raw []byte) error {
	f.mu.Lock()
	f.last = &s
	listeners := make([]Listener, 0, len(f.listeners))
	for _, r := range f.listeners {
		listeners = append(listeners, r.v)
	}
	loggers := make([]Logger, 0, len(f.loggers))
	for _, r := range f.loggers {
		loggers = append(loggers, r.v)
	}
	f.mu.Unlock()

	if len(listeners) == 0 && len(loggers) == 0 {
		return nil
	}

	rawCopy := append([]byte(nil), raw...)
	err := f.scheduler.Schedule(f.Key(), func() {
		for _, l := range loggers {
			l.LogUpdate(f, rawCopy, s)
		}
		for _, l := range listeners {
			l.OnUpdate(f, s)
		}
	})
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"feature": f.Name(),
			"node":    f.owner,
			"error":   err,
		}).Warn("Failed to schedule sample notification")
		return fmt.Errorf("%s: notify: %w", f.Name(), err)
	}
	return nil
}

// AddListener registers l and returns a function that removes it.
func (f *Feature) AddListener(l Listener) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, registration[Listener]{id: id, v: l})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners = removeID(f.listeners, id)
	}
}

// AddLogger registers l and returns a function that removes it.
func (f *Feature) AddLogger(l Logger) (remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.loggers = append(f.loggers, registration[Logger]{id: id, v: l})
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.loggers = removeID(f.loggers, id)
	}
}

// ListenerCount is the number of registered listeners.
func (f *Feature) ListenerCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.listeners)
}

// ClearListeners drops every listener and logger.
func (f *Feature) ClearListeners() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = nil
	f.loggers = nil
}

func (f *Feature) String() string {
	s := f.Sample()
	if s == nil {
		return f.Name() + ": no data"
	}
	return f.Name() + ": " + FormatSample(*s)
}

func removeID[T any](regs []registration[T], id uint64) []registration[T] {
	for i, r := range regs {
		if r.id == id {
			return append(regs[:i:i], regs[i+1:]...)
		}
	}
	return regs
}
