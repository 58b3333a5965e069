// Package dispatch runs listener callbacks on keyed serial lanes.
//
// Every key hashes onto one of N lanes; a lane is a single-worker pool, so
// tasks submitted under the same key run one at a time in submission order
// while different keys proceed concurrently. Callers use "node/<addr>" for
// state events, "feature/<addr>/<name>" for samples and "manager" for
// discovery events.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluest/internal/worker"
)

// ErrDispatcherStopped is returned by Schedule after Stop.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Config sizes a Dispatcher. Zero fields take their default tag.
type Config struct {
	Lanes     int `yaml:"lanes" default:"8"`
	QueueSize int `yaml:"queue_size" default:"256"`
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRegisterer publishes lane metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.registerer = reg }
}

// WithLogger sets the logger used to report listener panics.
func WithLogger(l *logrus.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher implements feature.Scheduler.
type Dispatcher struct {
	lanes      []*worker.Pool[func()]
	logger     *logrus.Logger
	registerer prometheus.Registerer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
}

// New creates and starts a dispatcher.
func New(cfg Config, opts ...Option) (*Dispatcher, error) {
	defaults.SetDefaults(&cfg)
	if cfg.Lanes <= 0 {
		return nil, fmt.Errorf("dispatcher lanes must be > 0, got %d", cfg.Lanes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		lanes:  make([]*worker.Pool[func()], cfg.Lanes),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logrus.New()
	}

	for i := range d.lanes {
		lane := strconv.Itoa(i)
		poolOpts := []worker.Option[func()]{
			worker.WithName[func()]("dispatch-lane-" + lane),
			worker.WithPanicHandler[func()](d.panicHandler(lane)),
		}
		if d.registerer != nil {
			poolOpts = append(poolOpts, worker.WithMetrics[func()](d.registerer, prometheus.Labels{"lane": lane}))
		}

		pool, err := worker.NewPool(1, cfg.QueueSize, run, poolOpts...)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("dispatch lane %s: %w", lane, err)
		}
		if err := pool.Start(ctx); err != nil {
			cancel()
			return nil, fmt.Errorf("dispatch lane %s: %w", lane, err)
		}
		d.lanes[i] = pool
	}

	return d, nil
}

func run(_ context.Context, task func()) error {
	task()
	return nil
}

func (d *Dispatcher) panicHandler(lane string) func(any, []byte) {
	return func(r any, stack []byte) {
		d.logger.WithFields(logrus.Fields{
			"lane":  lane,
			"panic": r,
			"stack": string(stack),
		}).Error("Listener panicked")
	}
}

// Lane returns the lane index key maps to.
func (d *Dispatcher) Lane(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.lanes)))
}

// Schedule queues task on the lane of key, blocking while that lane is full.
func (d *Dispatcher) Schedule(key string, task func()) error {
	d.mu.RLock()
	stopped := d.stopped
	d.mu.RUnlock()
	if stopped {
		return ErrDispatcherStopped
	}

	err := d.lanes[d.Lane(key)].SubmitWait(d.ctx, task)
	if errors.Is(err, worker.ErrPoolStopped) || errors.Is(err, context.Canceled) {
		return ErrDispatcherStopped
	}
	return err
}

// Stop rejects new tasks and waits up to timeout for queued ones to finish.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	deadline := time.Now().Add(timeout)
	var errs []error
	for i, lane := range d.lanes {
		if err := lane.Stop(time.Until(deadline)); err != nil {
			errs = append(errs, fmt.Errorf("lane %d: %w", i, err))
		}
	}
	d.cancel()
	return errors.Join(errs...)
}

// Stats aggregates the statistics of every lane.
func (d *Dispatcher) Stats() worker.PoolStats {
	var total worker.PoolStats
	for _, lane := range d.lanes {
		s := lane.Stats()
		total.Workers += s.Workers
		total.QueueSize += s.QueueSize
		total.QueueDepth += s.QueueDepth
		total.Submitted += s.Submitted
		total.Processed += s.Processed
		total.Failed += s.Failed
		total.Dropped += s.Dropped
	}
	return total
}
