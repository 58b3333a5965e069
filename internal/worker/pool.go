// Package worker provides a generic bounded worker pool.
//
// Work is queued on a buffered channel and processed by a fixed number of
// goroutines. Submit fails fast with ErrQueueFull; SubmitWait applies
// backpressure and blocks until the queue has room. A panicking processor is
// recovered, counted as a failure and reported to the configured handler.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/srg/bluest/internal/groutine"
)

// Pool processes work items of type T.
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error
	onPanic   func(recovered any, stack []byte)

	workChan chan T
	stopping chan struct{}
	draining chan struct{}
	metrics  *Metrics
	wg       *sync.WaitGroup
	// senders counts Submit calls past the acceptance check; workers drain
	// only once they are all done.
	senders sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	registerer prometheus.Registerer
	labels     prometheus.Labels
}

// Metrics holds Prometheus metrics for worker pool monitoring.
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool.
type Option[T any] func(*Pool[T])

// WithName names the pool's goroutines.
func WithName[T any](name string) Option[T] {
	return func(p *Pool[T]) { p.name = name }
}

// WithMetrics registers the pool's metrics with reg. Pools sharing a
// registerer must use distinct const label values.
func WithMetrics[T any](reg prometheus.Registerer, labels prometheus.Labels) Option[T] {
	return func(p *Pool[T]) {
		p.registerer = reg
		p.labels = labels
	}
}

// WithPanicHandler is called with the recovered value when the processor panics.
func WithPanicHandler[T any](fn func(recovered any, stack []byte)) Option[T] {
	return func(p *Pool[T]) { p.onPanic = fn }
}

// NewPool creates a pool. Non-positive sizes fall back to one worker and a
// queue of 256.
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) (*Pool[T], error) {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		return nil, ErrNilProcessor
	}

	pool := &Pool[T]{
		name:      "worker",
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		stopping:  make(chan struct{}),
		draining:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}

	if pool.registerer != nil {
		if err := pool.initializeMetrics(); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

func (p *Pool[T]) initializeMetrics() error {
	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bluest", Subsystem: "worker", Name: "queue_depth",
			Help: "Current worker pool queue depth", ConstLabels: p.labels,
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bluest", Subsystem: "worker", Name: "submitted_total",
			Help: "Total work items submitted", ConstLabels: p.labels,
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bluest", Subsystem: "worker", Name: "processed_total",
			Help: "Total work items processed", ConstLabels: p.labels,
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bluest", Subsystem: "worker", Name: "failed_total",
			Help: "Total work items that failed or panicked", ConstLabels: p.labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bluest", Subsystem: "worker", Name: "dropped_total",
			Help: "Total work items rejected because the queue was full", ConstLabels: p.labels,
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bluest", Subsystem: "worker", Name: "processing_duration_seconds",
			Help:        "Time spent processing work items",
			Buckets:     []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			ConstLabels: p.labels,
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{
		m.queueDepth, m.submitted, m.processed, m.failed, m.dropped, m.processingTime,
	} {
		if err := p.registerer.Register(c); err != nil {
			return fmt.Errorf("register worker metrics: %w", err)
		}
	}
	p.metrics = m
	return nil
}

// Start launches the workers. ctx cancellation stops them without draining.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	p.wg = &sync.WaitGroup{}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		groutine.Go(ctx, p.name+"-"+strconv.Itoa(i), p.worker)
	}

	p.started = true
	return nil
}

// Submit queues work without blocking. Returns ErrQueueFull when the queue is at capacity.
func (p *Pool[T]) Submit(work T) error {
	if err := p.accepting(); err != nil {
		return err
	}
	defer p.senders.Done()

	select {
	case p.workChan <- work:
		p.recordSubmit()
		return nil
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait queues work, waiting for room while the queue is full.
func (p *Pool[T]) SubmitWait(ctx context.Context, work T) error {
	if err := p.accepting(); err != nil {
		return err
	}
	defer p.senders.Done()

	select {
	case p.workChan <- work:
		p.recordSubmit()
		return nil
	case <-p.stopping:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) accepting() error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	p.senders.Add(1)
	return nil
}

func (p *Pool[T]) recordSubmit() {
	p.submitted.Add(1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

// Stop rejects new work and waits up to timeout for queued work to finish.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopping)
	wg := p.wg
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.senders.Wait()
		close(p.draining)
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
	}
}

// PoolStats represents worker pool statistics.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work := <-p.workChan:
			p.process(ctx, work)
		case <-p.draining:
			// drain what was accepted before Stop
			for {
				select {
				case work := <-p.workChan:
					p.process(ctx, work)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool[T]) process(ctx context.Context, work T) {
	start := time.Now()
	err := p.safeProcess(ctx, work)
	duration := time.Since(start)

	p.processed.Add(1)
	if err != nil {
		p.failed.Add(1)
	}

	if p.metrics != nil {
		p.metrics.processed.Inc()
		status := "success"
		if err != nil {
			p.metrics.failed.Inc()
			status = "error"
		}
		p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
		p.metrics.queueDepth.Set(float64(len(p.workChan)))
	}
}

func (p *Pool[T]) safeProcess(ctx context.Context, work T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrWorkPanicked
			if p.onPanic != nil {
				p.onPanic(r, debug.Stack())
			}
		}
	}()
	return p.processor(ctx, work)
}
