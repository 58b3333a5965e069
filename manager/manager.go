// Package manager discovers BlueST nodes and owns their lifecycle.
//
// A Manager turns advertising reports from a transport.Transport into Nodes,
// keeps them in an address keyed map and reports discovery activity to
// listeners and a bounded event stream. Every callback runs on the dispatcher.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluest/advertising"
	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/internal/dispatch"
	"github.com/srg/bluest/internal/groutine"
	"github.com/srg/bluest/internal/ringchan"
	"github.com/srg/bluest/node"
	"github.com/srg/bluest/registry"
	"github.com/srg/bluest/transport"
)

var (
	// ErrAlreadyDiscovering is returned by StartDiscovery during a discovery.
	ErrAlreadyDiscovering = errors.New("discovery already running")
	// ErrNotInitialized is returned before Init or after Shutdown.
	ErrNotInitialized = errors.New("manager not initialized")
	// ErrUnknownNode is returned for addresses the manager does not know.
	ErrUnknownNode = errors.New("unknown node")
)

const managerKey = "manager"

// Config tunes discovery.
type Config struct {
	// DiscoveryTimeout is used by synchronous discoveries started with a zero
	// duration.
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout" default:"10s"`
	// LostTimeout is how long an Idle node may stay silent before it is Lost.
	LostTimeout time.Duration `yaml:"lost_timeout" default:"10s"`
	// LivenessInterval is how often silent nodes are checked.
	LivenessInterval time.Duration `yaml:"liveness_interval" default:"1s"`
	// EventBuffer bounds Events(); the oldest event is dropped on overflow.
	EventBuffer int             `yaml:"event_buffer" default:"128"`
	Dispatch    dispatch.Config `yaml:"dispatch"`
}

// DefaultConfig returns Config with every default applied.
func DefaultConfig() Config {
	var cfg Config
	defaults.SetDefaults(&cfg)
	return cfg
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the default configuration. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		defaults.SetDefaults(&cfg)
		m.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRegistry sets the feature registry shared by every node.
func WithRegistry(r *registry.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithRegisterer exports dispatcher metrics.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.registerer = reg }
}

// WithScheduler runs callbacks on s instead of an owned dispatcher.
func WithScheduler(s feature.Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

type listenerReg struct {
	id uint64
	l  Listener
}

// session is one discovery run.
type session struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
	err     error
}

// Manager discovers and tracks nodes.
type Manager struct {
	cfg        Config
	transport  transport.Transport
	registry   *registry.Registry
	logger     *logrus.Logger
	registerer prometheus.Registerer

	scheduler  feature.Scheduler
	dispatcher *dispatch.Dispatcher

	nodes  *hashmap.Map[string, *node.Node]
	events *ringchan.RingChannel[Event]

	initialized atomic.Bool
	shutdown    bool

	mu        sync.Mutex
	session   *session
	listeners []listenerReg
	nextID    uint64
}

// New creates a Manager. Call Init before use.
func New(t transport.Transport, opts ...Option) *Manager {
	m := &Manager{
		cfg:       DefaultConfig(),
		transport: t,
		nodes:     hashmap.New[string, *node.Node](),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.New()
	}
	if m.registry == nil {
		m.registry = registry.New()
	}
	m.events = ringchan.New[Event](m.cfg.EventBuffer)
	return m
}

// Init starts the dispatcher. A Manager shut down before starts again with
// no nodes and a fresh event stream.
func (m *Manager) Init(_ context.Context) error {
	if m.initialized.Load() {
		return nil
	}
	if m.shutdown {
		m.nodes = hashmap.New[string, *node.Node]()
		m.events = ringchan.New[Event](m.cfg.EventBuffer)
		m.shutdown = false
	}
	if m.scheduler == nil {
		opts := []dispatch.Option{dispatch.WithLogger(m.logger)}
		if m.registerer != nil {
			opts = append(opts, dispatch.WithRegisterer(m.registerer))
		}
		d, err := dispatch.New(m.cfg.Dispatch, opts...)
		if err != nil {
			return fmt.Errorf("manager init: %w", err)
		}
		m.mu.Lock()
		m.dispatcher = d
		m.scheduler = d
		m.mu.Unlock()
	}
	m.initialized.Store(true)
	m.logger.WithFields(logrus.Fields{
		"lost_timeout": m.cfg.LostTimeout,
		"lanes":        m.cfg.Dispatch.Lanes,
	}).Info("Manager initialized")
	return nil
}

// Shutdown stops discovery, disconnects connected nodes and drains pending
// callbacks within timeout.
func (m *Manager) Shutdown(timeout time.Duration) error {
	if !m.initialized.Load() {
		return nil
	}
	var errs []error
	if err := m.StopDiscovery(); err != nil {
		errs = append(errs, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	for _, n := range m.Nodes() {
		if n.State() != node.StateConnected {
			continue
		}
		if err := n.Disconnect(ctx); err != nil {
			m.logger.WithFields(logrus.Fields{
				"node":  n.Address(),
				"error": err,
			}).Warn("Failed to disconnect node during shutdown")
			errs = append(errs, err)
		}
	}

	m.initialized.Store(false)
	if m.dispatcher != nil {
		if err := m.dispatcher.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
		// nodes hold the stopped dispatcher, Init starts over without them
		m.mu.Lock()
		m.dispatcher = nil
		m.scheduler = nil
		m.mu.Unlock()
	}
	m.events.Close()
	m.shutdown = true
	m.logger.Info("Manager shut down")
	return errors.Join(errs...)
}

// Registry returns the registry nodes resolve features from.
func (m *Manager) Registry() *registry.Registry { return m.registry }

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Events streams every event. Slow readers lose the oldest events.
func (m *Manager) Events() <-chan Event { return m.events.C() }

// AddListener registers l and returns a function that removes it.
func (m *Manager) AddListener(l Listener) (remove func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listenerReg{id: id, l: l})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, r := range m.listeners {
			if r.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(t EventType, n *node.Node) {
	e := Event{Type: t, Node: n, At: time.Now()}
	if dropped := m.events.Send(e); dropped {
		m.logger.WithField("event", e.Type).Debug("Event stream full, dropped oldest event")
	}

	m.mu.Lock()
	scheduler := m.scheduler
	listeners := make([]Listener, len(m.listeners))
	for i, r := range m.listeners {
		listeners[i] = r.l
	}
	m.mu.Unlock()
	if len(listeners) == 0 {
		return
	}
	if scheduler == nil {
		m.logger.WithField("event", e.Type).Warn("Manager is shut down, listeners not notified")
		return
	}

	err := scheduler.Schedule(managerKey, func() {
		for _, l := range listeners {
			l.OnEvent(m, e)
		}
	})
	if err != nil {
		m.logger.WithFields(logrus.Fields{
			"event": e.Type,
			"error": err,
		}).Warn("Failed to schedule manager event")
	}
}

// IsDiscovering reports whether a discovery is running.
func (m *Manager) IsDiscovering() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// StartDiscovery scans for nodes and locks the registry while scanning.
//
// A synchronous discovery blocks for duration, or DiscoveryTimeout when
// duration is zero, and returns the scan error. An asynchronous one returns
// at once and runs until StopDiscovery, ctx is done, or a positive duration
// elapses.
func (m *Manager) StartDiscovery(ctx context.Context, synchronous bool, duration time.Duration) error {
	if !m.initialized.Load() {
		return ErrNotInitialized
	}
	if synchronous && duration <= 0 {
		duration = m.cfg.DiscoveryTimeout
	}

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return ErrAlreadyDiscovering
	}
	var scanCtx context.Context
	var cancel context.CancelFunc
	if duration > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, duration)
	} else {
		scanCtx, cancel = context.WithCancel(ctx)
	}
	s := &session{cancel: cancel, done: make(chan struct{})}
	m.session = s
	m.registry.Lock()
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"synchronous": synchronous,
		"duration":    duration,
	}).Info("Discovery started")
	m.emit(EventDiscoveryStarted, nil)

	groutine.Go(scanCtx, "manager-liveness", func(ctx context.Context) {
		m.livenessLoop(ctx)
	})
	groutine.Go(scanCtx, "manager-scan", func(ctx context.Context) {
		err := m.transport.Scan(ctx, func(adv transport.Advertisement) {
			m.handleAdvertisement(s, adv)
		})
		if err != nil {
			m.logger.WithField("error", err).Warn("Scan failed")
		}
		m.finishDiscovery(s, err)
	})

	if !synchronous {
		return nil
	}
	<-s.done
	return s.err
}

func (m *Manager) finishDiscovery(s *session, err error) {
	s.stopped.Store(true)
	s.cancel()

	m.mu.Lock()
	s.err = err
	if m.session == s {
		m.session = nil
	}
	m.registry.Unlock()
	m.mu.Unlock()

	m.logger.Info("Discovery stopped")
	m.emit(EventDiscoveryStopped, nil)
	close(s.done)
}

// StopDiscovery ends the running discovery and waits for the scan to return.
// Advertisements arriving after the call are ignored. It is a no-op when no
// discovery runs.
func (m *Manager) StopDiscovery() error {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	s.stopped.Store(true)
	s.cancel()
	<-s.done
	return nil
}

func (m *Manager) handleAdvertisement(s *session, adv transport.Advertisement) {
	if s.stopped.Load() {
		return
	}
	data, ok := advertising.Parse(adv.Payload)
	if !ok {
		return
	}

	n, found := m.nodes.Get(adv.Address)
	if !found {
		n, found = m.nodes.GetOrInsert(adv.Address, m.newNode(adv.Address, data))
	}

	prev, moved := n.Advertised(data, adv.RSSI)
	switch {
	case prev == node.StateDead:
		return
	case !found || moved:
		m.logger.WithFields(logrus.Fields{
			"node":  n.FriendlyName(),
			"board": n.BoardType(),
			"rssi":  adv.RSSI,
		}).Debug("Node discovered")
		m.emit(EventNodeDiscovered, n)
	default:
		m.emit(EventNodeUpdated, n)
	}
}

func (m *Manager) newNode(address string, data advertising.Data) *node.Node {
	return node.New(address, data, m.transport,
		node.WithScheduler(m.scheduler),
		node.WithLogger(m.logger),
		node.WithRegistry(m.registry),
	)
}

func (m *Manager) livenessLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckLiveness(time.Now())
		}
	}
}

// CheckLiveness moves Idle nodes silent for longer than LostTimeout to Lost.
// It returns how many nodes were marked.
func (m *Manager) CheckLiveness(now time.Time) int {
	lost := 0
	m.nodes.Range(func(_ string, n *node.Node) bool {
		if n.State() != node.StateIdle || now.Sub(n.LastSeen()) <= m.cfg.LostTimeout {
			return true
		}
		if err := n.AdvertisementTimeout(); err == nil {
			lost++
			m.emit(EventNodeLost, n)
		}
		return true
	})
	return lost
}

// AddFeaturesToNode registers constructors for capability bits of a device
// type. It fails while discovering.
func (m *Manager) AddFeaturesToNode(deviceType uint8, bits map[int]feature.Constructor) error {
	return m.registry.RegisterBuiltin(deviceType, bits)
}

// MapCharacteristic binds a standard characteristic to constructors for
// nodes connected from now on.
func (m *Manager) MapCharacteristic(id string, ctors ...feature.Constructor) error {
	return m.registry.MapCharacteristic(id, ctors...)
}

// AddNode creates an Idle node without waiting for its advertisement. An
// existing node is returned unchanged.
func (m *Manager) AddNode(address string, deviceType uint8, mask uint32) (*node.Node, error) {
	if !m.initialized.Load() {
		return nil, ErrNotInitialized
	}
	data := advertising.Data{
		TxPower:         advertising.TxPowerUnavailable,
		ProtocolVersion: advertising.ProtocolVersion,
		DeviceTypeByte:  deviceType,
		FeatureMask:     mask,
	}
	n, found := m.nodes.GetOrInsert(address, m.newNode(address, data))
	if found {
		return n, nil
	}
	n.Advertised(data, 0)
	m.emit(EventNodeDiscovered, n)
	return n, nil
}

// Nodes returns a snapshot sorted by address.
func (m *Manager) Nodes() []*node.Node {
	var out []*node.Node
	m.nodes.Range(func(_ string, n *node.Node) bool {
		out = append(out, n)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// Node looks a node up by address.
func (m *Manager) Node(address string) (*node.Node, bool) {
	return m.nodes.Get(address)
}

// NodeByName returns the first node, by address, advertising name.
func (m *Manager) NodeByName(name string) (*node.Node, bool) {
	for _, n := range m.Nodes() {
		if n.Name() == name {
			return n, true
		}
	}
	return nil, false
}

// Forget moves a Lost or Unreachable node to Dead and removes it.
func (m *Manager) Forget(address string) error {
	n, ok := m.nodes.Get(address)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, address)
	}
	if err := n.Forget(); err != nil {
		return err
	}
	m.nodes.Del(address)
	m.emit(EventNodeRemoved, n)
	return nil
}

// ResetDiscovery removes every node without a link and returns how many were
// removed.
func (m *Manager) ResetDiscovery() int {
	removed := 0
	for _, n := range m.Nodes() {
		switch n.State() {
		case node.StateConnecting, node.StateConnected, node.StateDisconnecting:
			continue
		}
		if m.nodes.Del(n.Address()) {
			removed++
			m.emit(EventNodeRemoved, n)
		}
	}
	return removed
}
