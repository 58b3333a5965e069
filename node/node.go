// Package node implements a BlueST node: its advertised identity, connection
// state machine, features and characteristic dispatch.
package node

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bluest/advertising"
	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/internal/dispatch"
	"github.com/srg/bluest/registry"
	"github.com/srg/bluest/transport"
)

var (
	// ErrNotConnected is returned by feature I/O on a node that is not connected.
	ErrNotConnected = errors.New("node not connected")
	// ErrUnknownFeature is returned for features that do not belong to the node
	// or have no characteristic on the connected device.
	ErrUnknownFeature = errors.New("unknown feature")
	// ErrIllegalState is returned for operations the current state forbids.
	ErrIllegalState = errors.New("operation not allowed in current state")
)

// StateListener is notified of every state transition.
type StateListener interface {
	OnStateChange(n *Node, newState, oldState State)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(n *Node, newState, oldState State)

func (fn StateListenerFunc) OnStateChange(n *Node, newState, oldState State) {
	fn(n, newState, oldState)
}

type listenerReg struct {
	id uint64
	l  StateListener
}

// Option configures a Node.
type Option func(*Node)

// WithScheduler sets where state and sample callbacks run.
func WithScheduler(s feature.Scheduler) Option {
	return func(n *Node) { n.scheduler = s }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithRegistry sets the registry features are resolved from.
func WithRegistry(r *registry.Registry) Option {
	return func(n *Node) { n.registry = r }
}

// Node is one BlueST device.
type Node struct {
	address   string
	transport transport.Transport
	registry  *registry.Registry
	scheduler feature.Scheduler
	logger    *logrus.Logger

	// immutable after New
	deviceID        uint8
	protocolVersion uint8
	mask            uint32
	advAddress      []byte

	mu             sync.RWMutex
	state          State
	name           string
	txPower        int
	deviceTypeByte uint8
	rssi           int
	lastSeen       time.Time
	features       []*feature.Feature
	// external holds features bound to characteristics outside the mask.
	external  *orderedmap.OrderedMap[string, []*feature.Feature]
	chars     *orderedmap.OrderedMap[string, []*feature.Feature]
	notifying map[string]int
	listeners []listenerReg
	// notifyMu serializes subscription changes.
	notifyMu sync.Mutex
	nextID   uint64

	// dispatchMu serializes characteristic dispatch and guards the clocks.
	dispatchMu sync.Mutex
	clock      Clock
	hostSeq    uint64
}

// New creates a node in state Init from advertised data. The capability mask
// and device type are fixed for the node's lifetime.
func New(address string, data advertising.Data, t transport.Transport, opts ...Option) *Node {
	n := &Node{
		address:         address,
		transport:       t,
		deviceID:        data.DeviceID(),
		protocolVersion: data.ProtocolVersion,
		mask:            data.FeatureMask,
		advAddress:      append([]byte(nil), data.Address...),
		state:           StateInit,
		name:            data.Name,
		txPower:         data.TxPower,
		deviceTypeByte:  data.DeviceTypeByte,
		external:        orderedmap.New[string, []*feature.Feature](),
		chars:           orderedmap.New[string, []*feature.Feature](),
		notifying:       make(map[string]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logrus.New()
	}
	if n.registry == nil {
		n.registry = registry.New()
	}
	if n.scheduler == nil {
		n.scheduler = dispatch.NewSerial(n.logger)
	}

	for _, e := range n.registry.Resolve(n.deviceID, n.mask) {
		n.features = append(n.features, n.newFeature(e.Constructor(), e.Bit))
	}
	return n
}

func (n *Node) newFeature(d feature.Decoder, bit int) *feature.Feature {
	return feature.New(d,
		feature.WithOwner(n.address),
		feature.WithBit(bit),
		feature.WithScheduler(n.scheduler),
		feature.WithLogger(n.logger),
	)
}

func (n *Node) Address() string        { return n.address }
func (n *Node) DeviceType() uint8      { return n.deviceID }
func (n *Node) ProtocolVersion() uint8 { return n.protocolVersion }
func (n *Node) FeatureMask() uint32    { return n.mask }

// BoardType is derived from the device type.
func (n *Node) BoardType() advertising.BoardType {
	return advertising.BoardTypeOf(n.deviceID)
}

// AdvertisedAddress is the address carried in the vendor field, if any.
func (n *Node) AdvertisedAddress() []byte {
	return append([]byte(nil), n.advAddress...)
}

func (n *Node) Name() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.name
}

// FriendlyName is the name followed by the last six hex digits of the address.
func (n *Node) FriendlyName() string {
	var hex strings.Builder
	for _, r := range strings.ToUpper(n.address) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			hex.WriteRune(r)
		}
	}
	tag := hex.String()
	if len(tag) > 6 {
		tag = tag[len(tag)-6:]
	}
	return n.Name() + " @" + tag
}

func (n *Node) TxPower() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.txPower
}

func (n *Node) RSSI() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.rssi
}

// LastSeen is when the last advertisement arrived.
func (n *Node) LastSeen() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastSeen
}

// Sleeping reports the flag from the latest advertisement.
func (n *Node) Sleeping() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return advertising.Sleeping(n.deviceTypeByte)
}

func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Features lists every feature, mask features first in MSB order.
func (n *Node) Features() []*feature.Feature {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*feature.Feature(nil), n.features...)
}

// Feature returns the first feature called name.
func (n *Node) Feature(name string) *feature.Feature {
	for _, f := range n.Features() {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// FeaturesOf returns the features whose decoder is a T.
func FeaturesOf[T feature.Decoder](n *Node) []*feature.Feature {
	var out []*feature.Feature
	for _, f := range n.Features() {
		if _, ok := f.Decoder().(T); ok {
			out = append(out, f)
		}
	}
	return out
}

// AddListener registers l and returns a function that removes it.
func (n *Node) AddListener(l StateListener) (remove func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.listeners = append(n.listeners, listenerReg{id: id, l: l})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, r := range n.listeners {
			if r.id == id {
				n.listeners = append(n.listeners[:i:i], n.listeners[i+1:]...)
				return
			}
		}
	}
}

// Key identifies the node's dispatch lane.
func (n *Node) Key() string {
	return "node/" + n.address
}

func (n *Node) String() string {
	return fmt.Sprintf("%s [%s] %s", n.FriendlyName(), n.BoardType(), n.State())
}

// fire applies e and schedules the state event.
func (n *Node) fire(e Event) (old State, err error) {
	n.mu.Lock()
	old = n.state
	to, err := Next(old, e)
	if err != nil {
		n.mu.Unlock()
		return old, err
	}
	n.state = to
	listeners := n.snapshotListeners()
	n.mu.Unlock()

	n.emit(listeners, to, old)
	return old, nil
}

func (n *Node) snapshotListeners() []StateListener {
	out := make([]StateListener, len(n.listeners))
	for i, r := range n.listeners {
		out[i] = r.l
	}
	return out
}

func (n *Node) emit(listeners []StateListener, to, from State) {
	n.logger.WithFields(logrus.Fields{
		"node": n.address,
		"from": from,
		"to":   to,
	}).Debug("Node state changed")

	if len(listeners) == 0 {
		return
	}
	err := n.scheduler.Schedule(n.Key(), func() {
		for _, l := range listeners {
			l.OnStateChange(n, to, from)
		}
	})
	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"node":  n.address,
			"error": err,
		}).Warn("Failed to schedule state notification")
	}
}

// Advertised records an advertisement and moves Init, Lost and Unreachable
// nodes to Idle. It returns the state before the call and whether a
// transition happened. Dead nodes are left untouched.
func (n *Node) Advertised(data advertising.Data, rssi int) (State, bool) {
	n.mu.Lock()
	old := n.state
	if old == StateDead {
		n.mu.Unlock()
		return old, false
	}
	n.rssi = rssi
	n.lastSeen = time.Now()
	n.deviceTypeByte = data.DeviceTypeByte
	if data.Name != "" {
		n.name = data.Name
	}
	if data.TxPower != advertising.TxPowerUnavailable {
		n.txPower = data.TxPower
	}
	n.mu.Unlock()

	if old != StateInit && old != StateLost && old != StateUnreachable {
		return old, false
	}
	// The state may have moved since the snapshot, so a failed transition
	// only means someone else got there first.
	if _, err := n.fire(EventAdvertisement); err != nil {
		return old, false
	}
	return old, true
}

// AdvertisementTimeout moves an Idle node to Lost.
func (n *Node) AdvertisementTimeout() error {
	_, err := n.fire(EventAdvertisementTimeout)
	return err
}

// Forget moves a Lost or Unreachable node to Dead.
func (n *Node) Forget() error {
	_, err := n.fire(EventForget)
	return err
}

// LinkLost moves a Connected node to Unreachable.
func (n *Node) LinkLost(cause error) error {
	if _, err := n.fire(EventLinkFailure); err != nil {
		return err
	}
	n.resetNotifications()
	n.logger.WithFields(logrus.Fields{
		"node":  n.address,
		"cause": cause,
	}).Warn("Node link lost")
	return nil
}

// AddExternalFeatures binds extra decoders to a characteristic outside the
// capability mask. It is only allowed before the node connects.
func (n *Node) AddExternalFeatures(charID string, ctors ...feature.Constructor) error {
	id, err := registry.NormalizeUUID(charID)
	if err != nil {
		return err
	}
	if len(ctors) == 0 {
		return fmt.Errorf("%s: no decoders", charID)
	}
	for _, c := range ctors {
		if c == nil {
			return fmt.Errorf("%s: nil decoder constructor", charID)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateInit && n.state != StateIdle {
		return fmt.Errorf("add features on %s in state %s: %w", n.address, n.state, ErrIllegalState)
	}
	n.addExternalLocked(id, ctors)
	return nil
}

func (n *Node) addExternalLocked(id string, ctors []feature.Constructor) []*feature.Feature {
	fs, _ := n.external.Get(id)
	for _, c := range ctors {
		f := n.newFeature(c(), feature.NoBit)
		fs = append(fs, f)
		n.features = append(n.features, f)
	}
	n.external.Set(id, fs)
	return fs
}

// Connect opens the link, discovers characteristics and binds them to
// features. Transport failures return the node to Idle.
func (n *Node) Connect(ctx context.Context) error {
	if _, err := n.fire(EventConnect); err != nil {
		return err
	}
	n.logger.WithField("node", n.address).Info("Connecting to node...")

	fail := func(err error) error {
		if _, ferr := n.fire(EventLinkFailure); ferr != nil {
			n.logger.WithField("error", ferr).Debug("Link failure transition rejected")
		}
		return err
	}

	if err := n.transport.Connect(ctx, n.address, n.onLinkLost); err != nil {
		return fail(fmt.Errorf("connect %s: %w", n.address, err))
	}

	ids, err := n.transport.DiscoverCharacteristics(ctx, n.address)
	if err != nil {
		if derr := n.transport.Disconnect(ctx, n.address); derr != nil {
			n.logger.WithField("error", derr).Warn("Failed to close link after discovery failure")
		}
		return fail(fmt.Errorf("discover %s: %w", n.address, err))
	}

	bound := n.bindCharacteristics(ids)

	if _, err := n.fire(EventDiscoveryDone); err != nil {
		// The link dropped while discovering.
		return err
	}
	n.logger.WithFields(logrus.Fields{
		"node":            n.address,
		"characteristics": bound,
	}).Info("Node connected")
	return nil
}

func (n *Node) onLinkLost(cause error) {
	if err := n.LinkLost(cause); err != nil {
		n.logger.WithFields(logrus.Fields{
			"node":  n.address,
			"error": err,
		}).Debug("Ignoring link loss")
	}
}

// bindCharacteristics rebuilds the characteristic to feature mapping. Bits of
// a feature characteristic without a feature on this node are skipped. It
// returns how many characteristics were bound.
func (n *Node) bindCharacteristics(ids []string) int {
	n.mu.Lock()
	defer n.mu.Unlock()

	byBit := make(map[int]*feature.Feature, len(n.features))
	for _, f := range n.features {
		if f.Bit() != feature.NoBit {
			byBit[f.Bit()] = f
		}
	}

	chars := orderedmap.New[string, []*feature.Feature]()
	for _, raw := range ids {
		id, err := registry.NormalizeUUID(raw)
		if err != nil {
			continue
		}
		if mask, ok := registry.FeatureMask(id); ok {
			var fs []*feature.Feature
			for bit := 31; bit >= 0; bit-- {
				if mask&(1<<uint(bit)) == 0 {
					continue
				}
				if f, ok := byBit[bit]; ok {
					fs = append(fs, f)
				}
			}
			if ext, ok := n.external.Get(id); ok {
				fs = append(fs, ext...)
			}
			if len(fs) > 0 {
				chars.Set(id, fs)
			}
			continue
		}
		if ext, ok := n.external.Get(id); ok {
			chars.Set(id, ext)
			continue
		}
		if ctors, ok := n.registry.Characteristic(id); ok {
			chars.Set(id, n.addExternalLocked(id, ctors))
		}
	}
	n.chars = chars
	n.notifying = make(map[string]int)
	return chars.Len()
}

// Disconnect closes the link and returns the node to Idle.
func (n *Node) Disconnect(ctx context.Context) error {
	if _, err := n.fire(EventDisconnect); err != nil {
		return err
	}
	err := n.transport.Disconnect(ctx, n.address)
	n.resetNotifications()
	if _, ferr := n.fire(EventTransportClosed); ferr != nil {
		n.logger.WithField("error", ferr).Debug("Transport closed transition rejected")
	}
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", n.address, err)
	}
	n.logger.WithField("node", n.address).Info("Node disconnected")
	return nil
}

func (n *Node) resetNotifications() {
	n.mu.Lock()
	n.notifying = make(map[string]int)
	fs := append([]*feature.Feature(nil), n.features...)
	n.mu.Unlock()
	for _, f := range fs {
		f.SetNotifying(false)
	}
}

// Characteristic returns the characteristic f is bound to.
func (n *Node) Characteristic(f *feature.Feature) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.characteristicLocked(f)
}

func (n *Node) characteristicLocked(f *feature.Feature) (string, bool) {
	for pair := n.chars.Oldest(); pair != nil; pair = pair.Next() {
		for _, cf := range pair.Value {
			if cf == f {
				return pair.Key, true
			}
		}
	}
	return "", false
}

// Characteristics lists the bound characteristics in discovery order.
func (n *Node) Characteristics() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, n.chars.Len())
	for pair := n.chars.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// connectedChar checks the node is connected and resolves f's characteristic.
func (n *Node) connectedChar(f *feature.Feature) (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.state != StateConnected {
		return "", fmt.Errorf("%s: %w", n.address, ErrNotConnected)
	}
	id, ok := n.characteristicLocked(f)
	if !ok {
		return "", fmt.Errorf("%s on %s: %w", f.Name(), n.address, ErrUnknownFeature)
	}
	return id, nil
}

// EnableNotifications subscribes to f's characteristic. The subscription is
// shared by every feature of the characteristic.
func (n *Node) EnableNotifications(ctx context.Context, f *feature.Feature) error {
	n.notifyMu.Lock()
	defer n.notifyMu.Unlock()

	id, err := n.connectedChar(f)
	if err != nil {
		return err
	}
	if f.Notifying() {
		return nil
	}

	n.mu.Lock()
	count := n.notifying[id]
	n.mu.Unlock()

	if count == 0 {
		handler := func(data []byte) {
			if err := n.HandleCharacteristicUpdate(id, data); err != nil {
				n.logger.WithFields(logrus.Fields{
					"node":  n.address,
					"char":  id,
					"error": err,
				}).Debug("Dropped characteristic update")
			}
		}
		if err := n.transport.Subscribe(ctx, n.address, id, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", f.Name(), err)
		}
	}

	n.mu.Lock()
	n.notifying[id]++
	n.mu.Unlock()
	f.SetEnabled(true)
	f.SetNotifying(true)
	return nil
}

// DisableNotifications stops notifications for f. The characteristic stays
// subscribed while another of its features is notifying.
func (n *Node) DisableNotifications(ctx context.Context, f *feature.Feature) error {
	n.notifyMu.Lock()
	defer n.notifyMu.Unlock()

	id, err := n.connectedChar(f)
	if err != nil {
		return err
	}
	if !f.Notifying() {
		return nil
	}

	n.mu.Lock()
	n.notifying[id]--
	remaining := n.notifying[id]
	if remaining <= 0 {
		delete(n.notifying, id)
	}
	n.mu.Unlock()

	f.SetNotifying(false)
	f.SetEnabled(false)
	if remaining > 0 {
		return nil
	}
	if err := n.transport.Unsubscribe(ctx, n.address, id); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", f.Name(), err)
	}
	return nil
}

// ReadFeature reads f's characteristic and dispatches the value to every
// feature bound to it.
func (n *Node) ReadFeature(ctx context.Context, f *feature.Feature) (feature.Sample, error) {
	id, err := n.connectedChar(f)
	if err != nil {
		return feature.Sample{}, err
	}
	data, err := n.transport.Read(ctx, n.address, id)
	if err != nil {
		return feature.Sample{}, fmt.Errorf("read %s: %w", f.Name(), err)
	}
	if err := n.HandleCharacteristicUpdate(id, data); err != nil {
		return feature.Sample{}, err
	}
	s := f.Sample()
	if s == nil {
		return feature.Sample{}, fmt.Errorf("read %s: no sample", f.Name())
	}
	return *s, nil
}

// WriteFeature writes data to f's characteristic.
func (n *Node) WriteFeature(ctx context.Context, f *feature.Feature, data []byte) error {
	id, err := n.connectedChar(f)
	if err != nil {
		return err
	}
	if err := n.transport.Write(ctx, n.address, id, data); err != nil {
		return fmt.Errorf("write %s: %w", f.Name(), err)
	}
	return nil
}
