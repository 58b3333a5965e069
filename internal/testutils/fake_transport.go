package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/srg/bluest/registry"
	"github.com/srg/bluest/transport"
)

// CharacteristicConfig describes one characteristic of a fake peripheral.
type CharacteristicConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// PeripheralConfig describes a fake peripheral.
type PeripheralConfig struct {
	Address         string                 `json:"address"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// WriteRecord is one Write call seen by FakeTransport.
type WriteRecord struct {
	Address string
	Char    string
	Data    []byte
}

type fakePeripheral struct {
	values     map[string][]byte
	connected  bool
	onLinkLost func(error)
	subs       map[string]func([]byte)
}

// FakeTransport is an in-memory transport.Transport. Peripherals are declared
// up front; tests push advertisements and notifications through it.
type FakeTransport struct {
	mu          sync.Mutex
	peripherals map[string]*fakePeripheral
	scanHandler func(transport.Advertisement)
	queued      []transport.Advertisement
	writes      []WriteRecord
	calls       map[string]int

	// Errors returned by the next matching call when set.
	ConnectErr  error
	DiscoverErr error
	ScanErr     error
}

var _ transport.Transport = (*FakeTransport)(nil)

// NewFakeTransport returns an empty transport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		peripherals: make(map[string]*fakePeripheral),
		calls:       make(map[string]int),
	}
}

// WithPeripheral declares a peripheral exposing chars.
func (t *FakeTransport) WithPeripheral(address string, chars ...string) *FakeTransport {
	cfg := PeripheralConfig{Address: address}
	for _, c := range chars {
		cfg.Characteristics = append(cfg.Characteristics, CharacteristicConfig{UUID: c})
	}
	return t.WithPeripheralConfig(cfg)
}

// WithPeripheralConfig declares a peripheral.
func (t *FakeTransport) WithPeripheralConfig(cfg PeripheralConfig) *FakeTransport {
	p := &fakePeripheral{values: make(map[string][]byte), subs: make(map[string]func([]byte))}
	for _, c := range cfg.Characteristics {
		p.values[mustNormalize(c.UUID)] = c.Value
	}
	t.mu.Lock()
	t.peripherals[cfg.Address] = p
	t.mu.Unlock()
	return t
}

// FromJSON declares a peripheral from a PeripheralConfig JSON document.
func (t *FakeTransport) FromJSON(jsonStrFmt string, args ...interface{}) *FakeTransport {
	var cfg PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &cfg); err != nil {
		panic(fmt.Sprintf("FakeTransport.FromJSON: failed to unmarshal: %v", err))
	}
	return t.WithPeripheralConfig(cfg)
}

// WithScanAdvertisements returns an array builder whose reports are delivered
// as soon as the next Scan starts.
func (t *FakeTransport) WithScanAdvertisements() *AdvertisementArrayBuilder[*FakeTransport] {
	ab := NewAdvertisementArrayBuilder[*FakeTransport]()
	ab.parent = t
	ab.buildFunc = func(parent *FakeTransport, ads []transport.Advertisement) *FakeTransport {
		parent.mu.Lock()
		parent.queued = append(parent.queued, ads...)
		parent.mu.Unlock()
		return parent
	}
	return ab
}

func mustNormalize(id string) string {
	n, err := registry.NormalizeUUID(id)
	if err != nil {
		panic(err)
	}
	return n
}

func (t *FakeTransport) count(op string) {
	t.calls[op]++
}

// Calls returns how often op was invoked.
func (t *FakeTransport) Calls(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[op]
}

// Scan registers handler until ctx is done.
func (t *FakeTransport) Scan(ctx context.Context, handler func(transport.Advertisement)) error {
	t.mu.Lock()
	t.count("Scan")
	if t.ScanErr != nil {
		err := t.ScanErr
		t.mu.Unlock()
		return err
	}
	t.scanHandler = handler
	queued := t.queued
	t.queued = nil
	t.mu.Unlock()

	for _, adv := range queued {
		handler(adv)
	}
	<-ctx.Done()

	t.mu.Lock()
	t.scanHandler = nil
	t.mu.Unlock()
	return nil
}

// Scanning reports whether a Scan is in progress.
func (t *FakeTransport) Scanning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanHandler != nil
}

// Advertise delivers adv to the running scan. It reports false when no scan
// is running.
func (t *FakeTransport) Advertise(adv transport.Advertisement) bool {
	t.mu.Lock()
	h := t.scanHandler
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h(adv)
	return true
}

func (t *FakeTransport) Connect(_ context.Context, address string, onLinkLost func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("Connect")
	if t.ConnectErr != nil {
		return t.ConnectErr
	}
	p, ok := t.peripherals[address]
	if !ok {
		return &transport.NotFoundError{Resource: "device", ID: address}
	}
	if p.connected {
		return transport.ErrAlreadyConnected
	}
	p.connected = true
	p.onLinkLost = onLinkLost
	return nil
}

func (t *FakeTransport) Disconnect(_ context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("Disconnect")
	if p, ok := t.peripherals[address]; ok {
		p.connected = false
		p.subs = make(map[string]func([]byte))
	}
	return nil
}

func (t *FakeTransport) linked(address string) (*fakePeripheral, error) {
	p, ok := t.peripherals[address]
	if !ok || !p.connected {
		return nil, transport.ErrNotConnected
	}
	return p, nil
}

func (t *FakeTransport) DiscoverCharacteristics(_ context.Context, address string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("DiscoverCharacteristics")
	if t.DiscoverErr != nil {
		return nil, t.DiscoverErr
	}
	p, err := t.linked(address)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(p.values))
	for id := range p.values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *FakeTransport) char(address, charID string) (*fakePeripheral, string, error) {
	p, err := t.linked(address)
	if err != nil {
		return nil, "", err
	}
	id, err := registry.NormalizeUUID(charID)
	if err != nil {
		return nil, "", err
	}
	if _, ok := p.values[id]; !ok {
		return nil, "", &transport.NotFoundError{Resource: "characteristic", ID: charID}
	}
	return p, id, nil
}

func (t *FakeTransport) Subscribe(_ context.Context, address, charID string, handler func([]byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("Subscribe")
	p, id, err := t.char(address, charID)
	if err != nil {
		return err
	}
	p.subs[id] = handler
	return nil
}

func (t *FakeTransport) Unsubscribe(_ context.Context, address, charID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("Unsubscribe")
	p, id, err := t.char(address, charID)
	if err != nil {
		return err
	}
	delete(p.subs, id)
	return nil
}

func (t *FakeTransport) Read(_ context.Context, address, charID string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("Read")
	p, id, err := t.char(address, charID)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p.values[id]...), nil
}

func (t *FakeTransport) Write(_ context.Context, address, charID string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count("Write")
	_, id, err := t.char(address, charID)
	if err != nil {
		return err
	}
	t.writes = append(t.writes, WriteRecord{Address: address, Char: id, Data: append([]byte(nil), data...)})
	return nil
}

// SetValue changes what Read returns for a characteristic.
func (t *FakeTransport) SetValue(address, charID string, value []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peripherals[address]; ok {
		p.values[mustNormalize(charID)] = value
	}
}

// Subscribed reports whether charID has a live subscription.
func (t *FakeTransport) Subscribed(address, charID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peripherals[address]
	if !ok {
		return false
	}
	_, ok = p.subs[mustNormalize(charID)]
	return ok
}

// Notify delivers data to the subscription on charID. It reports false when
// nothing is subscribed.
func (t *FakeTransport) Notify(address, charID string, data []byte) bool {
	t.mu.Lock()
	var h func([]byte)
	if p, ok := t.peripherals[address]; ok {
		h = p.subs[mustNormalize(charID)]
	}
	t.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// DropLink simulates the peripheral going away.
func (t *FakeTransport) DropLink(address string, cause error) {
	t.mu.Lock()
	var cb func(error)
	if p, ok := t.peripherals[address]; ok && p.connected {
		p.connected = false
		p.subs = make(map[string]func([]byte))
		cb = p.onLinkLost
	}
	t.mu.Unlock()
	if cb != nil {
		cb(cause)
	}
}

// Writes returns every Write seen so far.
func (t *FakeTransport) Writes() []WriteRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]WriteRecord(nil), t.writes...)
}
