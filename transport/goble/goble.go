// Package goble implements transport.Transport on top of go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluest/internal/groutine"
	"github.com/srg/bluest/registry"
	"github.com/srg/bluest/transport"
)

// DefaultConnectTimeout bounds Connect when the caller context has no deadline.
const DefaultConnectTimeout = 10 * time.Second

// DeviceFactory creates the host adapter (can be overridden in tests).
//
//nolint:revive // exported for test overrides
var DeviceFactory = newDevice

// link is one live GATT connection.
type link struct {
	client ble.Client
	chars  map[string]*ble.Characteristic
	// closing is set by Disconnect so the monitor does not report a link loss.
	closing atomic.Bool
	cancel  context.CancelFunc
}

// Adapter is a transport.Transport backed by a single go-ble device.
type Adapter struct {
	logger *logrus.Logger

	devOnce sync.Once
	dev     ble.Device
	devErr  error

	links   *hashmap.Map[string, *link]
	linksMu sync.Mutex // serialises removals
}

var _ transport.Transport = (*Adapter)(nil)

// New returns an Adapter. The host device is opened lazily on first use.
func New(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Adapter{
		logger: logger,
		links:  hashmap.New[string, *link](),
	}
}

func (a *Adapter) device() (ble.Device, error) {
	a.devOnce.Do(func() {
		dev, err := DeviceFactory()
		if err != nil {
			a.devErr = NormalizeError(err)
			a.logger.WithField("error", err).Error("Failed to create BLE device")
			return
		}
		ble.SetDefaultDevice(dev)
		a.dev = dev
	})
	return a.dev, a.devErr
}

// Scan delivers advertisements until ctx is done. Context cancellation is not
// reported as an error.
func (a *Adapter) Scan(ctx context.Context, handler func(transport.Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}
	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(FromAdvertisement(adv))
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return NormalizeError(err)
}

// Connect dials address and discovers its GATT profile.
func (a *Adapter) Connect(ctx context.Context, address string, onLinkLost func(error)) error {
	if _, ok := a.links.Get(address); ok {
		return transport.ErrAlreadyConnected
	}
	dev, err := a.device()
	if err != nil {
		return err
	}

	a.logger.WithField("address", address).Info("Connecting to BLE device...")

	dialCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	client, err := dev.Dial(dialCtx, ble.NewAddr(address))
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			a.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	l := &link{client: client, chars: make(map[string]*ble.Characteristic)}
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			id, err := registry.NormalizeUUID(c.UUID.String())
			if err != nil {
				a.logger.WithField("char_uuid", c.UUID.String()).Debug("Skipping characteristic with unparsable UUID")
				continue
			}
			l.chars[id] = c
		}
	}

	if !a.links.Insert(address, l) {
		_ = client.CancelConnection()
		return transport.ErrAlreadyConnected
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(monitorCtx, "ble-link-monitor:"+address, func(ctx context.Context) {
			select {
			case <-dc.Disconnected():
				a.dropLink(address, l)
				if l.closing.Load() {
					return
				}
				a.logger.WithField("address", address).Warn("BLE link lost")
				if onLinkLost != nil {
					onLinkLost(transport.ErrNotConnected)
				}
			case <-ctx.Done():
			}
		})
	} else {
		a.logger.Debug("Client does not report disconnections")
	}

	a.logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(profile.Services),
		"characteristics": len(l.chars),
	}).Info("BLE device connected successfully")
	return nil
}

// Disconnect closes the link to address. Disconnecting an unknown address is
// a no-op.
func (a *Adapter) Disconnect(_ context.Context, address string) error {
	l, ok := a.links.Get(address)
	if !ok {
		return nil
	}
	l.closing.Store(true)
	a.dropLink(address, l)
	if l.cancel != nil {
		l.cancel()
	}
	return NormalizeError(l.client.CancelConnection())
}

// dropLink removes l from the link table unless address already maps to a
// newer link.
func (a *Adapter) dropLink(address string, l *link) {
	a.linksMu.Lock()
	defer a.linksMu.Unlock()
	if cur, ok := a.links.Get(address); ok && cur == l {
		a.links.Del(address)
	}
}

// DiscoverCharacteristics returns the normalized ids of every characteristic
// found on connect, sorted.
func (a *Adapter) DiscoverCharacteristics(_ context.Context, address string) ([]string, error) {
	l, ok := a.links.Get(address)
	if !ok {
		return nil, transport.ErrNotConnected
	}
	ids := make([]string, 0, len(l.chars))
	for id := range l.chars {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *Adapter) lookup(address, charID string) (*link, *ble.Characteristic, error) {
	l, ok := a.links.Get(address)
	if !ok {
		return nil, nil, transport.ErrNotConnected
	}
	id, err := registry.NormalizeUUID(charID)
	if err != nil {
		return nil, nil, err
	}
	c, ok := l.chars[id]
	if !ok {
		return nil, nil, &transport.NotFoundError{Resource: "characteristic", ID: charID}
	}
	return l, c, nil
}

func (a *Adapter) Subscribe(_ context.Context, address, charID string, handler func([]byte)) error {
	l, c, err := a.lookup(address, charID)
	if err != nil {
		return err
	}
	return NormalizeError(l.client.Subscribe(c, false, func(data []byte) {
		handler(data)
	}))
}

func (a *Adapter) Unsubscribe(_ context.Context, address, charID string) error {
	l, c, err := a.lookup(address, charID)
	if err != nil {
		return err
	}
	return NormalizeError(l.client.Unsubscribe(c, false))
}

func (a *Adapter) Read(_ context.Context, address, charID string) ([]byte, error) {
	l, c, err := a.lookup(address, charID)
	if err != nil {
		return nil, err
	}
	data, err := l.client.ReadCharacteristic(c)
	return data, NormalizeError(err)
}

func (a *Adapter) Write(_ context.Context, address, charID string, data []byte) error {
	l, c, err := a.lookup(address, charID)
	if err != nil {
		return err
	}
	return NormalizeError(l.client.WriteCharacteristic(c, data, false))
}
