package node

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/registry"
)

const (
	// MaxPayload is the largest feature characteristic value.
	MaxPayload = 20
	// MinPayload is the timestamp prefix.
	MinPayload = 2

	wrapWindow = 100
)

var (
	// ErrPayloadTooLong is returned for feature values above MaxPayload bytes.
	ErrPayloadTooLong = errors.New("payload too long")
	// ErrUnknownCharacteristic is returned for characteristics without features.
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
)

// Clock unwraps the 16-bit device timestamp into a monotonic sequence.
type Clock struct {
	last  uint16
	wraps uint64
	seen  bool
}

// Unwrap returns the sequence number for ts. A tick that falls below a
// previous tick close to the 16-bit limit counts as a wrap.
func (c *Clock) Unwrap(ts uint16) uint64 {
	if c.seen && int(c.last) > 65536-wrapWindow && c.last > ts {
		c.wraps++
	}
	c.last = ts
	c.seen = true
	return c.wraps*65536 + uint64(ts)
}

type extracted struct {
	f   *feature.Feature
	s   feature.Sample
	raw []byte
}

// HandleCharacteristicUpdate decodes a characteristic value for every
// feature bound to it. Either every feature gets a new sample or none does.
// Updates arriving while the node is not connected are ignored.
func (n *Node) HandleCharacteristicUpdate(charID string, data []byte) error {
	if n.State() != StateConnected {
		return nil
	}
	id, err := registry.NormalizeUUID(charID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, charID)
	}

	n.mu.RLock()
	fs, ok := n.chars.Get(id)
	n.mu.RUnlock()

	if !ok || len(fs) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCharacteristic, charID)
	}

	prefixed := registry.IsFeatureCharacteristic(id) && !feature.HostTimestamped(fs[0].Decoder())

	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	var ts uint16
	offset := 0
	if prefixed {
		if len(data) > MaxPayload {
			return fmt.Errorf("%s: %w: %d bytes", charID, ErrPayloadTooLong, len(data))
		}
		if len(data) < MinPayload {
			return &feature.DataError{Feature: "timestamp", Need: MinPayload, Have: len(data)}
		}
		ts = binary.LittleEndian.Uint16(data)
		offset = MinPayload
	} else {
		ts = uint16(n.hostSeq + 1)
	}

	out := make([]extracted, 0, len(fs))
	for _, f := range fs {
		s, used, err := f.Extract(ts, data, offset)
		if err != nil {
			n.logger.WithFields(logrus.Fields{
				"node":    n.address,
				"feature": f.Name(),
				"error":   err,
			}).Debug("Characteristic update rejected")
			return err
		}
		out = append(out, extracted{f: f, s: s, raw: data[offset : offset+used]})
		offset += used
	}

	var seq uint64
	if prefixed {
		seq = n.clock.Unwrap(ts)
	} else {
		n.hostSeq++
		seq = n.hostSeq
	}

	var errs []error
	for _, e := range out {
		e.s.Sequence = seq
		if err := e.f.Commit(e.s, e.raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
