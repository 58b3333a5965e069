package lua

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/registry"
)

// Decoder adapts an Engine to feature.Decoder.
type Decoder struct {
	engine *Engine
}

// Constructor returns a feature.Constructor whose decoders share e.
func (e *Engine) Constructor() feature.Constructor {
	return func() feature.Decoder { return &Decoder{engine: e} }
}

func (d *Decoder) Name() string            { return d.engine.Name() }
func (d *Decoder) Fields() []feature.Field { return d.engine.Fields() }

// Extract checks the declared size, then hands the rest of data to the
// script.
func (d *Decoder) Extract(ts uint16, data []byte, offset int) (feature.Sample, int, error) {
	have := len(data) - offset
	if offset < 0 || have < 0 {
		have = 0
	}
	if offset < 0 || have < max(d.engine.size, 1) {
		return feature.Sample{}, 0, &feature.DataError{Feature: d.Name(), Need: max(d.engine.size, 1), Have: have}
	}

	consumed, values, err := d.engine.decode(data[offset:])
	if err != nil {
		return feature.Sample{}, 0, err
	}
	if consumed > have {
		return feature.Sample{}, 0, &feature.DataError{Feature: d.Name(), Need: consumed, Have: have}
	}
	if consumed <= 0 {
		return feature.Sample{}, 0, &LuaError{Type: "api", Message: "decode must consume at least one byte", Source: d.engine.source}
	}
	return feature.NewSample(ts, d.Fields(), values...), consumed, nil
}

// Register loads the script at path and binds it to bit of deviceType.
// The engine stays open for the life of the registry.
func Register(reg *registry.Registry, deviceType uint8, bit int, path string, logger *logrus.Logger) (*Engine, error) {
	e, err := LoadFile(path, logger)
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterBuiltin(deviceType, map[int]feature.Constructor{bit: e.Constructor()}); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}
