package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/bluest/advertising"
	"github.com/srg/bluest/internal/testutils/mocks"
	"github.com/srg/bluest/transport"
)

// AdvertisementBuilder builds BlueST advertising reports for testing.
// The vendor field is encoded with advertising.EncodePayload unless raw
// manufacturer data is supplied with WithManufacturerData.
type AdvertisementBuilder struct {
	address string
	rssi    int
	data    advertising.Data

	manufData    []byte
	manufDataSet bool
	noVendor     bool
}

// NewAdvertisementBuilder creates a builder for a protocol version 1 node
// without name or TX power.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		data: advertising.Data{
			ProtocolVersion: advertising.ProtocolVersion,
			TxPower:         advertising.TxPowerUnavailable,
		},
	}
}

// WithAddress sets the transport address of the report.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithName sets the complete local name.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.data.Name = name
	return b
}

// WithTxPower sets the TX power level.
func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.data.TxPower = power
	return b
}

// WithDeviceType sets the raw device type byte.
func (b *AdvertisementBuilder) WithDeviceType(t uint8) *AdvertisementBuilder {
	b.data.DeviceTypeByte = t
	return b
}

// WithFeatureMask sets the capability mask.
func (b *AdvertisementBuilder) WithFeatureMask(mask uint32) *AdvertisementBuilder {
	b.data.FeatureMask = mask
	return b
}

// WithProtocolVersion overrides the protocol version byte.
func (b *AdvertisementBuilder) WithProtocolVersion(v uint8) *AdvertisementBuilder {
	b.data.ProtocolVersion = v
	return b
}

// WithAdvertisedAddress switches to the 13 byte vendor field.
func (b *AdvertisementBuilder) WithAdvertisedAddress(addr []byte) *AdvertisementBuilder {
	b.data.Address = addr
	return b
}

// WithManufacturerData replaces the encoded vendor field with raw data.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	b.manufDataSet = true
	return b
}

// WithoutVendorField leaves the manufacturer structure out entirely.
func (b *AdvertisementBuilder) WithoutVendorField() *AdvertisementBuilder {
	b.noVendor = true
	return b
}

// advertisementJSON is the FromJSON document layout.
type advertisementJSON struct {
	Address    string  `json:"address"`
	RSSI       int     `json:"rssi"`
	Name       string  `json:"name"`
	TxPower    *int    `json:"txPower"`
	DeviceType uint8   `json:"deviceType"`
	Mask       uint32  `json:"featureMask"`
	Version    *uint8  `json:"protocolVersion"`
	AdvAddress []byte  `json:"advertisedAddress"`
	Manuf      *[]byte `json:"manufacturerData"`
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var doc advertisementJSON
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &doc); err != nil {
		panic(fmt.Sprintf("FromJSON: failed to unmarshal: %v", err))
	}
	b.WithAddress(doc.Address).
		WithRSSI(doc.RSSI).
		WithName(doc.Name).
		WithDeviceType(doc.DeviceType).
		WithFeatureMask(doc.Mask)
	if doc.TxPower != nil {
		b.WithTxPower(*doc.TxPower)
	}
	if doc.Version != nil {
		b.WithProtocolVersion(*doc.Version)
	}
	if len(doc.AdvAddress) > 0 {
		b.WithAdvertisedAddress(doc.AdvAddress)
	}
	if doc.Manuf != nil {
		b.WithManufacturerData(*doc.Manuf)
	}
	return b
}

// Payload returns the raw AD structures.
func (b *AdvertisementBuilder) Payload() []byte {
	if b.noVendor || b.manufDataSet {
		var p []byte
		if b.manufDataSet {
			p = append(p, byte(len(b.manufData)+1), advertising.TypeManufacturer)
			p = append(p, b.manufData...)
		}
		if b.data.Name != "" {
			p = append(p, byte(len(b.data.Name)+1), advertising.TypeCompleteLocalName)
			p = append(p, b.data.Name...)
		}
		return p
	}
	return advertising.EncodePayload(b.data)
}

// Build returns the report.
func (b *AdvertisementBuilder) Build() transport.Advertisement {
	return transport.Advertisement{
		Address: b.address,
		Payload: b.Payload(),
		RSSI:    b.rssi,
	}
}

// BuildBLE returns a mock go-ble advertisement carrying the same fields.
func (b *AdvertisementBuilder) BuildBLE() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}
	addr := &mocks.MockAddr{}
	addr.On("String").Return(b.address)
	adv.On("Addr").Return(addr)
	adv.On("RSSI").Return(b.rssi)
	adv.On("LocalName").Return(b.data.Name)
	adv.On("TxPowerLevel").Return(b.data.TxPower)

	switch {
	case b.noVendor:
		adv.On("ManufacturerData").Return(nil)
	case b.manufDataSet:
		adv.On("ManufacturerData").Return(b.manufData)
	default:
		// strip the length and type bytes of the encoded structure
		adv.On("ManufacturerData").Return(advertising.Encode(b.data)[2:])
	}
	return adv
}

// AdvertisementArrayBuilder builds several reports with a fluent API and
// supports returning to a parent builder through the type parameter T.
//
//	ads := NewAdvertisementArrayBuilder[[]transport.Advertisement]().
//	    WithNewAdvertisement().FromJSON(`{"address": "c0:00:00:00:00:01", "deviceType": 2}`).Build().
//	    WithAdvertisements(CreateAdvertisement("c0:00:00:00:00:02", 0x03, 0).Build()).
//	    Build()
type AdvertisementArrayBuilder[T any] struct {
	advertisements []transport.Advertisement
	parent         T
	buildFunc      func(T, []transport.Advertisement) T
}

// NewAdvertisementArrayBuilder creates a new array builder.
func NewAdvertisementArrayBuilder[T any]() *AdvertisementArrayBuilder[T] {
	return &AdvertisementArrayBuilder[T]{}
}

// WithAdvertisements appends pre-built reports.
func (ab *AdvertisementArrayBuilder[T]) WithAdvertisements(ads ...transport.Advertisement) *AdvertisementArrayBuilder[T] {
	ab.advertisements = append(ab.advertisements, ads...)
	return ab
}

// WithNewAdvertisement starts a report whose Build returns to this builder.
func (ab *AdvertisementArrayBuilder[T]) WithNewAdvertisement() *AdvertisementArrayBuilderItem[T] {
	return &AdvertisementArrayBuilderItem[T]{
		AdvertisementBuilder: NewAdvertisementBuilder(),
		parent:               ab,
	}
}

// Build returns the parent when one is attached, otherwise the slice.
func (ab *AdvertisementArrayBuilder[T]) Build() T {
	if ab.buildFunc != nil {
		return ab.buildFunc(ab.parent, ab.advertisements)
	}
	var result interface{} = ab.advertisements
	return result.(T)
}

// AdvertisementArrayBuilderItem is an AdvertisementBuilder bound to an array.
type AdvertisementArrayBuilderItem[T any] struct {
	*AdvertisementBuilder
	parent *AdvertisementArrayBuilder[T]
}

// FromJSON fills the report from a JSON document and keeps the item chain.
func (abi *AdvertisementArrayBuilderItem[T]) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementArrayBuilderItem[T] {
	abi.AdvertisementBuilder.FromJSON(jsonStrFmt, args...)
	return abi
}

// Build appends the report to the parent array and returns it.
func (abi *AdvertisementArrayBuilderItem[T]) Build() *AdvertisementArrayBuilder[T] {
	abi.parent.advertisements = append(abi.parent.advertisements, abi.AdvertisementBuilder.Build())
	return abi.parent
}
