package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/bluest/advertising"
	"github.com/srg/bluest/transport"
)

// FromAdvertisement converts a go-ble report. go-ble hands out decoded
// fields only, so the AD structures the parser reads are rebuilt from them.
func FromAdvertisement(adv ble.Advertisement) transport.Advertisement {
	out := transport.Advertisement{RSSI: adv.RSSI()}
	if addr := adv.Addr(); addr != nil {
		out.Address = addr.String()
	}
	out.Payload = BuildPayload(adv.LocalName(), adv.TxPowerLevel(), adv.ManufacturerData())
	return out
}

// BuildPayload assembles AD structures for a complete local name, a tx power
// level and a manufacturer specific field. Empty name or data and an
// unavailable tx power are left out.
func BuildPayload(name string, txPower int, manufacturer []byte) []byte {
	var p []byte
	if len(manufacturer) > 0 && len(manufacturer) < 255 {
		p = append(p, byte(len(manufacturer)+1), advertising.TypeManufacturer)
		p = append(p, manufacturer...)
	}
	if name != "" && len(name) < 255 {
		p = append(p, byte(len(name)+1), advertising.TypeCompleteLocalName)
		p = append(p, name...)
	}
	if txPower != advertising.TxPowerUnavailable && txPower >= -128 && txPower <= 127 {
		p = append(p, 2, advertising.TypeTxPower, byte(int8(txPower)))
	}
	return p
}
