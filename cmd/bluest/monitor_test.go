package main

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/srg/bluest/internal/testutils"
	"github.com/srg/bluest/pkg/retry"
	"github.com/srg/bluest/registry"
)

const windScript = `
feature = {
    name = "Wind",
    size = 4,
    fields = {
        { name = "Speed", unit = "m/s", type = "Float" },
        { name = "Direction", unit = "deg", type = "UInt16" },
    },
}

function decode(data)
    return 4, bluest.u16(data, 1) / 10, bluest.u16(data, 3)
end
`

func (s *CommandTestSuite) envNode(mask uint32, chars ...string) {
	s.transport.WithPeripheral(addrA, chars...)
	s.advertise(testutils.CreateAdvertisement(addrA, 0x02, mask).WithName("ENV").Build())
}

func (s *CommandTestSuite) waitSubscribed(char string) {
	s.Require().Eventually(func() bool {
		return s.transport.Subscribed(addrA, char)
	}, 2*time.Second, 5*time.Millisecond, "%s MUST be subscribed", char)
}

func (s *CommandTestSuite) TestMonitor_StreamsSamples() {
	// GOAL: Verify monitor connects, enables notifications and prints samples
	//
	// TEST SCENARIO: node advertises temperature → monitor → notification arrives
	//                → decoded line printed → link closed on exit

	s.envNode(temperatureMask, temperatureChar)

	done := s.runAsync("monitor", addrA, "--duration", "300ms")
	s.waitSubscribed(temperatureChar)
	s.True(s.transport.Notify(addrA, temperatureChar, []byte{0x10, 0x00, 0xeb, 0x00}))

	res := <-done
	s.Require().NoError(res.err)
	testutils.NewTextAsserter(s.T()).Assert(res.out,
		"Connected to ENV @00000A (SENSOR_TILE)\n"+
			"Temperature    Ts:16 Temperature: 23.5 °C\n")
	s.False(s.transport.Subscribed(addrA, temperatureChar), "notifications MUST be disabled on exit")
	s.Equal(1, s.transport.Calls("Disconnect"))
}

func (s *CommandTestSuite) TestMonitor_ByName() {
	// GOAL: Verify the advertised name selects the node
	//
	// TEST SCENARIO: monitor ENV → node found by name → connected

	s.envNode(temperatureMask, temperatureChar)

	out, err := s.ExecuteCommand("monitor", "ENV", "--duration", "20ms")
	s.Require().NoError(err)
	s.Contains(out, "Connected to ENV")
}

func (s *CommandTestSuite) TestMonitor_UnknownFeature() {
	// GOAL: Verify --feature is checked against the node's features
	//
	// TEST SCENARIO: --feature Pressure on a temperature node → error lists what exists

	s.envNode(temperatureMask, temperatureChar)

	_, err := s.ExecuteCommand("monitor", addrA, "--feature", "Pressure")
	s.Require().Error(err)
	s.Contains(err.Error(), `has no feature "Pressure" (available: Temperature)`)
}

func (s *CommandTestSuite) TestMonitor_NodeNotFound() {
	// GOAL: Verify discovery gives up after the scan window
	//
	// TEST SCENARIO: nothing advertises → monitor with 50ms window → ErrNodeNotFound

	_, err := s.ExecuteCommand("monitor", addrA, "--scan-timeout", "50ms")
	s.Require().ErrorIs(err, ErrNodeNotFound)
	s.Zero(s.transport.Calls("Connect"))
}

func (s *CommandTestSuite) TestMonitor_ConnectRetries() {
	// GOAL: Verify connection failures are retried up to --retries
	//
	// TEST SCENARIO: every Connect fails → monitor --retries 2 → two attempts then ExhaustedError

	s.envNode(temperatureMask, temperatureChar)
	s.transport.ConnectErr = errors.New("connection timed out")

	_, err := s.ExecuteCommand("monitor", addrA, "--retries", "2")

	var exhausted *retry.ExhaustedError
	s.Require().ErrorAs(err, &exhausted)
	s.Equal(2, exhausted.Attempts)
	s.Equal(2, s.transport.Calls("Connect"))
}

func (s *CommandTestSuite) TestMonitor_LinkLost() {
	// GOAL: Verify a dropped link ends the command with ErrConnectionLost
	//
	// TEST SCENARIO: monitoring → peripheral drops link → command returns ErrConnectionLost

	s.envNode(temperatureMask, temperatureChar)

	done := s.runAsync("monitor", addrA, "--duration", "5s")
	s.waitSubscribed(temperatureChar)
	s.transport.DropLink(addrA, errors.New("supervision timeout"))

	select {
	case res := <-done:
		s.Require().ErrorIs(res.err, ErrConnectionLost)
	case <-time.After(3 * time.Second):
		s.FailNow("monitor MUST stop when the link drops")
	}
}

func (s *CommandTestSuite) TestMonitor_LuaDecoder() {
	// GOAL: Verify --decoder binds a script to an unmapped bit
	//
	// TEST SCENARIO: node advertises bit 7 → monitor --decoder 7=wind.lua → samples decoded by the script

	script := filepath.Join(s.T().TempDir(), "wind.lua")
	s.Require().NoError(os.WriteFile(script, []byte(windScript), 0o644))
	windChar := registry.FeatureCharacteristicUUID(0x80)
	s.envNode(0x80, windChar)

	done := s.runAsync("monitor", addrA, "--decoder", "7="+script, "--duration", "300ms")
	s.waitSubscribed(windChar)
	s.True(s.transport.Notify(addrA, windChar, []byte{0x10, 0x00, 0x7b, 0x00, 0x5a, 0x00}))

	res := <-done
	s.Require().NoError(res.err)
	s.Contains(res.out, "Ts:16 Speed: 12.3 m/s Direction: 90 deg")
}

func (s *CommandTestSuite) TestMonitor_DecoderOnBoundBit() {
	// GOAL: Verify a script cannot take over a built-in bit of the wildcard table
	//
	// TEST SCENARIO: --decoder 18=wind.lua → ErrInvalidBitmask before any scan

	script := filepath.Join(s.T().TempDir(), "wind.lua")
	s.Require().NoError(os.WriteFile(script, []byte(windScript), 0o644))

	_, err := s.ExecuteCommand("monitor", addrA, "--decoder", "18="+script)
	s.Require().ErrorIs(err, registry.ErrInvalidBitmask)
	s.Zero(s.transport.Calls("Scan"))
}
