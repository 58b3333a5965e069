package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/srg/bluest/internal/testutils"
)

func (s *CommandTestSuite) TestScan_Help() {
	// GOAL: Verify scan documents its flags
	//
	// TEST SCENARIO: scan --help → succeeds → output lists description and flags

	out, err := s.ExecuteCommand("scan", "--help")
	s.Require().NoError(err)
	s.Contains(out, "Scan for BlueST nodes in the vicinity")
	s.Contains(out, "--duration")
	s.Contains(out, "--all")
	s.Contains(out, "--format")
}

func (s *CommandTestSuite) TestScan_InvalidArguments() {
	// GOAL: Verify bad flag values are rejected before scanning
	//
	// TEST SCENARIO: invalid format, zero duration, bad log level → error, no scan started

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "format", args: []string{"scan", "--format=xml"}, wantErr: "invalid format 'xml': must be one of [table json]"},
		{name: "duration", args: []string{"scan", "--duration=0s"}, wantErr: "invalid duration 0s: must be positive"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			resetFlags(rootCmd)
			_, err := s.ExecuteCommand(tt.args...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.wantErr)
		})
	}
	s.Zero(s.transport.Calls("Scan"), "invalid arguments MUST NOT start a scan")
}

func (s *CommandTestSuite) TestScan_InvalidLogLevel() {
	// GOAL: Verify the log level is validated
	//
	// TEST SCENARIO: --log-level verbose → error naming the valid levels

	rootCmd.SetArgs([]string{"scan", "--duration", "10ms", "--log-level", "verbose"})
	rootCmd.SetOut(new(discard))
	err := rootCmd.Execute()

	s.Require().Error(err)
	s.Contains(err.Error(), "invalid log level: verbose (must be debug, info, warn, or error)")
}

func (s *CommandTestSuite) TestScan_Table() {
	// GOAL: Verify discovered nodes are listed with their features
	//
	// TEST SCENARIO: two nodes advertise → scan → table lists both with names and features

	s.advertise(
		testutils.CreateAdvertisement(addrA, 0x02, temperatureMask).WithName("ENV").WithRSSI(-60).Build(),
		testutils.CreateAdvertisement(addrB, 0x03, 0).WithName("BCN").Build(),
	)

	out, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)

	s.Contains(out, "NAME")
	s.Contains(out, "ENV")
	s.Contains(out, addrA)
	s.Contains(out, "-60 dBm")
	s.Contains(out, "Temperature")
	s.Contains(out, "BCN")
	s.Contains(out, addrB)
	s.Equal(1, s.transport.Calls("Scan"))
}

func (s *CommandTestSuite) TestScan_NoNodes() {
	// GOAL: Verify an empty scan says so
	//
	// TEST SCENARIO: nothing advertises → scan → "No nodes discovered"

	out, err := s.ExecuteCommand("scan", "--duration", "20ms")
	s.Require().NoError(err)
	s.Contains(out, "No nodes discovered")
}

func (s *CommandTestSuite) TestScan_JSONWithUnmappedBits() {
	// GOAL: Verify JSON output and --all
	//
	// TEST SCENARIO: node advertises temperature plus unmapped bit 7 → scan --format json --all
	//                → one entry with Temperature and unmapped bit 7

	s.advertise(testutils.CreateAdvertisementFromJSON(`{
		"address": %q,
		"rssi": -48,
		"name": "ENV",
		"deviceType": 2,
		"featureMask": %d
	}`, addrA, temperatureMask|0x80).Build())

	out, err := s.ExecuteCommand("scan", "--duration", "50ms", "--format", "json", "--all")
	s.Require().NoError(err)

	var views []nodeView
	s.Require().NoError(json.Unmarshal([]byte(out), &views), out)
	s.Require().Len(views, 1)
	s.Equal("ENV", views[0].Name)
	s.Equal(addrA, views[0].Address)
	s.Equal(uint8(0x02), views[0].DeviceType)
	s.Equal([]string{"Temperature"}, views[0].Features)
	s.Equal([]int{7}, views[0].Unmapped)

	testutils.NewJSONAsserter(s.T()).Assert(out, fmt.Sprintf(`[{
		"name": "ENV",
		"address": %q,
		"board": "SENSOR_TILE",
		"device_type": 2,
		"rssi": "<<PRESENCE>>",
		"sleeping": false,
		"features": ["Temperature"],
		"unmapped_bits": [7]
	}]`, addrA))
}

func (s *CommandTestSuite) TestScan_ConfigFile() {
	// GOAL: Verify --config is loaded and validated
	//
	// TEST SCENARIO: config with a decoder bit out of range → scan fails naming the entry

	path := filepath.Join(s.T().TempDir(), "bluest.yaml")
	s.Require().NoError(os.WriteFile(path, []byte("decoders:\n  - bit: 40\n    script: wind.lua\n"), 0o644))

	_, err := s.ExecuteCommand("scan", "--duration", "10ms", "--config", path)
	s.Require().Error(err)
	s.Contains(err.Error(), "decoders[0]: bit 40 out of range 0..31")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
