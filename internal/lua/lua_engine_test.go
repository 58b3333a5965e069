package lua

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"gopkg.in/yaml.v3"

	"github.com/srg/bluest/feature"
	"github.com/srg/bluest/internal/testutils"
	"github.com/srg/bluest/registry"
)

const windScript = `
feature = {
    name = "Wind",
    size = 4,
    fields = {
        { name = "Speed", unit = "m/s", type = "Float", min = 0, max = 60 },
        { name = "Direction", unit = "deg", type = "UInt16", min = 0, max = 359 },
    },
}

function decode(data)
    print("decoding", #data)
    local dir = bluest.u16(data, 3)
    if dir == 0xFFFF then
        dir = nil
    end
    return 4, bluest.u16(data, 1) / 10, dir
end
`

// decodeScenarios drive Extract on small scripts. A null value expects
// NotAvailable.
const decodeScenarios = `
- name: fields decoded at offset
  script: wind
  data: "aabb7b005a00"
  offset: 2
  consumed: 4
  values: [12.3, 90]
- name: sentinel becomes not available
  script: wind
  data: "0a00ffff"
  consumed: 4
  values: [1.0, null]
- name: payload below declared size
  script: wind
  data: "0a00ff"
  error: insufficient
- name: script reports a short payload
  script: |
    feature = { name = "Blob", fields = { { name = "A" } } }
    function decode(data)
        if #data < 6 then return nil, 6 end
        return 6, 1
    end
  data: "0102"
  error: insufficient
- name: consumed beyond payload
  script: |
    feature = { name = "Greedy", fields = { { name = "A" } } }
    function decode(data) return 10, 1 end
  data: "0102"
  error: insufficient
- name: runtime error
  script: |
    feature = { name = "Broken", fields = { { name = "A" } } }
    function decode(data) return nil + 1 end
  data: "01"
  error: runtime
- name: consumed nothing
  script: |
    feature = { name = "Lazy", fields = { { name = "A" } } }
    function decode(data) return 0, 1 end
  data: "01"
  error: api
- name: signed helpers
  script: |
    feature = { name = "Signed", fields = { { name = "A", type = "Int16" }, { name = "B", type = "Int8" } } }
    function decode(data) return 3, bluest.i16(data, 1), bluest.i8(data, 3) end
  data: "feff80"
  consumed: 3
  values: [-2, -128]
`

type decodeScenario struct {
	Name     string     `yaml:"name"`
	Script   string     `yaml:"script"`
	Data     string     `yaml:"data"`
	Offset   int        `yaml:"offset"`
	Consumed int        `yaml:"consumed"`
	Values   []*float64 `yaml:"values"`
	Error    string     `yaml:"error"`
}

type EngineTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (s *EngineTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
}

func (s *EngineTestSuite) load(script string) *Engine {
	e, err := Load(script, "test", s.helper.Logger)
	s.Require().NoError(err)
	s.T().Cleanup(e.Close)
	return e
}

func (s *EngineTestSuite) TestDescription() {
	e := s.load(windScript)

	s.Equal("Wind", e.Name())
	s.Equal([]feature.Field{
		{Name: "Speed", Unit: "m/s", Type: feature.Float, Min: 0, Max: 60},
		{Name: "Direction", Unit: "deg", Type: feature.UInt16, Min: 0, Max: 359},
	}, e.Fields())
}

func (s *EngineTestSuite) TestDecodeScenarios() {
	// GOAL: scripted decoders honor the decode contract
	//
	// TEST SCENARIO: run every YAML scenario through Extract and compare values or error kind
	var scenarios []decodeScenario
	s.Require().NoError(yaml.Unmarshal([]byte(decodeScenarios), &scenarios))

	for _, sc := range scenarios {
		s.Run(sc.Name, func() {
			script := sc.Script
			if script == "wind" {
				script = windScript
			}
			d := s.load(script).Constructor()()
			data, err := hex.DecodeString(sc.Data)
			s.Require().NoError(err)

			sample, n, err := d.Extract(7, data, sc.Offset)

			switch sc.Error {
			case "":
				s.Require().NoError(err)
				s.Equal(sc.Consumed, n)
				s.Equal(uint16(7), sample.Timestamp)
				s.Require().Len(sample.Values, len(sc.Values))
				for i, want := range sc.Values {
					if want == nil {
						s.False(sample.Values[i].Available(), "value %d", i)
						continue
					}
					s.InDelta(*want, sample.Values[i].Float(), 1e-9, "value %d", i)
				}
			case "insufficient":
				s.ErrorIs(err, feature.ErrInsufficientData)
			case "runtime":
				s.ErrorIs(err, ErrRuntime)
			case "api":
				s.ErrorIs(err, ErrAPI)
			default:
				s.Failf("unknown error kind", "%q", sc.Error)
			}
		})
	}
}

func (s *EngineTestSuite) TestLoadErrors() {
	tests := []struct {
		name   string
		script string
		want   error
	}{
		{name: "empty script", script: "  ", want: ErrAPI},
		{name: "syntax error", script: "feature = {", want: ErrSyntax},
		{name: "error while running chunk", script: "error('boom')", want: ErrRuntime},
		{name: "missing feature table", script: "function decode(d) return 1 end", want: ErrAPI},
		{name: "missing name", script: `feature = { fields = { { name = "A" } } } function decode(d) return 1 end`, want: ErrAPI},
		{name: "no fields", script: `feature = { name = "X", fields = {} } function decode(d) return 1 end`, want: ErrAPI},
		{name: "unknown field type", script: `feature = { name = "X", fields = { { name = "A", type = "Int64" } } } function decode(d) return 1 end`, want: ErrAPI},
		{name: "missing decode", script: `feature = { name = "X", fields = { { name = "A" } } }`, want: ErrAPI},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			e, err := Load(tt.script, "bad.lua", s.helper.Logger)
			s.Nil(e)
			s.ErrorIs(err, tt.want)
		})
	}
}

func (s *EngineTestSuite) TestSyntaxErrorCarriesLine() {
	_, err := Load("feature = {\nname = \n", "bad.lua", s.helper.Logger)

	var le *LuaError
	s.Require().ErrorAs(err, &le)
	s.Equal("syntax", le.Type)
	s.Equal("bad.lua", le.Source)
	s.Positive(le.Line)
	s.Contains(le.Error(), "in bad.lua")
}

func (s *EngineTestSuite) TestPrintGoesToLogger() {
	d := s.load(windScript).Constructor()()

	_, _, err := d.Extract(0, []byte{1, 0, 2, 0}, 0)
	s.Require().NoError(err)

	entry := s.helper.Hook.LastEntry()
	s.Require().NotNil(entry)
	s.Equal("decoding\t4", entry.Message)
	s.Equal("test", entry.Data["script"])
}

func (s *EngineTestSuite) TestClosedEngine() {
	e, err := Load(windScript, "test", s.helper.Logger)
	s.Require().NoError(err)
	e.Close()
	e.Close()

	_, _, err = e.Constructor()().Extract(0, []byte{1, 0, 2, 0}, 0)
	s.ErrorIs(err, ErrAPI)
}

func (s *EngineTestSuite) TestRegister() {
	path := filepath.Join(s.T().TempDir(), "wind.lua")
	s.Require().NoError(os.WriteFile(path, []byte(windScript), 0o600))
	reg := registry.NewEmpty()

	e, err := Register(reg, 0x80, 7, path, s.helper.Logger)
	s.Require().NoError(err)
	defer e.Close()

	entries := reg.Resolve(0x80, 1<<7)
	s.Require().Len(entries, 1)
	s.Equal("Wind", entries[0].Constructor().Name())

	_, err = Register(reg, 0x80, 7, path, s.helper.Logger)
	s.ErrorIs(err, registry.ErrInvalidBitmask)

	_, err = Register(reg, 0x80, 8, filepath.Join(s.T().TempDir(), "missing.lua"), s.helper.Logger)
	s.ErrorIs(err, os.ErrNotExist)
}

func (s *EngineTestSuite) TestShippedWindScript() {
	// GOAL: the example decoder shipped with the repository loads and decodes
	//
	// TEST SCENARIO: load scripts/wind.lua → decode speed and direction → uncalibrated vane is NotAvailable
	src, err := testutils.LoadScript("scripts/wind.lua")
	s.Require().NoError(err)

	e, err := Load(src, "wind.lua", s.helper.Logger)
	s.Require().NoError(err)
	defer e.Close()
	s.Equal("Wind", e.Name())

	d := e.Constructor()()
	sample, n, err := d.Extract(16, []byte{0x7b, 0x00, 0x5a, 0x00}, 0)
	s.Require().NoError(err)
	s.Equal(4, n)
	s.Require().Len(sample.Values, 2)
	s.InDelta(12.3, sample.Values[0].Float(), 1e-9)
	s.InDelta(90, sample.Values[1].Float(), 1e-9)

	sample, _, err = d.Extract(17, []byte{0x00, 0x00, 0xff, 0xff}, 0)
	s.Require().NoError(err)
	s.False(sample.Values[1].Available())
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
