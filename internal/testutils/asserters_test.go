package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/bluest/feature"
)

// recordingT captures failures instead of failing the test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		wantFail bool
		contains string
	}{
		{
			name:     "equal documents",
			actual:   `{"name": "ENV", "rssi": -60}`,
			expected: `{"rssi": -60, "name": "ENV"}`,
		},
		{
			name:     "extra keys ignored by default",
			actual:   `{"name": "ENV", "rssi": -60}`,
			expected: `{"name": "ENV"}`,
		},
		{
			name:     "extra keys reported when strict",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"name": "ENV", "rssi": -60}`,
			expected: `{"name": "ENV"}`,
			wantFail: true,
			contains: "rssi",
		},
		{
			name:     "changed value",
			actual:   `{"name": "ENV", "features": ["Temperature"]}`,
			expected: `{"name": "ENV", "features": ["Pressure"]}`,
			wantFail: true,
			contains: "Pressure",
		},
		{
			name:     "presence placeholder",
			actual:   `{"name": "ENV", "last_seen": "2026-10-19T10:00:00Z"}`,
			expected: `{"name": "ENV", "last_seen": "<<PRESENCE>>"}`,
		},
		{
			name:     "presence placeholder needs the key",
			actual:   `{"name": "ENV"}`,
			expected: `{"name": "ENV", "last_seen": "<<PRESENCE>>"}`,
			wantFail: true,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoredFields("rssi"), WithIgnoreExtraKeys(false)},
			actual:   `[{"name": "A", "rssi": -40}, {"name": "B", "rssi": -70}]`,
			expected: `[{"name": "A", "rssi": 0}, {"name": "B"}]`,
		},
		{
			name:     "array order",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `{"features": ["Pressure", "Humidity", "Temperature"]}`,
			expected: `{"features": ["Temperature", "Pressure", "Humidity"]}`,
		},
		{
			name:     "array order matters by default",
			actual:   `{"features": ["Pressure", "Temperature"]}`,
			expected: `{"features": ["Temperature", "Pressure"]}`,
			wantFail: true,
		},
		{
			name:     "invalid actual",
			actual:   `{`,
			expected: `{}`,
			wantFail: true,
			contains: "invalid actual JSON",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if !tt.wantFail {
				assert.Empty(t, rec.errors)
				return
			}
			if assert.Len(t, rec.errors, 1) && tt.contains != "" {
				assert.Contains(t, rec.errors[0], tt.contains)
			}
		})
	}
}

func TestJSONAsserter_AssertSample(t *testing.T) {
	fields := []feature.Field{{Name: "Speed", Unit: "m/s"}, {Name: "Direction", Unit: "deg"}}
	s := feature.NewSample(16, fields, feature.Number(12.5), feature.NotAvailable)
	s.Sequence = 65552

	rec := &recordingT{}
	NewJSONAsserter(rec).AssertSample(s, `{
		"timestamp": 16,
		"sequence": 65552,
		"values": {"Speed": 12.5, "Direction": null}
	}`)
	assert.Empty(t, rec.errors)

	NewJSONAsserter(rec).AssertSample(s, `{"values": {"Speed": 12}}`)
	assert.Len(t, rec.errors, 1)
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		wantFail bool
	}{
		{name: "identical", actual: "a\nb\n", expected: "a\nb\n"},
		{name: "different line", actual: "a\nc\n", expected: "a\nb\n", wantFail: true},
		{name: "trailing whitespace counts", actual: "a  \nb", expected: "a\nb", wantFail: true},
		{
			name:     "trailing whitespace ignored",
			opts:     []TextOption{WithIgnoreTrailingWhitespace(true)},
			actual:   "a  \nb\t",
			expected: "a\nb",
		},
		{
			name:     "empty lines ignored",
			opts:     []TextOption{WithIgnoreEmptyLines(true)},
			actual:   "a\n\n\nb",
			expected: "a\nb",
		},
		{
			name:     "trim space",
			opts:     []TextOption{WithTrimSpace(true)},
			actual:   "\n  a\nb  \n",
			expected: "a\nb",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewTextAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.wantFail {
				assert.Len(t, rec.errors, 1)
			} else {
				assert.Empty(t, rec.errors)
			}
		})
	}
}

func TestTextAsserter_Diff(t *testing.T) {
	ta := NewTextAsserter(t)
	diff := ta.diff("Temperature 23.5\n", "Temperature 23.4\n")
	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-Temperature 23.4")
	assert.Contains(t, diff, "+Temperature 23.5")

	colored := NewTextAsserter(t).WithOptions(WithEnableColors(true)).diff("a b\n", "a\tb\n")
	assert.Contains(t, colored, "a·b")
	assert.Contains(t, colored, "a→b")
	assert.Contains(t, colored, "\x1b[")
}
