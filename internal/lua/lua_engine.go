// Package lua runs feature decoders written in Lua.
//
// A script describes one feature and decodes its bytes:
//
//	feature = {
//	    name = "Wind",
//	    size = 4,
//	    fields = {
//	        { name = "Speed", unit = "m/s", type = "Float", min = 0, max = 60 },
//	        { name = "Direction", unit = "deg", type = "UInt16", min = 0, max = 359 },
//	    },
//	}
//
//	function decode(data)
//	    return 4, bluest.u16(data, 1) / 10, bluest.u16(data, 3)
//	end
//
// decode receives the payload from the feature's offset on as a byte string
// and returns the number of bytes it consumed followed by one value per
// field; nil values are reported as not available. Returning nil and a byte
// count reports a short payload.
package lua

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"

	"github.com/srg/bluest/feature"
)

// LuaError represents detailed Lua execution errors
type LuaError struct {
	Type    string // "syntax", "runtime", "api"
	Message string
	Line    int
	Source  string
}

func (e *LuaError) Error() string {
	var where []string
	if e.Source != "" {
		where = append(where, "in "+e.Source)
	}
	if e.Line > 0 {
		where = append(where, fmt.Sprintf("line %d", e.Line))
	}
	if len(where) == 0 {
		return fmt.Sprintf("Lua %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("Lua %s error (%s): %s", e.Type, strings.Join(where, ", "), e.Message)
}

// Is matches another *LuaError of the same Type.
func (e *LuaError) Is(target error) bool {
	var other *LuaError
	if errors.As(target, &other) {
		return e.Type == other.Type
	}
	return false
}

// Sentinels for errors.Is on LuaError types.
var (
	ErrSyntax  = &LuaError{Type: "syntax"}
	ErrRuntime = &LuaError{Type: "runtime"}
	ErrAPI     = &LuaError{Type: "api"}
)

// parseMessage splits `chunk:line: text` into its parts.
func parseMessage(typ, source, msg string) *LuaError {
	le := &LuaError{Type: typ, Message: msg, Source: source}
	parts := strings.SplitN(msg, ":", 3)
	if len(parts) == 3 {
		var line int
		if n, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && n == 1 {
			le.Line = line
			le.Message = strings.TrimSpace(parts[2])
		}
	}
	return le
}

// Engine owns one Lua state holding one decoder script. Calls into the state
// are serialized.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
	source string

	name   string
	size   int
	fields []feature.Field
}

// LoadFile reads and loads a decoder script.
func LoadFile(path string, logger *logrus.Logger) (*Engine, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return Load(string(content), path, logger)
}

// Load runs script and reads its feature table. source names the script in
// errors and logs.
func Load(script, source string, logger *logrus.Logger) (*Engine, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(script) == "" {
		return nil, &LuaError{Type: "api", Message: "empty script", Source: source}
	}

	e := &Engine{
		state:  lua.NewState(),
		logger: logger,
		source: source,
	}
	e.state.OpenLibs()
	e.registerPrint()
	registerHelpers(e.state)

	if status := e.state.LoadString(script); status != 0 {
		err := parseMessage("syntax", source, e.popMessage())
		e.Close()
		return nil, err
	}
	if err := e.state.Call(0, 0); err != nil {
		e.Close()
		return nil, parseMessage("runtime", source, err.Error())
	}
	if err := e.readDescription(); err != nil {
		e.Close()
		return nil, err
	}
	e.state.GetGlobal("decode")
	isFunc := e.state.IsFunction(-1)
	e.state.Pop(1)
	if !isFunc {
		e.Close()
		return nil, &LuaError{Type: "api", Message: "decode function is missing", Source: source}
	}

	logger.WithFields(logrus.Fields{
		"script":  source,
		"feature": e.name,
		"fields":  len(e.fields),
	}).Debug("Loaded Lua decoder")
	return e, nil
}

func (e *Engine) popMessage() string {
	L := e.state
	msg := "unknown Lua error"
	if L.GetTop() > 0 {
		if L.IsString(-1) {
			msg = L.ToString(-1)
		}
		L.Pop(1)
	}
	return msg
}

// registerPrint routes print() to the logger.
func (e *Engine) registerPrint() {
	e.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprint(L.ToBoolean(i)))
			case L.IsNumber(i), L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				parts = append(parts, L.Typename(int(L.Type(i))))
			}
		}
		e.logger.WithField("script", e.source).Debug(strings.Join(parts, "\t"))
		return 0
	})
	e.state.SetGlobal("print")
}

func (e *Engine) readDescription() error {
	L := e.state
	L.GetGlobal("feature")
	defer L.SetTop(0)
	if !L.IsTable(-1) {
		return &LuaError{Type: "api", Message: "global feature table is missing", Source: e.source}
	}

	L.GetField(-1, "name")
	if L.IsString(-1) {
		e.name = L.ToString(-1)
	}
	L.Pop(1)
	if e.name == "" {
		return &LuaError{Type: "api", Message: "feature.name is required", Source: e.source}
	}

	L.GetField(-1, "size")
	if L.IsNumber(-1) {
		e.size = L.ToInteger(-1)
	}
	L.Pop(1)

	L.GetField(-1, "fields")
	if !L.IsTable(-1) {
		return &LuaError{Type: "api", Message: "feature.fields must be a table", Source: e.source}
	}
	n := int(L.ObjLen(-1))
	for i := 1; i <= n; i++ {
		L.RawGeti(-1, i)
		f, err := e.readField(i)
		L.Pop(1)
		if err != nil {
			return err
		}
		e.fields = append(e.fields, f)
	}
	if len(e.fields) == 0 {
		return &LuaError{Type: "api", Message: "feature.fields is empty", Source: e.source}
	}
	return nil
}

// readField reads the field table on top of the stack.
func (e *Engine) readField(i int) (feature.Field, error) {
	L := e.state
	if !L.IsTable(-1) {
		return feature.Field{}, &LuaError{Type: "api", Message: fmt.Sprintf("feature.fields[%d] must be a table", i), Source: e.source}
	}
	str := func(key string) string {
		L.GetField(-1, key)
		defer L.Pop(1)
		if L.IsString(-1) {
			return L.ToString(-1)
		}
		return ""
	}
	num := func(key string) float64 {
		L.GetField(-1, key)
		defer L.Pop(1)
		return L.ToNumber(-1)
	}

	f := feature.Field{Name: str("name"), Unit: str("unit"), Min: num("min"), Max: num("max")}
	if f.Name == "" {
		return f, &LuaError{Type: "api", Message: fmt.Sprintf("feature.fields[%d].name is required", i), Source: e.source}
	}
	typ, err := parseFieldType(str("type"))
	if err != nil {
		return f, &LuaError{Type: "api", Message: fmt.Sprintf("feature.fields[%d]: %v", i, err), Source: e.source}
	}
	f.Type = typ
	return f, nil
}

func parseFieldType(s string) (feature.FieldType, error) {
	if s == "" {
		return feature.Float, nil
	}
	for t := feature.Int8; t <= feature.Float; t++ {
		if strings.EqualFold(t.String(), s) {
			return t, nil
		}
	}
	return feature.Float, fmt.Errorf("unknown field type %q", s)
}

// Name returns the feature name declared by the script.
func (e *Engine) Name() string { return e.name }

// Fields returns the declared fields.
func (e *Engine) Fields() []feature.Field { return e.fields }

// decode calls the script's decode with data and returns the consumed byte
// count and values.
func (e *Engine) decode(data []byte) (int, []feature.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, nil, &LuaError{Type: "api", Message: "engine closed", Source: e.source}
	}

	L := e.state
	L.SetTop(0)
	L.GetGlobal("decode")
	L.PushBytes(data)
	if err := L.Call(1, lua.LUA_MULTRET); err != nil {
		L.SetTop(0)
		return 0, nil, parseMessage("runtime", e.source, err.Error())
	}
	defer L.SetTop(0)

	top := L.GetTop()
	if top == 0 {
		return 0, nil, &LuaError{Type: "api", Message: "decode returned nothing", Source: e.source}
	}
	if L.IsNil(1) {
		// nil, need
		need := len(data) + 1
		if top >= 2 && L.IsNumber(2) {
			need = L.ToInteger(2)
		}
		return 0, nil, &feature.DataError{Feature: e.name, Need: need, Have: len(data)}
	}
	if !L.IsNumber(1) {
		return 0, nil, &LuaError{Type: "api", Message: "decode must return the consumed byte count first", Source: e.source}
	}
	consumed := L.ToInteger(1)

	values := make([]feature.Value, len(e.fields))
	for i := range values {
		idx := i + 2
		if idx <= top && L.IsNumber(idx) {
			values[i] = feature.Number(L.ToNumber(idx))
		} else {
			values[i] = feature.NotAvailable
		}
	}
	return consumed, values, nil
}

// Close releases the Lua state.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
}
