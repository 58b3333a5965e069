package feature

import (
	"strconv"
	"strings"
)

// FormatSample renders a sample as "Ts:<ts> <name>: <value> <unit>, ...".
func FormatSample(s Sample) string {
	var b strings.Builder
	b.WriteString("Ts:")
	b.WriteString(strconv.FormatUint(uint64(s.Timestamp), 10))
	for i, v := range s.Values {
		b.WriteByte(' ')
		if i < len(s.Fields) {
			b.WriteString(s.Fields[i].Name)
			b.WriteString(": ")
		}
		b.WriteString(v.String())
		if i < len(s.Fields) && s.Fields[i].Unit != "" && v.Available() {
			b.WriteByte(' ')
			b.WriteString(s.Fields[i].Unit)
		}
	}
	return b.String()
}
