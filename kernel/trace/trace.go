// Package trace defines the structured tracing hook used by the process
// construction code. Nothing in the kernel depends on a tracer being attached;
// events are purely diagnostic.
package trace

import "strconv"

// Level classifies an Event.
type Level uint8

// The supported event levels.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

var levelNames = [...]string{"debug", "info", "warn"}

// String implements fmt.Stringer for Level.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// FieldKind selects how a Field value is rendered.
type FieldKind uint8

// The supported field kinds.
const (
	FieldUint FieldKind = iota
	FieldAddr
	FieldString
)

// Field is a single key/value pair attached to an Event.
type Field struct {
	Key  string
	Kind FieldKind
	Num  uint64
	Str  string
}

// Addr returns a field that renders v as a hex address.
func Addr(key string, v uintptr) Field {
	return Field{Key: key, Kind: FieldAddr, Num: uint64(v)}
}

// Uint returns a field that renders v in decimal.
func Uint(key string, v uint64) Field {
	return Field{Key: key, Kind: FieldUint, Num: v}
}

// Str returns a string field.
func Str(key, v string) Field {
	return Field{Key: key, Kind: FieldString, Str: v}
}

// Value returns the field payload as a string, number or hex string.
func (f Field) Value() interface{} {
	switch f.Kind {
	case FieldString:
		return f.Str
	case FieldAddr:
		return "0x" + strconv.FormatUint(f.Num, 16)
	default:
		return f.Num
	}
}

// String renders the field as key=value.
func (f Field) String() string {
	switch f.Kind {
	case FieldString:
		return f.Key + "=" + strconv.Quote(f.Str)
	case FieldAddr:
		return f.Key + "=0x" + strconv.FormatUint(f.Num, 16)
	default:
		return f.Key + "=" + strconv.FormatUint(f.Num, 10)
	}
}

// Event describes something that happened inside a kernel module.
type Event struct {
	Level   Level
	Module  string
	Message string
	Fields  []Field
}

// Tracer receives events.
type Tracer interface {
	Trace(Event)
}

// TracerFunc adapts a plain function to the Tracer interface.
type TracerFunc func(Event)

// Trace implements Tracer.
func (fn TracerFunc) Trace(ev Event) { fn(ev) }

// Nop discards every event.
type Nop struct{}

// Trace implements Tracer.
func (Nop) Trace(Event) {}

// Or returns t, or Nop when t is nil.
func Or(t Tracer) Tracer {
	if t == nil {
		return Nop{}
	}
	return t
}
