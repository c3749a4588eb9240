package log

import (
	"fmt"
	"log/slog"
	"time"
)

const errorKey = "error"

// Field is a single structured key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

func (f Field) attr() slog.Attr { return slog.Any(f.Key, f.Value) }

// F builds a Field from an arbitrary value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Any is an alias of F.
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

func Str(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field     { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field   { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

// Dur renders a duration in its String form so text and JSON output agree.
func Dur(key string, value time.Duration) Field { return Field{Key: key, Value: value.String()} }

// Time renders a timestamp as RFC3339 with milliseconds.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value.UTC().Format("2006-01-02T15:04:05.000Z07:00")}
}

// Err attaches an error under the "error" key. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: errorKey, Value: ""}
	}
	return Field{Key: errorKey, Value: err}
}

// Component tags the entry with the emitting component.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

// Stringer defers formatting to the value's String method.
func Stringer(key string, value fmt.Stringer) Field {
	if value == nil {
		return Field{Key: key, Value: "<nil>"}
	}
	return Field{Key: key, Value: value.String()}
}
