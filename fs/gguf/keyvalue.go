package gguf

import (
	"reflect"
	"slices"
)

// Value wraps a single decoded metadata value. Accessors return the
// zero value when the underlying type does not match, so callers can
// chain lookups without checking presence first.
type Value struct {
	value any
}

func (v Value) Valid() bool {
	return v.value != nil
}

func value[T any](v Value, kinds ...reflect.Kind) (t T) {
	if v.value == nil {
		return
	}

	vv := reflect.ValueOf(v.value)
	if slices.Contains(kinds, vv.Kind()) {
		t = vv.Convert(reflect.TypeOf(t)).Interface().(T)
	}
	return
}

func values[T any](v Value, kinds ...reflect.Kind) (ts []T) {
	if v.value == nil {
		return
	}

	if vv := reflect.ValueOf(v.value); vv.Kind() == reflect.Slice {
		if slices.Contains(kinds, vv.Type().Elem().Kind()) {
			ts = make([]T, vv.Len())
			for i := range vv.Len() {
				ts[i] = vv.Index(i).Convert(reflect.TypeOf(ts[i])).Interface().(T)
			}
		}
	}
	return
}

// Int returns Value as a signed integer. Unsigned metadata integers
// are converted; other types return 0.
func (v Value) Int() int64 {
	if i := value[int64](v, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64); i != 0 {
		return i
	}
	return int64(v.Uint())
}

// Ints returns Value as a signed integer slice, or nil.
func (v Value) Ints() []int64 {
	return values[int64](v, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64)
}

// Uint returns Value as an unsigned integer, or 0.
func (v Value) Uint() uint64 {
	return value[uint64](v, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64)
}

// Uints returns Value as an unsigned integer slice, or nil.
func (v Value) Uints() []uint64 {
	return values[uint64](v, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64)
}

// Float returns Value as a float, or 0.
func (v Value) Float() float64 {
	return value[float64](v, reflect.Float32, reflect.Float64)
}

// Floats returns Value as a float slice, or nil.
func (v Value) Floats() []float64 {
	return values[float64](v, reflect.Float32, reflect.Float64)
}

// Float32s returns Value as a float32 slice, or nil.
func (v Value) Float32s() []float32 {
	return values[float32](v, reflect.Float32)
}

// Int32s returns Value as an int32 slice, or nil.
func (v Value) Int32s() []int32 {
	return values[int32](v, reflect.Int32)
}

// Bool returns Value as a boolean, or false.
func (v Value) Bool() bool {
	return value[bool](v, reflect.Bool)
}

// String returns Value as a string, or "".
func (v Value) String() string {
	return value[string](v, reflect.String)
}

// Strings returns Value as a string slice, or nil.
func (v Value) Strings() []string {
	return values[string](v, reflect.String)
}

// Bytes returns Value as a byte slice, or nil.
func (v Value) Bytes() []byte {
	return values[byte](v, reflect.Uint8)
}
