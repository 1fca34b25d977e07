package attrs

import (
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

var (
	timeType    = reflect.TypeOf(time.Time{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	decimalType = reflect.TypeOf(apd.Decimal{})
)

// Immutable reports whether v cannot be mutated in place through a copy handed
// to the caller: booleans, numeric scalars, strings, timestamps, UUIDs and
// fixed-point decimals. A nil value has nothing to mutate.
//
// Pointers, slices, maps, structs and interfaces are never exempt, including
// pointers to exempt types.
func Immutable(v any) bool {
	if v == nil {
		return true
	}
	return ImmutableType(reflect.TypeOf(v))
}

// ImmutableType is Immutable for a static type.
func ImmutableType(t reflect.Type) bool {
	switch t {
	case timeType, uuidType, decimalType:
		return true
	}

	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	}
	return false
}
