package envelope

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Value tags used by TypedCodec. Each encoded value is one tag byte followed by
// a tag-specific payload that runs to the end of the value.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagInt8
	tagInt16
	tagInt32
	tagInt64
	tagUint
	tagUint8
	tagUint16
	tagUint32
	tagUint64
	tagFloat32
	tagFloat64
	tagString
	tagTime
	tagUUID
	tagDecimal
	tagBytes
	tagDuration
	tagJSON
	tagComplex64
	tagComplex128
	tagUintptr
	tagGob
)

// TypedCodec is the default ValueCodec. Built-in scalars, strings, byte slices,
// time.Time, time.Duration, uuid.UUID and apd.Decimal round-trip with their exact
// type. Types passed to Register are stored with gob and also keep their type.
//
// Any other value is stored as JSON and decodes to the generic JSON shapes
// (map[string]any, []any, json.Number, string, bool, nil). Unregistered named
// types of a scalar kind are rejected, since JSON would hand them back as
// their underlying type.
type TypedCodec struct{}

var le = binary.LittleEndian

var registered = xsync.NewMapOf[reflect.Type, struct{}]()

// Register makes values of v's dynamic type round-trip through TypedCodec
// with their exact type. Every process that decodes such values must register
// the same types, as with gob.Register.
func Register(v any) {
	gob.Register(v)
	registered.Store(reflect.TypeOf(v), struct{}{})
}

// Registered reports whether v's dynamic type was passed to Register.
func Registered(v any) bool {
	_, ok := registered.Load(reflect.TypeOf(v))
	return ok
}

// EncodeValue implements ValueCodec.
func (TypedCodec) EncodeValue(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return []byte{tagNil}, nil
	case bool:
		if x {
			return []byte{tagBool, 1}, nil
		}
		return []byte{tagBool, 0}, nil
	case int:
		return le.AppendUint64([]byte{tagInt}, uint64(x)), nil
	case int8:
		return []byte{tagInt8, byte(x)}, nil
	case int16:
		return le.AppendUint16([]byte{tagInt16}, uint16(x)), nil
	case int32:
		return le.AppendUint32([]byte{tagInt32}, uint32(x)), nil
	case int64:
		return le.AppendUint64([]byte{tagInt64}, uint64(x)), nil
	case uint:
		return le.AppendUint64([]byte{tagUint}, uint64(x)), nil
	case uint8:
		return []byte{tagUint8, x}, nil
	case uint16:
		return le.AppendUint16([]byte{tagUint16}, x), nil
	case uint32:
		return le.AppendUint32([]byte{tagUint32}, x), nil
	case uint64:
		return le.AppendUint64([]byte{tagUint64}, x), nil
	case float32:
		return le.AppendUint32([]byte{tagFloat32}, math.Float32bits(x)), nil
	case float64:
		return le.AppendUint64([]byte{tagFloat64}, math.Float64bits(x)), nil
	case complex64:
		b := le.AppendUint32([]byte{tagComplex64}, math.Float32bits(real(x)))
		return le.AppendUint32(b, math.Float32bits(imag(x))), nil
	case complex128:
		b := le.AppendUint64([]byte{tagComplex128}, math.Float64bits(real(x)))
		return le.AppendUint64(b, math.Float64bits(imag(x))), nil
	case uintptr:
		return le.AppendUint64([]byte{tagUintptr}, uint64(x)), nil
	case string:
		return append([]byte{tagString}, x...), nil
	case []byte:
		return append([]byte{tagBytes}, x...), nil
	case time.Duration:
		return le.AppendUint64([]byte{tagDuration}, uint64(x)), nil
	case time.Time:
		b, err := x.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode time: %w", err)
		}
		return append([]byte{tagTime}, b...), nil
	case uuid.UUID:
		return append([]byte{tagUUID}, x[:]...), nil
	case apd.Decimal:
		return append([]byte{tagDecimal}, x.String()...), nil
	case json.Number:
		return encodeJSON(v)
	}

	if Registered(v) {
		var buf bytes.Buffer
		buf.WriteByte(tagGob)
		if err := gob.NewEncoder(&buf).Encode(&v); err != nil {
			return nil, fmt.Errorf("encode %T: %w", v, err)
		}
		return buf.Bytes(), nil
	}
	if t := reflect.TypeOf(v); t.PkgPath() != "" && scalarKind(t.Kind()) {
		return nil, fmt.Errorf("encode %T: named type is not registered", v)
	}
	return encodeJSON(v)
}

func scalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagJSON)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	// Encoder adds a trailing newline
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeValue implements ValueCodec.
func (TypedCodec) DecodeValue(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	tag, p := b[0], b[1:]

	fixed := func(n int) error {
		if len(p) != n {
			return fmt.Errorf("tag %d: payload is %d bytes, want %d", tag, len(p), n)
		}
		return nil
	}

	switch tag {
	case tagNil:
		return nil, fixed(0)
	case tagBool:
		if err := fixed(1); err != nil {
			return nil, err
		}
		return p[0] != 0, nil
	case tagInt8, tagUint8:
		if err := fixed(1); err != nil {
			return nil, err
		}
		if tag == tagInt8 {
			return int8(p[0]), nil
		}
		return p[0], nil
	case tagInt16, tagUint16:
		if err := fixed(2); err != nil {
			return nil, err
		}
		u := le.Uint16(p)
		if tag == tagInt16 {
			return int16(u), nil
		}
		return u, nil
	case tagInt32, tagUint32, tagFloat32:
		if err := fixed(4); err != nil {
			return nil, err
		}
		u := le.Uint32(p)
		switch tag {
		case tagInt32:
			return int32(u), nil
		case tagUint32:
			return u, nil
		default:
			return math.Float32frombits(u), nil
		}
	case tagComplex64:
		if err := fixed(8); err != nil {
			return nil, err
		}
		return complex(math.Float32frombits(le.Uint32(p)), math.Float32frombits(le.Uint32(p[4:]))), nil
	case tagComplex128:
		if err := fixed(16); err != nil {
			return nil, err
		}
		return complex(math.Float64frombits(le.Uint64(p)), math.Float64frombits(le.Uint64(p[8:]))), nil
	case tagInt, tagInt64, tagUint, tagUint64, tagFloat64, tagDuration, tagUintptr:
		if err := fixed(8); err != nil {
			return nil, err
		}
		u := le.Uint64(p)
		switch tag {
		case tagInt:
			return int(int64(u)), nil
		case tagInt64:
			return int64(u), nil
		case tagUint:
			return uint(u), nil
		case tagUint64:
			return u, nil
		case tagDuration:
			return time.Duration(int64(u)), nil
		case tagUintptr:
			return uintptr(u), nil
		default:
			return math.Float64frombits(u), nil
		}
	case tagString:
		return string(p), nil
	case tagBytes:
		out := make([]byte, len(p))
		copy(out, p)
		return out, nil
	case tagTime:
		var t time.Time
		if err := t.UnmarshalBinary(p); err != nil {
			return nil, fmt.Errorf("decode time: %w", err)
		}
		return t, nil
	case tagUUID:
		id, err := uuid.FromBytes(p)
		if err != nil {
			return nil, fmt.Errorf("decode uuid: %w", err)
		}
		return id, nil
	case tagDecimal:
		d, _, err := apd.NewFromString(string(p))
		if err != nil {
			return nil, fmt.Errorf("decode decimal: %w", err)
		}
		return *d, nil
	case tagJSON:
		dec := json.NewDecoder(bytes.NewReader(p))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return v, nil
	case tagGob:
		var v any
		if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&v); err != nil {
			return nil, fmt.Errorf("decode gob: %w", err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown value tag %d", tag)
}
