package envelope

import (
	"fmt"

	"github.com/roach88/sessionstate/internal/attrs"
)

// Mode is the leading byte of every envelope.
type Mode byte

const (
	// ModeDiff carries only dirty entries and removed keys.
	ModeDiff Mode = 0

	// ModeFull carries every entry.
	ModeFull Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeDiff:
		return "diff"
	default:
		return fmt.Sprintf("mode(%d)", byte(m))
	}
}

// ValueCodec serializes individual attribute values. It is treated as a black
// box and must preserve type identity across a round trip.
type ValueCodec interface {
	EncodeValue(v any) ([]byte, error)
	DecodeValue(b []byte) (any, error)
}

// Codec encodes attribute collections to envelopes and decodes full envelopes
// back into collections.
type Codec struct {
	values ValueCodec
}

// NewCodec creates a codec using vc for attribute values.
// A nil vc selects TypedCodec.
func NewCodec(vc ValueCodec) *Codec {
	if vc == nil {
		vc = TypedCodec{}
	}
	return &Codec{values: vc}
}

// SelectMode returns the mode Encode would use for c.
func SelectMode(c *attrs.Collection) Mode {
	if c.IsNew() || c.DirtyAll() || c.Len() == 0 || c.AllDirty() {
		return ModeFull
	}
	return ModeDiff
}

// Encode serializes c in full mode when nothing can be saved by diffing,
// otherwise in diff mode.
//
// Full:  [mode=1][int32 count]{string key, value}*count
// Diff:  [mode=0][int32 dirty]{string key, value}*dirty[int32 removed]{string key}*removed
//
// Values are written as an int32 length followed by the value codec bytes.
func (c *Codec) Encode(col *attrs.Collection) ([]byte, error) {
	w := NewWriter(64)
	mode := SelectMode(col)
	_ = w.WriteByte(byte(mode))

	entries := col.Entries()

	if mode == ModeFull {
		if err := w.WriteCount(len(entries)); err != nil {
			return nil, err
		}
		for _, e := range entries {
			if err := c.writeEntry(w, e.Key, e.Value); err != nil {
				return nil, err
			}
		}
		return w.Bytes(), nil
	}

	// The dirty count is only known once the variable-length values are written.
	countPos := w.Reserve()
	count := 0
	for _, e := range entries {
		if !e.Dirty {
			continue
		}
		if err := c.writeEntry(w, e.Key, e.Value); err != nil {
			return nil, err
		}
		count++
	}
	if err := w.PatchCount(countPos, count); err != nil {
		return nil, err
	}

	removed := col.RemovedKeys()
	if err := w.WriteCount(len(removed)); err != nil {
		return nil, err
	}
	for _, k := range removed {
		if err := w.WriteString(k); err != nil {
			return nil, err
		}
	}

	return w.Bytes(), nil
}

// Decode rebuilds a collection from a full envelope. A diff envelope fails
// with a FormatError wrapping ErrFormatMismatch.
func (c *Codec) Decode(b []byte) (*attrs.Collection, error) {
	raw, err := ReadFull(b)
	if err != nil {
		return nil, err
	}

	pairs := make([]attrs.Pair, len(raw))
	for i, e := range raw {
		v, err := c.values.DecodeValue(e.Value)
		if err != nil {
			return nil, &FormatError{Offset: e.Offset, Reason: fmt.Sprintf("decode value for key %q", e.Key), Err: err}
		}
		pairs[i] = attrs.Pair{Key: e.Key, Value: v}
	}
	return attrs.FromSnapshot(pairs), nil
}

func (c *Codec) writeEntry(w *Writer, key string, value any) error {
	if err := w.WriteString(key); err != nil {
		return err
	}
	b, err := c.values.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("encode value for key %q: %w", key, err)
	}
	return w.WriteBlob(b)
}

// PeekMode returns the mode byte of b.
func PeekMode(b []byte) (Mode, error) {
	if len(b) == 0 {
		return 0, &FormatError{Offset: 0, Reason: "empty envelope"}
	}
	m := Mode(b[0])
	if m != ModeFull && m != ModeDiff {
		return 0, &FormatError{Offset: 0, Reason: fmt.Sprintf("unexpected mode byte %d", b[0])}
	}
	return m, nil
}
