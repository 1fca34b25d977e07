package envelope

import (
	"encoding/binary"
	"fmt"
	"math"
)

const int32Bytes = 4

// Writer appends little-endian wire primitives to a growable buffer and
// allows fixed-width slots to be reserved and patched later.
type Writer struct {
	buf []byte
}

// NewWriter creates a writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the written bytes. The slice aliases the writer's buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// WriteByte appends a single byte.
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteBool appends 1 for true and 0 for false.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

// WriteInt32 appends a little-endian int32.
func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteInt64 appends a little-endian int64.
func (w *Writer) WriteInt64(v int64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

// WriteCount appends a non-negative count as int32.
// Counts beyond math.MaxInt32 are rejected rather than truncated.
func (w *Writer) WriteCount(n int) error {
	if n < 0 || n > math.MaxInt32 {
		return &FormatError{Offset: len(w.buf), Reason: fmt.Sprintf("count %d out of range", n)}
	}
	w.WriteInt32(int32(n))
	return nil
}

// WriteString appends an int32 byte length followed by the UTF-8 bytes.
func (w *Writer) WriteString(s string) error {
	if err := w.WriteCount(len(s)); err != nil {
		return err
	}
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBlob appends an int32 length followed by b.
func (w *Writer) WriteBlob(b []byte) error {
	if err := w.WriteCount(len(b)); err != nil {
		return err
	}
	w.buf = append(w.buf, b...)
	return nil
}

// WriteRaw appends b with no length prefix.
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reserve appends a zeroed int32 slot and returns its offset for PatchInt32.
func (w *Writer) Reserve() int {
	off := len(w.buf)
	w.buf = append(w.buf, 0, 0, 0, 0)
	return off
}

// PatchInt32 overwrites a slot previously returned by Reserve.
func (w *Writer) PatchInt32(off int, v int32) {
	binary.LittleEndian.PutUint32(w.buf[off:off+int32Bytes], uint32(v))
}

// PatchCount overwrites a reserved slot with a count, rejecting overflow.
func (w *Writer) PatchCount(off int, n int) error {
	if n < 0 || n > math.MaxInt32 {
		return &FormatError{Offset: off, Reason: fmt.Sprintf("count %d out of range", n)}
	}
	w.PatchInt32(off, int32(n))
	return nil
}

// Reader consumes wire primitives written by Writer.
// All methods fail with a *FormatError on truncated or malformed input.
type Reader struct {
	buf []byte
	off int
}

// NewReader creates a reader over b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) need(n int, what string) error {
	if n < 0 || r.Remaining() < n {
		return &FormatError{Offset: r.off, Reason: fmt.Sprintf("truncated %s: need %d bytes, have %d", what, n, r.Remaining())}
	}
	return nil
}

// ReadByte consumes one byte.
func (r *Reader) ReadByte() (byte, error) {
	if err := r.need(1, "byte"); err != nil {
		return 0, err
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// ReadInt32 consumes a little-endian int32.
func (r *Reader) ReadInt32() (int32, error) {
	if err := r.need(int32Bytes, "int32"); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += int32Bytes
	return v, nil
}

// ReadInt64 consumes a little-endian int64.
func (r *Reader) ReadInt64() (int64, error) {
	if err := r.need(8, "int64"); err != nil {
		return 0, err
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.off:]))
	r.off += 8
	return v, nil
}

// ReadCount consumes an int32 and rejects negative values.
func (r *Reader) ReadCount() (int, error) {
	off := r.off
	v, err := r.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, &FormatError{Offset: off, Reason: fmt.Sprintf("negative count %d", v)}
	}
	return int(v), nil
}

// ReadString consumes a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	b, err := r.readPrefixed("string")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBlob consumes a length-prefixed byte slice. The result is a copy.
func (r *Reader) ReadBlob() ([]byte, error) {
	b, err := r.readPrefixed("blob")
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadRaw consumes exactly n bytes. The result is a copy.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if err := r.need(n, "raw bytes"); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *Reader) readPrefixed(what string) ([]byte, error) {
	n, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	if err := r.need(n, what); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}
