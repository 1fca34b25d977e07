package envelope

import (
	"fmt"
	"slices"
)

// RawEntry is an envelope entry whose value is still codec-encoded.
// The store operates on raw entries so it never needs the value codec.
type RawEntry struct {
	Key   string
	Value []byte

	// Offset is the position of the entry's key within the envelope.
	Offset int
}

// Diff is the decoded instruction set of a diff envelope.
type Diff struct {
	Upserts []RawEntry
	Removed []string
}

// ReadFull parses a full envelope into raw entries.
func ReadFull(b []byte) ([]RawEntry, error) {
	mode, err := PeekMode(b)
	if err != nil {
		return nil, err
	}
	if mode != ModeFull {
		return nil, &FormatError{Offset: 0, Reason: "expected full envelope, got diff", Err: ErrFormatMismatch}
	}

	r := NewReader(b[1:])
	entries, err := readEntries(r)
	if err != nil {
		return nil, shift(err, 1)
	}
	if err := expectEOF(r); err != nil {
		return nil, shift(err, 1)
	}
	for i := range entries {
		entries[i].Offset++
	}
	return entries, nil
}

// ReadDiff parses a diff envelope.
func ReadDiff(b []byte) (*Diff, error) {
	mode, err := PeekMode(b)
	if err != nil {
		return nil, err
	}
	if mode != ModeDiff {
		return nil, &FormatError{Offset: 0, Reason: "expected diff envelope, got full", Err: ErrFormatMismatch}
	}

	r := NewReader(b[1:])
	upserts, err := readEntries(r)
	if err != nil {
		return nil, shift(err, 1)
	}
	n, err := r.ReadCount()
	if err != nil {
		return nil, shift(err, 1)
	}
	removed := make([]string, 0, min(n, r.Remaining()/int32Bytes))
	for i := 0; i < n; i++ {
		k, err := r.ReadString()
		if err != nil {
			return nil, shift(err, 1)
		}
		removed = append(removed, k)
	}
	if err := expectEOF(r); err != nil {
		return nil, shift(err, 1)
	}
	for i := range upserts {
		upserts[i].Offset++
	}
	return &Diff{Upserts: upserts, Removed: removed}, nil
}

// WriteFull serializes raw entries as a full envelope.
func WriteFull(entries []RawEntry) ([]byte, error) {
	w := NewWriter(64)
	_ = w.WriteByte(byte(ModeFull))
	if err := w.WriteCount(len(entries)); err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.WriteString(e.Key); err != nil {
			return nil, err
		}
		if err := w.WriteBlob(e.Value); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// Merge applies a diff envelope to a full envelope and returns the resulting
// full envelope. Upserted keys keep their stored position, new keys are appended
// in diff order, and removed keys are dropped. Encode never names the same key
// in both sections.
func Merge(full, diff []byte) ([]byte, error) {
	base, err := ReadFull(full)
	if err != nil {
		return nil, err
	}
	d, err := ReadDiff(diff)
	if err != nil {
		return nil, err
	}
	return WriteFull(Apply(base, d))
}

// Apply applies d to base without re-encoding. base is not modified.
func Apply(base []RawEntry, d *Diff) []RawEntry {
	out := slices.Clone(base)
	index := make(map[string]int, len(out))
	for i, e := range out {
		index[e.Key] = i
	}

	for _, u := range d.Upserts {
		if i, ok := index[u.Key]; ok {
			out[i].Value = u.Value
			continue
		}
		index[u.Key] = len(out)
		out = append(out, u)
	}

	if len(d.Removed) == 0 {
		return out
	}
	gone := make(map[string]struct{}, len(d.Removed))
	for _, k := range d.Removed {
		gone[k] = struct{}{}
	}
	return slices.DeleteFunc(out, func(e RawEntry) bool {
		_, ok := gone[e.Key]
		return ok
	})
}

func readEntries(r *Reader) ([]RawEntry, error) {
	n, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	// Each entry holds at least two length prefixes.
	entries := make([]RawEntry, 0, min(n, r.Remaining()/(2*int32Bytes)))
	for i := 0; i < n; i++ {
		off := r.Offset()
		k, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := r.ReadBlob()
		if err != nil {
			return nil, err
		}
		entries = append(entries, RawEntry{Key: k, Value: v, Offset: off})
	}
	return entries, nil
}

func expectEOF(r *Reader) error {
	if r.Remaining() != 0 {
		return &FormatError{Offset: r.Offset(), Reason: fmt.Sprintf("%d trailing bytes", r.Remaining())}
	}
	return nil
}

// shift rebases a FormatError offset from a sub-reader to the whole envelope.
func shift(err error, by int) error {
	if fe, ok := err.(*FormatError); ok {
		fe.Offset += by
	}
	return err
}
