package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/sessionstate/internal/envelope"
	"github.com/roach88/sessionstate/internal/session"
)

const (
	recordVersion byte = 1

	flagLocked byte = 1 << 0
)

// marshalEntry encodes an entry as a binary value for key-value backends.
//
//	version byte | flags byte | timeout int32 | expiresAt int64
//	[owner 16 bytes | token int64 | since int64]   when flagLocked
//	staticObjects nullable blob | attributes nullable blob
//
// Times are unix nanoseconds; a zero expiresAt never expires. A nullable
// blob with length -1 is nil.
func marshalEntry(e *entry) ([]byte, error) {
	rec := e.rec
	w := envelope.NewWriter(32 + len(rec.Attributes) + len(rec.StaticObjects))

	_ = w.WriteByte(recordVersion)
	var flags byte
	if rec.Locked() {
		flags |= flagLocked
	}
	_ = w.WriteByte(flags)

	if err := w.WriteCount(rec.Timeout); err != nil {
		return nil, fmt.Errorf("marshal timeout: %w", err)
	}
	w.WriteInt64(unixNano(e.expiresAt))

	if l := rec.Lock; l != nil {
		w.WriteRaw(l.Owner[:])
		w.WriteInt64(l.Token)
		w.WriteInt64(l.Since.UnixNano())
	}

	if err := writeNullable(w, rec.StaticObjects); err != nil {
		return nil, fmt.Errorf("marshal static objects: %w", err)
	}
	if err := writeNullable(w, rec.Attributes); err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return w.Bytes(), nil
}

// unmarshalEntry decodes a value written by marshalEntry.
func unmarshalEntry(b []byte) (*entry, error) {
	r := envelope.NewReader(b)

	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersion {
		return nil, fmt.Errorf("unsupported record version %d", version)
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	timeout, err := r.ReadCount()
	if err != nil {
		return nil, err
	}
	expires, err := r.ReadInt64()
	if err != nil {
		return nil, err
	}

	e := &entry{rec: &session.Record{Timeout: timeout}}
	if expires != 0 {
		e.expiresAt = time.Unix(0, expires).UTC()
	}

	if flags&flagLocked != 0 {
		raw, err := r.ReadRaw(16)
		if err != nil {
			return nil, err
		}
		owner, err := uuid.FromBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("lock owner: %w", err)
		}
		token, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		since, err := r.ReadInt64()
		if err != nil {
			return nil, err
		}
		e.rec.Lock = &session.Lock{Owner: owner, Token: token, Since: time.Unix(0, since).UTC()}
	}

	if e.rec.StaticObjects, err = readNullable(r); err != nil {
		return nil, err
	}
	if e.rec.Attributes, err = readNullable(r); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, &envelope.FormatError{Offset: r.Offset(), Reason: fmt.Sprintf("%d trailing bytes after record", r.Remaining())}
	}
	return e, nil
}

func writeNullable(w *envelope.Writer, b []byte) error {
	if b == nil {
		w.WriteInt32(-1)
		return nil
	}
	return w.WriteBlob(b)
}

func readNullable(r *envelope.Reader) ([]byte, error) {
	n, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	if n < 0 {
		return nil, &envelope.FormatError{Offset: r.Offset() - 4, Reason: fmt.Sprintf("negative length %d", n)}
	}
	return r.ReadRaw(int(n))
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
